package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/mrmushfiq/llm0-router/internal/routing"
	"github.com/mrmushfiq/llm0-router/internal/shared/models"
	"github.com/mrmushfiq/llm0-router/internal/usage"
)

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Usage and cost reports",
	}
	cmd.PersistentFlags().StringP("user", "u", "", "User to report on")
	_ = cmd.MarkPersistentFlagRequired("user")

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Requests, tokens and cost per tier",
		Args:  cobra.NoArgs,
		RunE:  runUsageSummary,
	}
	summary.Flags().StringP("period", "p", "day", "Period (day, week, month)")
	summary.Flags().BoolP("json", "j", false, "Output as JSON")

	daily := &cobra.Command{
		Use:   "daily",
		Short: "Cost per calendar day",
		Example: `
# Last two weeks as a chart
routerctl usage daily --user u1 --days 14 --chart
`,
		Args: cobra.NoArgs,
		RunE: runUsageDaily,
	}
	daily.Flags().IntP("days", "d", 7, "Number of days (1-90)")
	daily.Flags().Bool("chart", false, "Plot the daily totals")

	cmd.AddCommand(summary, daily)
	return cmd
}

func openTracker(cmd *cobra.Command) (*usage.Tracker, func(), error) {
	loc, err := location(cmd)
	if err != nil {
		return nil, nil, err
	}
	catalog, err := loadCatalog(cmd)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDatabase(cmd.Context(), cmd)
	if err != nil {
		return nil, nil, err
	}

	configs := routing.NewConfigService(db, catalog)
	tracker := usage.NewTracker(db, configs, usage.WithLocation(loc))
	return tracker, func() { db.Close() }, nil
}

func runUsageSummary(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	rawPeriod, _ := cmd.Flags().GetString("period")
	asJSON, _ := cmd.Flags().GetBool("json")

	period, err := usage.ParsePeriod(rawPeriod)
	if err != nil {
		return err
	}

	tracker, cleanup, err := openTracker(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := tracker.GetUsageSummary(cmd.Context(), userID, period)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	}

	fmt.Fprintf(out, "Usage for %s (%s)\n\n", userID, period)
	fmt.Fprintf(out, "%-10s %8s %12s %12s %12s\n", "TIER", "REQUESTS", "INPUT", "OUTPUT", "COST USD")
	for _, tier := range models.AllTiers {
		u, ok := summary.ByTier[tier]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%-10s %8d %12d %12d %12.6f\n", tier, u.Requests, u.InputTokens, u.OutputTokens, u.Cost)
	}
	fmt.Fprintf(out, "%-10s %8d %12d %12d %12.6f\n", "total",
		summary.Totals.Requests, summary.Totals.InputTokens, summary.Totals.OutputTokens, summary.Totals.Cost)
	return nil
}

func runUsageDaily(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	days, _ := cmd.Flags().GetInt("days")
	chart, _ := cmd.Flags().GetBool("chart")

	if days < 1 || days > usage.MaxDailyCostDays {
		return fmt.Errorf("--days must be between 1 and %d", usage.MaxDailyCostDays)
	}

	tracker, cleanup, err := openTracker(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	costs, err := tracker.GetDailyCosts(cmd.Context(), userID, days)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if chart {
		fmt.Fprintln(out, renderDailyChart(costs))
		return nil
	}
	writeDailyTable(out, costs)
	return nil
}

func writeDailyTable(w io.Writer, costs []usage.DailyCost) {
	fmt.Fprintf(w, "%-10s %10s %10s %10s %10s\n", "DATE", "CHEAP", "BALANCED", "CAPABLE", "TOTAL")
	for _, c := range costs {
		fmt.Fprintf(w, "%-10s %10.4f %10.4f %10.4f %10.4f\n", c.Date, c.Cheap, c.Balanced, c.Capable, c.Total)
	}
}

// renderDailyChart plots daily totals, oldest on the left
func renderDailyChart(costs []usage.DailyCost) string {
	if len(costs) == 0 {
		return "No data available"
	}

	data := make([]float64, len(costs))
	for i, c := range costs {
		data[i] = c.Total
	}
	// asciigraph needs two points to draw a line
	if len(data) == 1 {
		data = append(data, data[0])
	}

	caption := fmt.Sprintf("Daily cost USD, %s to %s", costs[0].Date, costs[len(costs)-1].Date)
	return asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Caption(caption),
	)
}
