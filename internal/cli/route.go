package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrmushfiq/llm0-router/internal/gateway/dispatch"
	"github.com/mrmushfiq/llm0-router/internal/routing"
	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

func newRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route <message>",
		Short: "Show how a message would be routed",
		Long:  "Dry-run a routing decision against a user's stored settings. No model is invoked and no usage is recorded.",
		Example: `
# Route a message for a user
routerctl route --user u1 "what's on my calendar today?"

# Route with a task type and pending tools
routerctl route --user u1 --task meeting_summary --tools transcribe_audio "summarize this"
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			taskType, _ := cmd.Flags().GetString("task")
			tools, _ := cmd.Flags().GetStringSlice("tools")
			forceTier, _ := cmd.Flags().GetString("force-tier")
			asJSON, _ := cmd.Flags().GetBool("json")

			req := dispatch.Request{
				UserID:           userID,
				Message:          args[0],
				TaskType:         taskType,
				PendingToolNames: tools,
			}
			if forceTier != "" {
				tier, err := models.ParseTier(forceTier)
				if err != nil {
					return err
				}
				req.ForceTier = tier
			}

			ctx := cmd.Context()
			db, err := openDatabase(ctx, cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			catalog, err := loadCatalog(cmd)
			if err != nil {
				return err
			}

			configs := routing.NewConfigService(db, catalog)
			plan, err := dispatch.New(configs, nil, nil).Plan(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(plan)
			}

			fmt.Fprintf(out, "Tier:      %s\n", plan.Tier)
			fmt.Fprintf(out, "Reason:    %s\n", plan.Reason)
			fmt.Fprintf(out, "Reasoning: %s\n", plan.Reasoning)
			if plan.WouldChain {
				fmt.Fprintf(out, "Chain:     %s\n", plan.ChainName)
			}
			if len(tools) > 0 {
				fmt.Fprintf(out, "Tools:     %s\n", strings.Join(tools, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringP("user", "u", "", "User whose settings apply")
	cmd.Flags().StringP("task", "t", "", "Task type")
	cmd.Flags().StringSlice("tools", nil, "Pending tool names")
	cmd.Flags().String("force-tier", "", "Force a tier (cheap, balanced, capable)")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
