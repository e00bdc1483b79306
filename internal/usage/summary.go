package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

// Period is a rolling reporting window ending now
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod accepts day, week or month. Empty means day.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "":
		return PeriodDay, nil
	case PeriodDay, PeriodWeek, PeriodMonth:
		return Period(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
}

// Duration returns the length of the window
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Days returns the number of calendar days the period covers
func (p Period) Days() int {
	return int(p.Duration() / (24 * time.Hour))
}

// TierUsage aggregates the events of one tier
type TierUsage struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// TaskUsage aggregates the events of one task type
type TaskUsage struct {
	Requests int     `json:"requests"`
	Cost     float64 `json:"cost"`
}

// Totals aggregates every event in a summary
type Totals struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	AvgLatencyMs int     `json:"avg_latency_ms"`
}

// Summary is the usage of one user over a period
type Summary struct {
	Period Period                     `json:"period"`
	Start  time.Time                  `json:"start"`
	End    time.Time                  `json:"end"`
	ByTier map[models.Tier]*TierUsage `json:"by_tier"`
	ByTask map[string]*TaskUsage      `json:"by_task"`
	Totals Totals                     `json:"totals"`
}

// DailyCost is the spend of one calendar day split by tier
type DailyCost struct {
	Date     string  `json:"date"`
	Cheap    float64 `json:"cheap"`
	Balanced float64 `json:"balanced"`
	Capable  float64 `json:"capable"`
	Total    float64 `json:"total"`
}

// CostBreakdown is the current period's cost with a month projection
type CostBreakdown struct {
	Period         Period      `json:"period"`
	CurrentPeriod  float64     `json:"current_period"`
	ProjectedMonth float64     `json:"projected_month"`
	ByDay          []DailyCost `json:"by_day"`
}

// TaskCost is one row of the task breakdown
type TaskCost struct {
	TaskType     string      `json:"task_type"`
	Requests     int         `json:"requests"`
	Cost         float64     `json:"cost"`
	AvgLatencyMs int         `json:"avg_latency_ms"`
	PrimaryTier  models.Tier `json:"primary_tier"`
}

// HistoryPage is one page of the usage ledger, newest first
type HistoryPage struct {
	Items  []models.UsageEvent `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

const unknownTask = "unknown"

// MaxDailyCostDays bounds GetDailyCosts
const MaxDailyCostDays = 90

// GetUsageSummary aggregates the user's events over the rolling period
func (t *Tracker) GetUsageSummary(ctx context.Context, userID string, period Period) (*Summary, error) {
	if _, err := ParsePeriod(string(period)); err != nil {
		return nil, err
	}

	end := t.now().UTC()
	start := end.Add(-period.Duration())
	events, err := t.ledger.ListUsageSince(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	s := &Summary{
		Period: period,
		Start:  start,
		End:    end,
		ByTier: make(map[models.Tier]*TierUsage),
		ByTask: make(map[string]*TaskUsage),
	}

	var latencySum, latencyCount int
	for _, e := range events {
		cost := e.Cost()

		tu, ok := s.ByTier[e.Tier]
		if !ok {
			tu = &TierUsage{}
			s.ByTier[e.Tier] = tu
		}
		tu.Requests++
		tu.InputTokens += e.InputTokens
		tu.OutputTokens += e.OutputTokens
		tu.Cost += cost

		task := e.TaskType
		if task == "" {
			task = unknownTask
		}
		ku, ok := s.ByTask[task]
		if !ok {
			ku = &TaskUsage{}
			s.ByTask[task] = ku
		}
		ku.Requests++
		ku.Cost += cost

		s.Totals.Requests++
		s.Totals.InputTokens += e.InputTokens
		s.Totals.OutputTokens += e.OutputTokens
		s.Totals.Cost += cost

		if e.LatencyMs > 0 {
			latencySum += e.LatencyMs
			latencyCount++
		}
	}
	if latencyCount > 0 {
		s.Totals.AvgLatencyMs = latencySum / latencyCount
	}
	return s, nil
}

// GetDailyCosts returns one entry per calendar day for the last days days,
// oldest first, including today. Days without usage are zero.
func (t *Tracker) GetDailyCosts(ctx context.Context, userID string, days int) ([]DailyCost, error) {
	if days < 1 || days > MaxDailyCostDays {
		return nil, fmt.Errorf("days must be between 1 and %d, got %d", MaxDailyCostDays, days)
	}

	first := t.startOfDay().AddDate(0, 0, -(days - 1))
	events, err := t.ledger.ListUsageSince(ctx, userID, first)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	out := make([]DailyCost, days)
	index := make(map[string]int, days)
	for i := range out {
		date := first.AddDate(0, 0, i).Format(time.DateOnly)
		out[i].Date = date
		index[date] = i
	}

	for _, e := range events {
		i, ok := index[e.CreatedAt.In(t.location).Format(time.DateOnly)]
		if !ok {
			continue
		}
		cost := e.Cost()
		switch e.Tier {
		case models.TierCheap:
			out[i].Cheap += cost
		case models.TierBalanced:
			out[i].Balanced += cost
		case models.TierCapable:
			out[i].Capable += cost
		}
		out[i].Total += cost
	}
	return out, nil
}

// GetCostBreakdown returns the period cost and a 30-day projection from the
// mean daily spend over the period's calendar days
func (t *Tracker) GetCostBreakdown(ctx context.Context, userID string, period Period) (*CostBreakdown, error) {
	summary, err := t.GetUsageSummary(ctx, userID, period)
	if err != nil {
		return nil, err
	}
	daily, err := t.GetDailyCosts(ctx, userID, period.Days())
	if err != nil {
		return nil, err
	}

	var total float64
	for _, d := range daily {
		total += d.Total
	}

	return &CostBreakdown{
		Period:         period,
		CurrentPeriod:  summary.Totals.Cost,
		ProjectedMonth: total / float64(len(daily)) * 30,
		ByDay:          daily,
	}, nil
}

// GetTaskBreakdown groups the period's events by task type, most expensive
// first. Each event is priced at its own tier.
func (t *Tracker) GetTaskBreakdown(ctx context.Context, userID string, period Period) ([]TaskCost, error) {
	if _, err := ParsePeriod(string(period)); err != nil {
		return nil, err
	}

	events, err := t.ledger.ListUsageSince(ctx, userID, t.now().UTC().Add(-period.Duration()))
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	type acc struct {
		row          TaskCost
		latencySum   int
		latencyCount int
		tierCounts   map[models.Tier]int
	}
	byTask := make(map[string]*acc)
	for _, e := range events {
		task := e.TaskType
		if task == "" {
			task = unknownTask
		}
		a, ok := byTask[task]
		if !ok {
			a = &acc{row: TaskCost{TaskType: task}, tierCounts: make(map[models.Tier]int)}
			byTask[task] = a
		}
		a.row.Requests++
		a.row.Cost += e.Cost()
		a.tierCounts[e.Tier]++
		if e.LatencyMs > 0 {
			a.latencySum += e.LatencyMs
			a.latencyCount++
		}
	}

	out := make([]TaskCost, 0, len(byTask))
	for _, a := range byTask {
		if a.latencyCount > 0 {
			a.row.AvgLatencyMs = a.latencySum / a.latencyCount
		}
		for _, tier := range models.AllTiers {
			if n := a.tierCounts[tier]; n > a.tierCounts[a.row.PrimaryTier] {
				a.row.PrimaryTier = tier
			}
		}
		out = append(out, a.row)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].TaskType < out[j].TaskType
	})
	return out, nil
}

// GetHistory returns a page of the ledger, optionally filtered by tier
func (t *Tracker) GetHistory(ctx context.Context, userID string, tier models.Tier, limit, offset int) (*HistoryPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := t.ledger.ListUsageHistory(ctx, userID, tier, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list usage history: %w", err)
	}
	if items == nil {
		items = []models.UsageEvent{}
	}
	return &HistoryPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}
