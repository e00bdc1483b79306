package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

func seed(t *testing.T, l *memLedger, at time.Time, tier models.Tier, in, out int, task string, latency int) {
	t.Helper()
	l.events = append(l.events, models.UsageEvent{
		ID:           at.String() + string(tier),
		UserID:       "u1",
		Tier:         tier,
		InputTokens:  in,
		OutputTokens: out,
		TaskType:     task,
		LatencyMs:    latency,
		CreatedAt:    at,
	})
}

func TestParsePeriod(t *testing.T) {
	for _, in := range []string{"", "day", "week", "month"} {
		_, err := ParsePeriod(in)
		assert.NoError(t, err, in)
	}
	_, err := ParsePeriod("year")
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	assert.Equal(t, 1, PeriodDay.Days())
	assert.Equal(t, 7, PeriodWeek.Days())
	assert.Equal(t, 30, PeriodMonth.Days())
}

func TestGetUsageSummary(t *testing.T) {
	tracker, ledger, c := newTracker(nil)
	now := c.Now()

	seed(t, ledger, now.Add(-1*time.Hour), models.TierCheap, 1000, 1000, "greeting", 100)
	seed(t, ledger, now.Add(-2*time.Hour), models.TierCapable, 1000, 1000, "weekly_review", 0)
	seed(t, ledger, now.Add(-3*time.Hour), models.TierCapable, 2000, 0, "", 300)
	seed(t, ledger, now.Add(-3*24*time.Hour), models.TierBalanced, 1000, 0, "email_draft", 500)

	s, err := tracker.GetUsageSummary(context.Background(), "u1", PeriodDay)
	require.NoError(t, err)

	assert.Equal(t, 3, s.Totals.Requests)
	assert.Equal(t, 4000, s.Totals.InputTokens)
	assert.Equal(t, 2000, s.Totals.OutputTokens)
	assert.InDelta(t, 0.0015+0.09+0.03, s.Totals.Cost, 1e-12)
	assert.Equal(t, 200, s.Totals.AvgLatencyMs)

	require.Contains(t, s.ByTier, models.TierCapable)
	assert.Equal(t, 2, s.ByTier[models.TierCapable].Requests)
	assert.NotContains(t, s.ByTier, models.TierBalanced)
	assert.Equal(t, 1, s.ByTask["unknown"].Requests)

	s, err = tracker.GetUsageSummary(context.Background(), "u1", PeriodWeek)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Totals.Requests)
	assert.Equal(t, now.Add(-7*24*time.Hour), s.Start)

	_, err = tracker.GetUsageSummary(context.Background(), "u1", Period("year"))
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestGetDailyCosts(t *testing.T) {
	tracker, ledger, c := newTracker(nil)
	now := c.Now() // 2026-03-10 15:00 UTC

	seed(t, ledger, now, models.TierCheap, 1000, 0, "", 0)
	seed(t, ledger, now.Add(-time.Hour), models.TierCapable, 1000, 0, "", 0)
	seed(t, ledger, now.AddDate(0, 0, -2), models.TierBalanced, 1000, 0, "", 0)
	seed(t, ledger, now.AddDate(0, 0, -10), models.TierBalanced, 1000, 0, "", 0)

	days, err := tracker.GetDailyCosts(context.Background(), "u1", 3)
	require.NoError(t, err)
	require.Len(t, days, 3)

	assert.Equal(t, "2026-03-08", days[0].Date)
	assert.InDelta(t, 0.003, days[0].Balanced, 1e-12)
	assert.Equal(t, "2026-03-09", days[1].Date)
	assert.Zero(t, days[1].Total)
	assert.Equal(t, "2026-03-10", days[2].Date)
	assert.InDelta(t, 0.00025, days[2].Cheap, 1e-12)
	assert.InDelta(t, 0.015, days[2].Capable, 1e-12)
	assert.InDelta(t, 0.01525, days[2].Total, 1e-12)

	_, err = tracker.GetDailyCosts(context.Background(), "u1", 0)
	assert.Error(t, err)
	_, err = tracker.GetDailyCosts(context.Background(), "u1", 91)
	assert.Error(t, err)
}

func TestGetCostBreakdown(t *testing.T) {
	tracker, ledger, c := newTracker(nil)
	now := c.Now()

	seed(t, ledger, now.Add(-time.Hour), models.TierCapable, 10000, 0, "", 0)  // 0.15
	seed(t, ledger, now.AddDate(0, 0, -3), models.TierCapable, 4000, 0, "", 0) // 0.06

	b, err := tracker.GetCostBreakdown(context.Background(), "u1", PeriodWeek)
	require.NoError(t, err)
	assert.InDelta(t, 0.21, b.CurrentPeriod, 1e-12)
	assert.Len(t, b.ByDay, 7)
	assert.InDelta(t, 0.21/7*30, b.ProjectedMonth, 1e-9)
}

func TestGetTaskBreakdown(t *testing.T) {
	tracker, ledger, c := newTracker(nil)
	now := c.Now()

	seed(t, ledger, now.Add(-time.Hour), models.TierCheap, 1000, 0, "greeting", 100)
	seed(t, ledger, now.Add(-time.Hour), models.TierCheap, 1000, 0, "greeting", 300)
	seed(t, ledger, now.Add(-time.Hour), models.TierCapable, 1000, 0, "weekly_review", 0)
	seed(t, ledger, now.Add(-2*time.Hour), models.TierBalanced, 1000, 0, "weekly_review", 1000)

	rows, err := tracker.GetTaskBreakdown(context.Background(), "u1", PeriodDay)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "weekly_review", rows[0].TaskType)
	assert.InDelta(t, 0.018, rows[0].Cost, 1e-12)
	assert.Equal(t, 1000, rows[0].AvgLatencyMs)
	assert.Equal(t, models.TierBalanced, rows[0].PrimaryTier)

	assert.Equal(t, "greeting", rows[1].TaskType)
	assert.Equal(t, 2, rows[1].Requests)
	assert.Equal(t, 200, rows[1].AvgLatencyMs)
	assert.Equal(t, models.TierCheap, rows[1].PrimaryTier)
}

func TestGetHistory(t *testing.T) {
	tracker, ledger, c := newTracker(nil)
	now := c.Now()
	for i := 0; i < 5; i++ {
		seed(t, ledger, now.Add(-time.Duration(i)*time.Minute), models.TierCheap, i, 0, "", 0)
	}
	seed(t, ledger, now.Add(-time.Hour), models.TierCapable, 1, 0, "", 0)

	page, err := tracker.GetHistory(context.Background(), "u1", "", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 1, page.Items[0].InputTokens)

	page, err = tracker.GetHistory(context.Background(), "u1", models.TierCapable, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, page.Limit)
	assert.Equal(t, 1, page.Total)

	page, err = tracker.GetHistory(context.Background(), "u1", models.TierBalanced, 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}
