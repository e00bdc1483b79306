// Package usage records model invocations and derives cost analytics and
// daily budget checks from the usage ledger.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

// Ledger is the append-only store of usage events
type Ledger interface {
	AppendUsage(ctx context.Context, event *models.UsageEvent) error
	ListUsageSince(ctx context.Context, userID string, since time.Time) ([]models.UsageEvent, error)
	ListUsageHistory(ctx context.Context, userID string, tier models.Tier, limit, offset int) ([]models.UsageEvent, int, error)
}

// LimitProvider returns a user's daily cost limit. A nil limit means unlimited.
type LimitProvider interface {
	DailyCostLimit(ctx context.Context, userID string) (*float64, error)
}

// Record describes one model invocation to be written to the ledger
type Record struct {
	UserID         string
	ConversationID *string
	Tier           models.Tier
	Model          string
	InputTokens    int
	OutputTokens   int
	TaskType       string
	RoutingReason  string
	LatencyMs      int
}

// Tracker writes usage events and answers budget and summary queries. It
// keeps no counters of its own, so concurrent writers never race.
type Tracker struct {
	ledger   Ledger
	limits   LimitProvider
	location *time.Location
	now      func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithLocation sets the timezone that defines a calendar day
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.location = loc
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker. Calendar days default to UTC.
func NewTracker(ledger Ledger, limits LimitProvider, opts ...Option) *Tracker {
	t := &Tracker{
		ledger:   ledger,
		limits:   limits,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Location returns the timezone used for calendar days
func (t *Tracker) Location() *time.Location {
	return t.location
}

// RecordUsage appends one usage event to the ledger
func (t *Tracker) RecordUsage(ctx context.Context, r Record) (*models.UsageEvent, error) {
	if !r.Tier.Valid() {
		return nil, fmt.Errorf("record usage: invalid tier %q", r.Tier)
	}
	if r.InputTokens < 0 || r.OutputTokens < 0 {
		return nil, fmt.Errorf("record usage: negative token count")
	}

	event := &models.UsageEvent{
		ID:             uuid.NewString(),
		UserID:         r.UserID,
		ConversationID: r.ConversationID,
		Tier:           r.Tier,
		Model:          r.Model,
		InputTokens:    r.InputTokens,
		OutputTokens:   r.OutputTokens,
		TaskType:       r.TaskType,
		RoutingReason:  r.RoutingReason,
		LatencyMs:      r.LatencyMs,
		CreatedAt:      t.now().UTC(),
	}

	if err := t.ledger.AppendUsage(ctx, event); err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	return event, nil
}

// startOfDay returns midnight of the current calendar day
func (t *Tracker) startOfDay() time.Time {
	now := t.now().In(t.location)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.location)
}

// SpentToday returns the user's cost since midnight
func (t *Tracker) SpentToday(ctx context.Context, userID string) (float64, error) {
	events, err := t.ledger.ListUsageSince(ctx, userID, t.startOfDay())
	if err != nil {
		return 0, fmt.Errorf("list today's usage: %w", err)
	}
	var total float64
	for _, e := range events {
		total += e.Cost()
	}
	return total, nil
}

// CheckDailyLimit reports whether the user is still under their daily limit.
// With no limit set it always reports within. The check is not atomic with
// the spend that follows, so concurrent requests can overshoot the limit.
func (t *Tracker) CheckDailyLimit(ctx context.Context, userID string) (bool, float64, *float64, error) {
	limit, err := t.limits.DailyCostLimit(ctx, userID)
	if err != nil {
		return false, 0, nil, err
	}

	current, err := t.SpentToday(ctx, userID)
	if err != nil {
		return false, 0, limit, err
	}

	if limit == nil {
		return true, current, nil, nil
	}
	return current < *limit, current, limit, nil
}

// EnforceDailyLimit returns a *BudgetError when the user is over their limit
func (t *Tracker) EnforceDailyLimit(ctx context.Context, userID string) error {
	within, current, limit, err := t.CheckDailyLimit(ctx, userID)
	if err != nil {
		return err
	}
	if !within {
		logger.Warn("daily cost limit reached", "user_id", userID, "spent", current, "limit", *limit)
		return &BudgetError{CurrentCost: current, Limit: *limit}
	}
	return nil
}
