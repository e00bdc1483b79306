// Package dispatch runs a request end to end: budget check, chain or tier
// selection, model invocation and usage recording.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrmushfiq/llm0-router/internal/gateway/cache"
	"github.com/mrmushfiq/llm0-router/internal/routing"
	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
	"github.com/mrmushfiq/llm0-router/internal/shared/models"
	"github.com/mrmushfiq/llm0-router/internal/usage"
)

// ConfigSource returns a user's effective routing config
type ConfigSource interface {
	GetConfig(ctx context.Context, userID string) (*routing.EffectiveConfig, error)
}

// Tracker enforces the daily budget and records usage
type Tracker interface {
	EnforceDailyLimit(ctx context.Context, userID string) error
	RecordUsage(ctx context.Context, r usage.Record) (*models.UsageEvent, error)
}

// Request is one inbound chat request
type Request struct {
	UserID              string           `json:"-"`
	Message             string           `json:"message"`
	TaskType            string           `json:"task_type,omitempty"`
	PendingToolNames    []string         `json:"pending_tool_names,omitempty"`
	ConversationHistory []models.Message `json:"conversation_history,omitempty"`
	ConversationID      *string          `json:"conversation_id,omitempty"`
	ForceTier           models.Tier      `json:"force_tier,omitempty"`
}

func (r Request) routingRequest() routing.Request {
	return routing.Request{
		Message:             r.Message,
		ConversationHistory: r.ConversationHistory,
		PendingToolNames:    r.PendingToolNames,
		TaskType:            r.TaskType,
		ForceTier:           r.ForceTier,
	}
}

// Response is the outcome of a dispatched request
type Response struct {
	Tier          models.Tier          `json:"tier,omitempty"`
	RoutingReason string               `json:"routing_reason"`
	Model         string               `json:"model,omitempty"`
	Response      string               `json:"response"`
	InputTokens   int                  `json:"input_tokens"`
	OutputTokens  int                  `json:"output_tokens"`
	CostUSD       float64              `json:"cost_usd"`
	LatencyMs     int                  `json:"latency_ms"`
	Cached        bool                 `json:"cached"`
	UsageID       string               `json:"usage_id,omitempty"`
	Chain         *routing.ChainResult `json:"chain,omitempty"`
}

// Plan is a routing decision without any invocation
type Plan struct {
	Tier       models.Tier `json:"tier"`
	Reason     string      `json:"reason"`
	Reasoning  string      `json:"reasoning"`
	WouldChain bool        `json:"would_chain"`
	ChainName  string      `json:"chain_name,omitempty"`
	Model      string      `json:"model,omitempty"`
}

// ModelNamer maps a tier to the model that would serve it
type ModelNamer interface {
	ModelFor(tier models.Tier) string
}

// Dispatcher wires routing, execution and accounting together
type Dispatcher struct {
	configs  ConfigSource
	router   *routing.Router
	executor *routing.ChainExecutor
	invoker  routing.Invoker
	tracker  Tracker
	cache    *cache.Cache
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithCache enables the response cache for single-tier requests
func WithCache(c *cache.Cache) Option {
	return func(d *Dispatcher) {
		d.cache = c
	}
}

// WithRouter replaces the default router
func WithRouter(r *routing.Router) Option {
	return func(d *Dispatcher) {
		d.router = r
	}
}

// New creates a dispatcher
func New(configs ConfigSource, invoker routing.Invoker, tracker Tracker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		configs:  configs,
		router:   routing.NewRouter(),
		executor: routing.NewChainExecutor(invoker, tracker, nil),
		invoker:  invoker,
		tracker:  tracker,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Plan returns the tier or chain a request would use. Nothing is invoked or
// recorded.
func (d *Dispatcher) Plan(ctx context.Context, req Request) (*Plan, error) {
	cfg, err := d.configs.GetConfig(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	decision := d.router.Route(cfg, req.routingRequest())
	plan := &Plan{
		Tier:      decision.Tier,
		Reason:    decision.Reason,
		Reasoning: routing.Explain(decision),
	}
	if namer, ok := d.invoker.(ModelNamer); ok {
		plan.Model = namer.ModelFor(decision.Tier)
	}
	if req.ForceTier == "" {
		if name, ok := routing.SelectChain(req.TaskType, cfg); ok {
			plan.WouldChain = true
			plan.ChainName = name
		}
	}
	return plan, nil
}

// Handle dispatches one request. A request over its daily budget fails with
// usage.ErrBudgetExceeded before any model is invoked. A failed chain returns
// the partial response together with a *routing.StageError.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (*Response, error) {
	cfg, err := d.configs.GetConfig(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if err := d.tracker.EnforceDailyLimit(ctx, req.UserID); err != nil {
		return nil, err
	}

	// A forced tier means the caller knows where the request belongs
	if req.ForceTier == "" {
		if name, ok := routing.SelectChain(req.TaskType, cfg); ok {
			return d.handleChain(ctx, cfg, name, req)
		}
	}

	decision := d.router.Route(cfg, req.routingRequest())
	return d.handleSingle(ctx, decision, req)
}

func (d *Dispatcher) handleChain(ctx context.Context, cfg *routing.EffectiveConfig, name string, req Request) (*Response, error) {
	result, err := d.executor.ExecuteChain(ctx, name, req.Message, routing.ExecContext{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		TaskType:       req.TaskType,
		History:        req.ConversationHistory,
		Config:         cfg,
	})
	if result == nil {
		return nil, err
	}

	resp := &Response{
		RoutingReason: "chain:" + name,
		Response:      result.FinalResponse,
		CostUSD:       result.TotalCost,
		LatencyMs:     result.TotalLatencyMs,
		Chain:         result,
	}
	for _, step := range result.Steps {
		resp.InputTokens += step.InputTokens
		resp.OutputTokens += step.OutputTokens
	}
	if n := len(result.Steps); n > 0 {
		resp.Tier = result.Steps[n-1].Tier
		resp.Model = result.Steps[n-1].Model
	}
	return resp, err
}

func (d *Dispatcher) handleSingle(ctx context.Context, decision routing.Decision, req Request) (*Response, error) {
	cacheable := d.cache != nil && len(req.ConversationHistory) == 0
	if cacheable {
		entry, err := d.cache.Get(ctx, req.UserID, decision.Tier, req.Message)
		if err != nil {
			logger.Warn("response cache read failed", "error", err)
		}
		if entry != nil {
			return &Response{
				Tier:          decision.Tier,
				RoutingReason: decision.Reason,
				Model:         entry.Model,
				Response:      entry.Text,
				Cached:        true,
			}, nil
		}
	}

	completion, err := d.invoker.Invoke(ctx, routing.InvokeRequest{
		Tier:    decision.Tier,
		Prompt:  req.Message,
		History: req.ConversationHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s tier: %w", decision.Tier, err)
	}

	event, err := d.tracker.RecordUsage(context.WithoutCancel(ctx), usage.Record{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Tier:           decision.Tier,
		Model:          completion.Model,
		InputTokens:    completion.InputTokens,
		OutputTokens:   completion.OutputTokens,
		TaskType:       req.TaskType,
		RoutingReason:  decision.Reason,
		LatencyMs:      completion.LatencyMs,
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := d.cache.Set(ctx, req.UserID, decision.Tier, req.Message, completion); err != nil {
			logger.Warn("response cache write failed", "error", err)
		}
	}

	return &Response{
		Tier:          decision.Tier,
		RoutingReason: decision.Reason,
		Model:         completion.Model,
		Response:      completion.Text,
		InputTokens:   completion.InputTokens,
		OutputTokens:  completion.OutputTokens,
		CostUSD:       event.Cost(),
		LatencyMs:     completion.LatencyMs,
		UsageID:       event.ID,
	}, nil
}

// IsStageFailure reports whether err came from a chain stage
func IsStageFailure(err error) bool {
	var se *routing.StageError
	return errors.As(err, &se)
}
