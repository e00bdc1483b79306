package routing

import (
	"context"
	"fmt"

	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
	"github.com/mrmushfiq/llm0-router/internal/shared/models"
	"github.com/mrmushfiq/llm0-router/internal/usage"
)

// InvokeRequest asks for one completion at a tier
type InvokeRequest struct {
	Tier    models.Tier
	Prompt  string
	History []models.Message
}

// Completion is a model response with its token usage
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	LatencyMs    int
	Model        string
}

// Invoker calls a language model. Retries and failover belong to the
// implementation.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*Completion, error)
}

// Recorder writes one usage event per invocation
type Recorder interface {
	RecordUsage(ctx context.Context, r usage.Record) (*models.UsageEvent, error)
}

// ExecContext carries the request-scoped inputs of a chain run
type ExecContext struct {
	UserID         string
	ConversationID *string
	TaskType       string
	History        []models.Message
	// Config resolves chain names. Nil means the built-in catalog.
	Config *EffectiveConfig
}

// ModelStep is one completed stage of a chain run
type ModelStep struct {
	Tier         models.Tier `json:"tier"`
	Purpose      string      `json:"purpose"`
	Model        string      `json:"model,omitempty"`
	InputTokens  int         `json:"input_tokens"`
	OutputTokens int         `json:"output_tokens"`
	LatencyMs    int         `json:"latency_ms"`
	Cost         float64     `json:"cost"`
}

// ChainResult is the outcome of a chain run. On failure it holds the stages
// completed before the failing one.
type ChainResult struct {
	ChainName      string      `json:"chain_name"`
	Steps          []ModelStep `json:"steps"`
	FinalResponse  string      `json:"final_response"`
	TotalCost      float64     `json:"total_cost"`
	TotalLatencyMs int         `json:"total_latency_ms"`
}

// ChainExecutor runs chains stage by stage
type ChainExecutor struct {
	invoker  Invoker
	recorder Recorder
	prompts  *PromptBuilder
}

// NewChainExecutor creates an executor. A nil prompts uses the built-in
// stage templates.
func NewChainExecutor(invoker Invoker, recorder Recorder, prompts *PromptBuilder) *ChainExecutor {
	if prompts == nil {
		prompts = NewPromptBuilder()
	}
	return &ChainExecutor{invoker: invoker, recorder: recorder, prompts: prompts}
}

// ExecuteChain runs the named chain on input. Each stage's prompt is built
// from the previous stage's output, so stages run strictly in order. Every
// completed stage is recorded as its own usage event. If a stage fails or ctx
// is cancelled, the partial result is returned together with a *StageError.
func (e *ChainExecutor) ExecuteChain(ctx context.Context, chainName, input string, ec ExecContext) (*ChainResult, error) {
	cfg := ec.Config
	if cfg == nil {
		cfg = Merge(DefaultCatalog(), nil)
	}
	def, err := ResolveChain(cfg, chainName)
	if err != nil {
		return nil, err
	}

	result := &ChainResult{ChainName: chainName, Steps: make([]ModelStep, 0, len(def.Steps))}
	sc := StageContext{
		Input:           input,
		OriginalMessage: input,
		Chain:           chainName,
		Outputs:         make(map[string]string, len(def.Steps)),
	}

	for i, step := range def.Steps {
		stageErr := func(err error) *StageError {
			return &StageError{Chain: chainName, Index: i, Purpose: step.Purpose, Tier: step.Tier, Err: err}
		}

		if err := ctx.Err(); err != nil {
			return result, stageErr(err)
		}

		sc.Purpose = step.Purpose
		sc.StepIndex = i
		prompt, err := e.prompts.Build(step.PromptTemplate, sc)
		if err != nil {
			return result, stageErr(err)
		}

		logger.Debug("chain stage started", "chain", chainName, "stage", i+1, "purpose", step.Purpose, "tier", step.Tier)

		completion, err := e.invoker.Invoke(ctx, InvokeRequest{Tier: step.Tier, Prompt: prompt, History: ec.History})
		if err != nil {
			logger.Warn("chain stage failed", "chain", chainName, "stage", i+1, "purpose", step.Purpose, "error", err)
			return result, stageErr(err)
		}

		ms := ModelStep{
			Tier:         step.Tier,
			Purpose:      step.Purpose,
			Model:        completion.Model,
			InputTokens:  completion.InputTokens,
			OutputTokens: completion.OutputTokens,
			LatencyMs:    completion.LatencyMs,
			Cost:         step.Tier.Cost(completion.InputTokens, completion.OutputTokens),
		}
		result.Steps = append(result.Steps, ms)
		result.TotalCost += ms.Cost
		result.TotalLatencyMs += ms.LatencyMs
		result.FinalResponse = completion.Text

		// The cost is incurred even if the caller has gone away.
		if e.recorder != nil {
			_, err := e.recorder.RecordUsage(context.WithoutCancel(ctx), usage.Record{
				UserID:         ec.UserID,
				ConversationID: ec.ConversationID,
				Tier:           step.Tier,
				Model:          completion.Model,
				InputTokens:    completion.InputTokens,
				OutputTokens:   completion.OutputTokens,
				TaskType:       ec.TaskType,
				RoutingReason:  fmt.Sprintf("chain:%s:%s", chainName, step.Purpose),
				LatencyMs:      completion.LatencyMs,
			})
			if err != nil {
				return result, stageErr(fmt.Errorf("record usage: %w", err))
			}
		}

		sc.Input = completion.Text
		sc.Outputs[step.Purpose] = completion.Text
		sc.PreviousStep = &StageOutput{Purpose: step.Purpose, Output: completion.Text}
	}

	logger.Info("chain completed", "chain", chainName, "steps", len(result.Steps), "cost", result.TotalCost, "latency_ms", result.TotalLatencyMs)
	return result, nil
}
