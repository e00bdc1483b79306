package providers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/mrmushfiq/llm0-router/internal/routing"
	"github.com/mrmushfiq/llm0-router/internal/shared/config"
	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

// Manager maps tiers to models, models to providers, and handles failover.
// It implements routing.Invoker.
type Manager struct {
	providers  map[string]Provider
	tierModels map[models.Tier]string
	failover   map[models.Tier][]string // tier -> fallback models, in order
}

// NewManager creates a provider manager from the process config
func NewManager(cfg *config.Config) *Manager {
	m := NewManagerWithProviders(map[models.Tier]string{
		models.TierCheap:    cfg.CheapModel,
		models.TierBalanced: cfg.BalancedModel,
		models.TierCapable:  cfg.CapableModel,
	})

	// Initialize providers based on available API keys
	if cfg.OpenAIAPIKey != "" {
		m.Register(NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL))
	}
	if cfg.AnthropicAPIKey != "" {
		m.Register(NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL))
	}
	return m
}

// NewManagerWithProviders creates a manager with no providers registered
func NewManagerWithProviders(tierModels map[models.Tier]string, providers ...Provider) *Manager {
	m := &Manager{
		providers:  make(map[string]Provider),
		tierModels: tierModels,
		failover: map[models.Tier][]string{
			models.TierCheap:    {"claude-3-5-haiku-20241022", "gpt-4o-mini"},
			models.TierBalanced: {"claude-sonnet-4-20250514", "gpt-4o"},
			models.TierCapable:  {"claude-opus-4-20250514", "gpt-4.1"},
		},
	}
	for _, p := range providers {
		m.Register(p)
	}
	return m
}

// Register adds or replaces a provider under its name
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// SetFailover replaces the fallback models for a tier
func (m *Manager) SetFailover(tier models.Tier, fallbacks []string) {
	m.failover[tier] = fallbacks
}

// ModelFor returns the primary model of a tier
func (m *Manager) ModelFor(tier models.Tier) string {
	return m.tierModels[tier]
}

// Providers returns the names of the configured providers
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetProvider returns the provider for a given model
func (m *Manager) GetProvider(model string) (Provider, error) {
	providerName := detectProvider(model)
	if providerName == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, model)
	}

	provider, ok := m.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s (check %s API key)", ErrNoProvider, model, providerName)
	}
	return provider, nil
}

// detectProvider determines which provider a model belongs to
func detectProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	}
	return ""
}

// candidates returns the primary model of tier followed by the configured
// fallbacks, skipping duplicates and models without a provider
func (m *Manager) candidates(tier models.Tier) []string {
	var out []string
	for _, model := range append([]string{m.tierModels[tier]}, m.failover[tier]...) {
		if model == "" || slices.Contains(out, model) {
			continue
		}
		if _, ok := m.providers[detectProvider(model)]; !ok {
			continue
		}
		out = append(out, model)
	}
	return out
}

// Invoke runs one completion at tier. Retryable failures (429, 5xx,
// timeouts) move on to the next fallback model.
func (m *Manager) Invoke(ctx context.Context, req routing.InvokeRequest) (*routing.Completion, error) {
	chain := m.candidates(req.Tier)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: tier %s", ErrNoProvider, req.Tier)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, msg := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	start := time.Now()
	var lastErr error
	for i, model := range chain {
		provider, err := m.GetProvider(model)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := provider.ChatCompletion(ctx, ChatRequest{Model: model, Messages: messages})
		if err == nil {
			if i > 0 {
				logger.Warn("provider failover used", "tier", req.Tier, "primary", chain[0], "served_by", model)
			}
			servedBy := resp.Model
			if servedBy == "" {
				servedBy = model
			}
			return &routing.Completion{
				Text:         resp.Content,
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				LatencyMs:    int(time.Since(start).Milliseconds()),
				Model:        servedBy,
			}, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryableError(err) {
			return nil, err
		}
		logger.Warn("provider call failed, trying fallback", "tier", req.Tier, "model", model, "error", err)
	}

	return nil, fmt.Errorf("all providers failed for tier %s: %w", req.Tier, lastErr)
}

// Ping reports whether at least one provider is configured
func (m *Manager) Ping() error {
	if len(m.providers) == 0 {
		return errors.New("no providers configured")
	}
	return nil
}
