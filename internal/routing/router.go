package routing

import (
	"strings"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

// Request is the input to a routing decision
type Request struct {
	Message             string           `json:"message"`
	ConversationHistory []models.Message `json:"conversation_history,omitempty"`
	PendingToolNames    []string         `json:"pending_tool_names,omitempty"`
	TaskType            string           `json:"task_type,omitempty"`
	// ForceTier bypasses every other rule when set
	ForceTier models.Tier `json:"force_tier,omitempty"`
}

// Decision is the chosen tier and a short reason for the audit log
type Decision struct {
	Tier   models.Tier `json:"tier"`
	Reason string      `json:"reason"`
}

// Routing reasons
const (
	ReasonForced         = "forced"
	ReasonCapablePattern = "pattern:capable"
	ReasonCheapPattern   = "pattern:cheap"
	ReasonEscalation     = "escalation"
	ReasonDefault        = "default"
	ReasonBiasFallback   = "bias_fallback"
)

const escalationWindow = 4

var defaultEscalationTriggers = []string{
	`not sure`,
	`it'?s complicated`,
	`there'?s a conflict`,
	`multiple options`,
	`what would you recommend`,
	`this is important`,
	`high priority`,
	`urgent`,
	`trade.?offs?`,
}

// Tasks that keep the capable tier even when the user prefers speed
var speedCritical = map[string]bool{
	TaskScheduleOptimization: true,
	TaskDecisionSupport:      true,
	TaskMeetingSummary:       true,
}

// Tasks promoted from balanced to capable when the user prefers quality
var qualityUpgrades = map[string]bool{
	TaskEmailDraft:    true,
	TaskNoteCreate:    true,
	TaskDailyBriefing: true,
}

// Router picks a tier for a request. It holds no per-request state and is
// safe for concurrent use.
type Router struct {
	escalation Classifier
}

// NewRouter creates a router with the built-in escalation triggers
func NewRouter() *Router {
	c, err := NewRegexClassifier(defaultEscalationTriggers)
	if err != nil {
		panic(err)
	}
	return &Router{escalation: c}
}

// NewRouterWithEscalation creates a router that escalates on the given
// classifier instead of the built-in triggers
func NewRouterWithEscalation(escalation Classifier) *Router {
	return &Router{escalation: escalation}
}

// SelectTier returns only the tier of Route
func (r *Router) SelectTier(cfg *EffectiveConfig, req Request) models.Tier {
	return r.Route(cfg, req).Tier
}

// Route decides which tier handles req. It never fails: the config's default
// tier is the final fallback.
func (r *Router) Route(cfg *EffectiveConfig, req Request) Decision {
	if req.ForceTier != "" {
		return Decision{Tier: req.ForceTier, Reason: ReasonForced}
	}

	if !cfg.PreferSpeed && !cfg.PreferQuality {
		return r.route(cfg, req)
	}

	d := baseForBias(cfg, req)
	switch {
	case cfg.PreferSpeed:
		if d.Tier == models.TierCapable && !speedCritical[req.TaskType] {
			return Decision{Tier: models.TierBalanced, Reason: "prefer_speed:" + d.Reason}
		}
	case cfg.PreferQuality:
		if d.Tier == models.TierCheap {
			return Decision{Tier: models.TierBalanced, Reason: "prefer_quality:" + d.Reason}
		}
		if d.Tier == models.TierBalanced && qualityUpgrades[req.TaskType] {
			return Decision{Tier: models.TierCapable, Reason: "prefer_quality:" + d.Reason}
		}
	}
	return d
}

func (r *Router) route(cfg *EffectiveConfig, req Request) Decision {
	if d, ok := routeRules(cfg, req); ok {
		return d
	}

	if r.shouldEscalate(req.ConversationHistory) {
		return Decision{Tier: models.TierCapable, Reason: ReasonEscalation}
	}

	return Decision{Tier: cfg.DefaultTier, Reason: ReasonDefault}
}

// baseForBias is the tier the speed and quality preferences adjust. It skips
// escalation and the user's default tier and falls back to balanced.
func baseForBias(cfg *EffectiveConfig, req Request) Decision {
	if d, ok := routeRules(cfg, req); ok {
		return d
	}
	return Decision{Tier: models.TierBalanced, Reason: ReasonBiasFallback}
}

// routeRules applies the task table, tool table and pattern rules in order
func routeRules(cfg *EffectiveConfig, req Request) (Decision, bool) {
	if req.TaskType != "" {
		if tier, ok := cfg.TaskRouting[req.TaskType]; ok {
			return Decision{Tier: tier, Reason: "task:" + req.TaskType}, true
		}
	}

	if d, ok := routeTools(cfg, req.PendingToolNames); ok {
		return d, true
	}

	if cfg.CapableClassifier != nil && cfg.CapableClassifier.Matches(req.Message) {
		return Decision{Tier: models.TierCapable, Reason: ReasonCapablePattern}, true
	}
	if cfg.CheapClassifier != nil && cfg.CheapClassifier.Matches(req.Message) {
		return Decision{Tier: models.TierCheap, Reason: ReasonCheapPattern}, true
	}
	return Decision{}, false
}

// routeTools returns the highest tier among the mapped tools
func routeTools(cfg *EffectiveConfig, tools []string) (Decision, bool) {
	var best models.Tier
	var bestTool string
	for _, tool := range tools {
		tier, ok := cfg.ToolRouting[tool]
		if !ok {
			continue
		}
		if tier.Rank() > best.Rank() {
			best, bestTool = tier, tool
		}
	}
	if best == "" {
		return Decision{}, false
	}
	return Decision{Tier: best, Reason: "tool:" + bestTool}, true
}

func (r *Router) shouldEscalate(history []models.Message) bool {
	if r.escalation == nil || len(history) == 0 {
		return false
	}
	start := max(len(history)-escalationWindow, 0)
	for _, msg := range history[start:] {
		if strings.EqualFold(msg.Role, "user") && r.escalation.Matches(msg.Content) {
			return true
		}
	}
	return false
}

// Explain returns the human-readable reasoning for a decision
func Explain(d Decision) string {
	reason, prefix := d.Reason, ""
	for _, p := range []string{"prefer_speed", "prefer_quality"} {
		if rest, ok := strings.CutPrefix(reason, p+":"); ok {
			prefix, reason = p, rest
		}
	}

	var base string
	switch {
	case reason == ReasonForced:
		base = "tier forced by caller"
	case strings.HasPrefix(reason, "task:"):
		base = "task type " + strings.TrimPrefix(reason, "task:") + " is mapped to this tier"
	case strings.HasPrefix(reason, "tool:"):
		base = "tool " + strings.TrimPrefix(reason, "tool:") + " requires this tier"
	case reason == ReasonCapablePattern:
		base = "message matched a capable pattern"
	case reason == ReasonCheapPattern:
		base = "message matched a cheap pattern"
	case reason == ReasonEscalation:
		base = "recent conversation signals uncertainty or urgency"
	case reason == ReasonBiasFallback:
		base = "no task, tool or pattern rule matched, starting from balanced"
	default:
		base = "no rule matched, using the default tier"
	}

	switch prefix {
	case "prefer_speed":
		return base + "; downgraded to " + string(d.Tier) + " for speed"
	case "prefer_quality":
		return base + "; upgraded to " + string(d.Tier) + " for quality"
	}
	return base
}
