package models

import "time"

// UsageEvent is one immutable ledger entry per model invocation
type UsageEvent struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID *string   `json:"conversation_id,omitempty"`
	Tier           Tier      `json:"tier"`
	Model          string    `json:"model,omitempty"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	TaskType       string    `json:"task_type,omitempty"`
	RoutingReason  string    `json:"routing_reason,omitempty"`
	LatencyMs      int       `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// Cost returns the USD cost of the event
func (e UsageEvent) Cost() float64 {
	return e.Tier.Cost(e.InputTokens, e.OutputTokens)
}

// ChainStep is one stage of a chain definition
type ChainStep struct {
	Tier           Tier   `json:"tier" yaml:"tier"`
	Purpose        string `json:"purpose" yaml:"purpose"`
	PromptTemplate string `json:"prompt_template" yaml:"prompt_template"`
}

// ChainDefinition is an ordered list of stages
type ChainDefinition struct {
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []ChainStep `json:"steps" yaml:"steps"`
}

// PatternSet holds regex sources for the cheap and capable pattern lists
type PatternSet struct {
	Cheap   []string `json:"cheap" yaml:"cheap"`
	Capable []string `json:"capable" yaml:"capable"`
}

// RoutingSettings is a user's stored routing overrides. Nil scalar pointers
// mean "not set" and fall back to the system defaults.
type RoutingSettings struct {
	UserID         string                     `json:"user_id"`
	TaskRouting    map[string]Tier            `json:"task_routing"`
	ToolRouting    map[string]Tier            `json:"tool_routing"`
	CustomPatterns PatternSet                 `json:"custom_patterns"`
	DefaultTier    *Tier                      `json:"default_tier,omitempty"`
	EnableChaining *bool                      `json:"enable_chaining,omitempty"`
	ChainConfigs   map[string]ChainDefinition `json:"chain_configs"`
	CostLimitDaily *float64                   `json:"cost_limit_daily,omitempty"`
	PreferSpeed    *bool                      `json:"prefer_speed,omitempty"`
	PreferQuality  *bool                      `json:"prefer_quality,omitempty"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// RoutingSettingsUpdate is a partial update. Each non-nil field replaces the
// stored override for that field.
type RoutingSettingsUpdate struct {
	TaskRouting         map[string]Tier            `json:"task_routing,omitempty" jsonschema:"description=Task type to tier overrides"`
	ToolRouting         map[string]Tier            `json:"tool_routing,omitempty" jsonschema:"description=Tool name to tier overrides"`
	CustomPatterns      *PatternSet                `json:"custom_patterns,omitempty" jsonschema:"description=Extra regex patterns appended to the defaults"`
	DefaultTier         *Tier                      `json:"default_tier,omitempty" jsonschema:"enum=cheap,enum=balanced,enum=capable"`
	EnableChaining      *bool                      `json:"enable_chaining,omitempty"`
	ChainConfigs        map[string]ChainDefinition `json:"chain_configs,omitempty"`
	CostLimitDaily      *float64                   `json:"cost_limit_daily_usd,omitempty" jsonschema:"minimum=0" jsonschema_description:"Daily spend ceiling in USD. A limit of 0 blocks every request; use clear_cost_limit_daily for no limit."`
	ClearCostLimitDaily bool                       `json:"clear_cost_limit_daily,omitempty" jsonschema_description:"Remove the daily spend ceiling."`
	PreferSpeed         *bool                      `json:"prefer_speed,omitempty"`
	PreferQuality       *bool                      `json:"prefer_quality,omitempty"`
}

// Message is a single conversation turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
