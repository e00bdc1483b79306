package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

var toolNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateUpdate rejects updates that would silently no-op or break routing:
// unknown task types, malformed tool names, invalid tiers, patterns that do
// not compile and chains missing required fields.
func ValidateUpdate(catalog *Catalog, update models.RoutingSettingsUpdate) error {
	for task, tier := range update.TaskRouting {
		if !catalog.IsKnownTask(task) {
			return &ValidationError{Field: "task_routing." + task, Reason: "unknown task type"}
		}
		if !tier.Valid() {
			return &ValidationError{Field: "task_routing." + task, Reason: fmt.Sprintf("invalid tier %q", tier)}
		}
	}

	for tool, tier := range update.ToolRouting {
		if !toolNameRE.MatchString(tool) {
			return &ValidationError{Field: "tool_routing." + tool, Reason: "tool names must be lowercase identifiers"}
		}
		if !tier.Valid() {
			return &ValidationError{Field: "tool_routing." + tool, Reason: fmt.Sprintf("invalid tier %q", tier)}
		}
	}

	if update.CustomPatterns != nil {
		if err := validatePatterns("custom_patterns.cheap", update.CustomPatterns.Cheap); err != nil {
			return err
		}
		if err := validatePatterns("custom_patterns.capable", update.CustomPatterns.Capable); err != nil {
			return err
		}
	}

	if update.DefaultTier != nil && !update.DefaultTier.Valid() {
		return &ValidationError{Field: "default_tier", Reason: fmt.Sprintf("invalid tier %q", *update.DefaultTier)}
	}

	if update.CostLimitDaily != nil && *update.CostLimitDaily < 0 {
		return &ValidationError{Field: "cost_limit_daily_usd", Reason: "must not be negative"}
	}

	for name, def := range update.ChainConfigs {
		if err := validateChain(name, def); err != nil {
			return err
		}
	}
	return nil
}

func validatePatterns(field string, patterns []string) error {
	for i, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return &ValidationError{Field: fmt.Sprintf("%s[%d]", field, i), Reason: "empty pattern"}
		}
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return &ValidationError{Field: fmt.Sprintf("%s[%d]", field, i), Reason: err.Error()}
		}
	}
	return nil
}

func validateChain(name string, def models.ChainDefinition) error {
	field := "chain_configs." + name
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "chain_configs", Reason: "chain name is required"}
	}
	if len(def.Steps) == 0 {
		return &ValidationError{Field: field, Reason: "chain needs at least one step"}
	}
	for i, step := range def.Steps {
		stepField := fmt.Sprintf("%s.steps[%d]", field, i)
		switch {
		case !step.Tier.Valid():
			return &ValidationError{Field: stepField + ".tier", Reason: fmt.Sprintf("invalid tier %q", step.Tier)}
		case strings.TrimSpace(step.Purpose) == "":
			return &ValidationError{Field: stepField + ".purpose", Reason: "required"}
		case strings.TrimSpace(step.PromptTemplate) == "":
			return &ValidationError{Field: stepField + ".prompt_template", Reason: "required"}
		}
	}
	return nil
}
