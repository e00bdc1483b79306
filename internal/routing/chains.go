package routing

import (
	"fmt"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

// SelectChain returns the chain that should handle taskType, if any. A chain
// is selected only when chaining is enabled and the mapped chain exists in
// the user's or built-in chains.
func SelectChain(taskType string, cfg *EffectiveConfig) (string, bool) {
	if !cfg.ChainingEnabled || taskType == "" {
		return "", false
	}
	name, ok := cfg.TaskChains[taskType]
	if !ok {
		return "", false
	}
	if _, ok := cfg.ChainConfigs[name]; !ok {
		return "", false
	}
	return name, true
}

// ResolveChain looks up a chain definition by name
func ResolveChain(cfg *EffectiveConfig, name string) (models.ChainDefinition, error) {
	def, ok := cfg.ChainConfigs[name]
	if !ok {
		return models.ChainDefinition{}, fmt.Errorf("%w: %s", ErrUnknownChain, name)
	}
	if len(def.Steps) == 0 {
		return models.ChainDefinition{}, &ValidationError{Field: "chain_configs." + name, Reason: "chain has no steps"}
	}
	return def, nil
}
