package models

import (
	"fmt"
	"strings"
)

// Tier is the cost/capability level a model invocation runs at
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierBalanced Tier = "balanced"
	TierCapable  Tier = "capable"
)

// AllTiers lists tiers from cheapest to most capable
var AllTiers = []Tier{TierCheap, TierBalanced, TierCapable}

// TierRates holds per-1000-token pricing for a tier in USD
type TierRates struct {
	InputPer1kTokens  float64 `json:"input_per_1k_tokens"`
	OutputPer1kTokens float64 `json:"output_per_1k_tokens"`
}

var tierRates = map[Tier]TierRates{
	TierCheap:    {InputPer1kTokens: 0.00025, OutputPer1kTokens: 0.00125},
	TierBalanced: {InputPer1kTokens: 0.003, OutputPer1kTokens: 0.015},
	TierCapable:  {InputPer1kTokens: 0.015, OutputPer1kTokens: 0.075},
}

// tierAliases maps the model family names to tiers.
var tierAliases = map[string]Tier{
	"cheap":    TierCheap,
	"haiku":    TierCheap,
	"balanced": TierBalanced,
	"sonnet":   TierBalanced,
	"capable":  TierCapable,
	"opus":     TierCapable,
}

// ParseTier parses a tier name, accepting the haiku/sonnet/opus aliases
func ParseTier(s string) (Tier, error) {
	tier, ok := tierAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return tier, nil
}

// Valid reports whether t is one of the known tiers
func (t Tier) Valid() bool {
	_, ok := tierRates[t]
	return ok
}

// Rank orders tiers by capability. Unknown tiers rank below Cheap.
func (t Tier) Rank() int {
	switch t {
	case TierCheap:
		return 1
	case TierBalanced:
		return 2
	case TierCapable:
		return 3
	default:
		return 0
	}
}

// Rates returns the per-1000-token pricing for the tier
func (t Tier) Rates() TierRates {
	return tierRates[t]
}

// Cost returns the USD cost of an invocation at this tier.
// Every cost figure in the system is derived from this function.
func (t Tier) Cost(inputTokens, outputTokens int) float64 {
	rates := tierRates[t]
	inputCost := float64(inputTokens) / 1000.0 * rates.InputPer1kTokens
	outputCost := float64(outputTokens) / 1000.0 * rates.OutputPer1kTokens
	return inputCost + outputCost
}

func (t Tier) String() string {
	return string(t)
}

// UnmarshalText lets JSON documents use tier aliases and rejects unknown tiers
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
