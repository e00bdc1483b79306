package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultCatalogIsConsistent(t *testing.T) {
	c := DefaultCatalog()
	assert.Len(t, c.TaskRouting, 24)
	assert.Len(t, c.ToolRouting, 24)

	for task, chain := range c.TaskChains {
		def, ok := c.Chains[chain]
		require.True(t, ok, "task %s points at missing chain %s", task, chain)
		assert.NoError(t, validateChain(chain, def))
	}
	_, err := NewRegexClassifier(c.Patterns.Cheap)
	assert.NoError(t, err)
	_, err = NewRegexClassifier(c.Patterns.Capable)
	assert.NoError(t, err)

	steps := c.Chains[ChainTranscribeSummarize].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, models.TierBalanced, steps[0].Tier)
	assert.Equal(t, models.TierCapable, steps[1].Tier)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), c)

	c, err = LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), c)
}

func TestLoadCatalogOverlay(t *testing.T) {
	path := writeCatalog(t, `
default_tier: cheap
chaining_enabled: false
task_routing:
  greeting: sonnet
  invoice_review: capable
tool_routing:
  lookup_invoice: haiku
patterns:
  capable:
    - 'audit'
chains:
  invoice_chain:
    description: extract then review
    steps:
      - tier: cheap
        purpose: extract
        prompt_template: extract_invoice
      - tier: opus
        purpose: review
        prompt_template: review_invoice
task_chains:
  invoice_review: invoice_chain
`)

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	assert.Equal(t, models.TierCheap, c.DefaultTier)
	assert.False(t, c.ChainingEnabled)
	assert.Equal(t, models.TierBalanced, c.TaskRouting[TaskGreeting])
	assert.Equal(t, models.TierCapable, c.TaskRouting["invoice_review"])
	assert.Equal(t, models.TierCapable, c.TaskRouting[TaskWeeklyReview])
	assert.Equal(t, models.TierCheap, c.ToolRouting["lookup_invoice"])
	assert.Equal(t, "audit", c.Patterns.Capable[len(c.Patterns.Capable)-1])
	require.Contains(t, c.Chains, "invoice_chain")
	assert.Equal(t, models.TierCapable, c.Chains["invoice_chain"].Steps[1].Tier)
	assert.Equal(t, "invoice_chain", c.TaskChains["invoice_review"])
	assert.True(t, c.IsKnownTask("invoice_review"))
	assert.Len(t, c.Chains, 5)
}

func TestLoadCatalogErrors(t *testing.T) {
	tests := map[string]string{
		"bad tier":          "task_routing:\n  greeting: huge\n",
		"bad pattern":       "patterns:\n  cheap:\n    - '(unclosed'\n",
		"empty chain":       "chains:\n  empty:\n    description: nothing\n",
		"step missing tmpl": "chains:\n  c:\n    steps:\n      - tier: cheap\n        purpose: x\n",
		"dangling chain":    "task_chains:\n  greeting: nowhere_chain\n",
		"not yaml":          "task_routing: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog(writeCatalog(t, body))
			assert.Error(t, err)
		})
	}
}

func TestCatalogClone(t *testing.T) {
	c := DefaultCatalog()
	clone := c.Clone()
	clone.TaskRouting[TaskGreeting] = models.TierCapable
	clone.Chains[ChainAnalyzeOptimize].Steps[0] = models.ChainStep{}

	assert.Equal(t, models.TierCheap, c.TaskRouting[TaskGreeting])
	assert.Equal(t, "gather", c.Chains[ChainAnalyzeOptimize].Steps[0].Purpose)
}

func TestValidateUpdate(t *testing.T) {
	catalog := DefaultCatalog()
	bad := models.Tier("huge")

	tests := []struct {
		name   string
		update models.RoutingSettingsUpdate
		field  string
	}{
		{"unknown task", models.RoutingSettingsUpdate{TaskRouting: map[string]models.Tier{"greting": models.TierCheap}}, "task_routing.greting"},
		{"bad task tier", models.RoutingSettingsUpdate{TaskRouting: map[string]models.Tier{TaskGreeting: bad}}, "task_routing.greeting"},
		{"bad tool name", models.RoutingSettingsUpdate{ToolRouting: map[string]models.Tier{"Get Weather": models.TierCheap}}, "tool_routing.Get Weather"},
		{"bad pattern", models.RoutingSettingsUpdate{CustomPatterns: &models.PatternSet{Capable: []string{"(x"}}}, "custom_patterns.capable[0]"},
		{"empty pattern", models.RoutingSettingsUpdate{CustomPatterns: &models.PatternSet{Cheap: []string{" "}}}, "custom_patterns.cheap[0]"},
		{"bad default", models.RoutingSettingsUpdate{DefaultTier: &bad}, "default_tier"},
		{"negative limit", models.RoutingSettingsUpdate{CostLimitDaily: ptr(-1.0)}, "cost_limit_daily_usd"},
		{"chain without steps", models.RoutingSettingsUpdate{ChainConfigs: map[string]models.ChainDefinition{"c": {}}}, "chain_configs.c"},
		{"chain step without purpose", models.RoutingSettingsUpdate{ChainConfigs: map[string]models.ChainDefinition{
			"c": {Steps: []models.ChainStep{{Tier: models.TierCheap, PromptTemplate: "t"}}},
		}}, "chain_configs.c.steps[0].purpose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpdate(catalog, tt.update)
			require.ErrorIs(t, err, ErrInvalidConfig)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assert.NoError(t, ValidateUpdate(catalog, models.RoutingSettingsUpdate{
		TaskRouting:    map[string]models.Tier{TaskComplexQuery: models.TierCapable},
		ToolRouting:    map[string]models.Tier{"my_tool_2": models.TierCheap},
		CustomPatterns: &models.PatternSet{Cheap: []string{`^yo$`}},
		CostLimitDaily: ptr(0.0),
	}))
}
