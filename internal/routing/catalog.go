package routing

import (
	"fmt"
	"maps"
	"os"
	"regexp"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

// Catalog is the system-wide routing defaults every user config is merged onto
type Catalog struct {
	TaskRouting     map[string]models.Tier            `json:"task_routing" yaml:"task_routing"`
	ToolRouting     map[string]models.Tier            `json:"tool_routing" yaml:"tool_routing"`
	Patterns        models.PatternSet                 `json:"patterns" yaml:"patterns"`
	Chains          map[string]models.ChainDefinition `json:"chains" yaml:"chains"`
	TaskChains      map[string]string                 `json:"task_chains" yaml:"task_chains"`
	DefaultTier     models.Tier                       `json:"default_tier" yaml:"default_tier"`
	ChainingEnabled bool                              `json:"chaining_enabled" yaml:"chaining_enabled"`
}

// Task types with a built-in meaning
const (
	TaskGreeting             = "greeting"
	TaskSimpleLookup         = "simple_lookup"
	TaskConfirmation         = "confirmation"
	TaskBasicCRUD            = "basic_crud"
	TaskStatusCheck          = "status_check"
	TaskCalendarQuery        = "calendar_query"
	TaskReminderQuery        = "reminder_query"
	TaskCalendarCreate       = "calendar_create"
	TaskReminderCreate       = "reminder_create"
	TaskNoteCreate           = "note_create"
	TaskEmailDraft           = "email_draft"
	TaskStandardToolUse      = "standard_tool_use"
	TaskDailyBriefing        = "daily_briefing"
	TaskTravelTime           = "travel_time"
	TaskScheduleOptimization = "schedule_optimization"
	TaskWeeklyReview         = "weekly_review"
	TaskMeetingSummary       = "meeting_summary"
	TaskComplexAnalysis      = "complex_analysis"
	TaskDecisionSupport      = "decision_support"
	TaskPatternLearning      = "pattern_learning"
	TaskConflictResolution   = "conflict_resolution"
	TaskEmailTriage          = "email_triage"
	TaskProjectStatus        = "project_status"
	TaskExplainReasoning     = "explain_reasoning"
	TaskComplexQuery         = "complex_query"
)

// Built-in chain names
const (
	ChainClassifyExecuteSynthesize = "classify_execute_synthesize_chain"
	ChainTranscribeSummarize       = "transcribe_summarize_chain"
	ChainAnalyzeOptimize           = "analyze_optimize_chain"
	ChainClassifyTriage            = "classify_triage_chain"
)

// DefaultCatalog returns a fresh copy of the built-in routing defaults
func DefaultCatalog() *Catalog {
	cheap, balanced, capable := models.TierCheap, models.TierBalanced, models.TierCapable

	return &Catalog{
		TaskRouting: map[string]models.Tier{
			TaskGreeting:      cheap,
			TaskSimpleLookup:  cheap,
			TaskConfirmation:  cheap,
			TaskBasicCRUD:     cheap,
			TaskStatusCheck:   cheap,
			TaskCalendarQuery: cheap,
			TaskReminderQuery: cheap,

			TaskCalendarCreate:  balanced,
			TaskReminderCreate:  balanced,
			TaskNoteCreate:      balanced,
			TaskEmailDraft:      balanced,
			TaskStandardToolUse: balanced,
			TaskDailyBriefing:   balanced,
			TaskTravelTime:      balanced,

			TaskScheduleOptimization: capable,
			TaskWeeklyReview:         capable,
			TaskMeetingSummary:       capable,
			TaskComplexAnalysis:      capable,
			TaskDecisionSupport:      capable,
			TaskPatternLearning:      capable,
			TaskConflictResolution:   capable,
			TaskEmailTriage:          capable,
			TaskProjectStatus:        capable,
			TaskExplainReasoning:     capable,
		},
		ToolRouting: map[string]models.Tier{
			"get_calendar_events": cheap,
			"get_reminders":       cheap,
			"get_note":            cheap,
			"search_notes":        cheap,
			"get_read_later_list": cheap,
			"get_weather":         cheap,
			"complete_reminder":   cheap,
			"get_travel_time":     cheap,

			"create_calendar_event":   balanced,
			"update_calendar_event":   balanced,
			"create_reminder":         balanced,
			"create_note":             balanced,
			"draft_email_reply":       balanced,
			"save_for_later":          balanced,
			"create_follow_up":        balanced,
			"send_push_notification":  balanced,
			"generate_daily_briefing": balanced,

			"propose_schedule_optimization": capable,
			"generate_weekly_review":        capable,
			"explain_reasoning":             capable,
			"triage_emails":                 capable,
			"get_project_status":            capable,
			"get_meeting_prep":              capable,
			"get_meeting_summary":           capable,
		},
		Patterns: models.PatternSet{
			Cheap: []string{
				`what time`,
				`what'?s on my calendar`,
				`do i have any (meetings|events|reminders)`,
				`read (back|me) (the|my)`,
				`list my`,
				`show me`,
				`how many`,
				`is there a`,
				`when is`,
				`where is`,
				`confirm`,
				`\b(yes|no|ok|okay|sure|thanks|thank you)\b`,
				`cancel that`,
				`never\s?mind`,
				`^(hi|hey|hello|good morning|good afternoon)$`,
			},
			Capable: []string{
				`optimi[zs]e my (schedule|calendar|day|week)`,
				`reorgani[zs]e`,
				`what should i prioriti[zs]e`,
				`help me (decide|think through|figure out)`,
				`analy[zs]e`,
				`why did you`,
				`explain your reasoning`,
				`what patterns`,
				`review my (week|month|progress)`,
				`suggest.*(strategy|approach|plan)`,
				`complex|complicated|nuanced`,
				`trade.?offs?`,
				`compare.*(options|approaches)`,
				`what do you think`,
				`advice`,
			},
		},
		Chains: map[string]models.ChainDefinition{
			ChainClassifyExecuteSynthesize: {
				Description: "Cheap tier classifies intent, balanced tier executes tools, capable tier synthesizes the response",
				Steps: []models.ChainStep{
					{Tier: cheap, Purpose: "classify", PromptTemplate: "classify_intent"},
					{Tier: balanced, Purpose: "execute", PromptTemplate: "execute_tools"},
					{Tier: capable, Purpose: "synthesize", PromptTemplate: "synthesize_response"},
				},
			},
			ChainTranscribeSummarize: {
				Description: "Balanced tier structures the transcript, capable tier generates meeting insights",
				Steps: []models.ChainStep{
					{Tier: balanced, Purpose: "structure", PromptTemplate: "structure_transcript"},
					{Tier: capable, Purpose: "synthesize", PromptTemplate: "meeting_insights"},
				},
			},
			ChainAnalyzeOptimize: {
				Description: "Cheap tier gathers schedule data, capable tier analyzes and optimizes",
				Steps: []models.ChainStep{
					{Tier: cheap, Purpose: "gather", PromptTemplate: "gather_schedule_data"},
					{Tier: capable, Purpose: "analyze", PromptTemplate: "optimize_schedule"},
				},
			},
			ChainClassifyTriage: {
				Description: "Cheap tier sorts, balanced tier categorizes, capable tier prioritizes",
				Steps: []models.ChainStep{
					{Tier: cheap, Purpose: "classify", PromptTemplate: "initial_email_sort"},
					{Tier: balanced, Purpose: "categorize", PromptTemplate: "categorize_emails"},
					{Tier: capable, Purpose: "prioritize", PromptTemplate: "prioritize_actions"},
				},
			},
		},
		TaskChains: map[string]string{
			TaskMeetingSummary:       ChainTranscribeSummarize,
			TaskScheduleOptimization: ChainAnalyzeOptimize,
			TaskEmailTriage:          ChainClassifyTriage,
			TaskComplexQuery:         ChainClassifyExecuteSynthesize,
		},
		DefaultTier:     balanced,
		ChainingEnabled: true,
	}
}

// IsKnownTask reports whether taskType appears in the task table or the
// task-to-chain table
func (c *Catalog) IsKnownTask(taskType string) bool {
	if _, ok := c.TaskRouting[taskType]; ok {
		return true
	}
	_, ok := c.TaskChains[taskType]
	return ok
}

// Clone returns a deep copy of the catalog
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{
		TaskRouting:     maps.Clone(c.TaskRouting),
		ToolRouting:     maps.Clone(c.ToolRouting),
		Chains:          make(map[string]models.ChainDefinition, len(c.Chains)),
		TaskChains:      maps.Clone(c.TaskChains),
		DefaultTier:     c.DefaultTier,
		ChainingEnabled: c.ChainingEnabled,
		Patterns: models.PatternSet{
			Cheap:   append([]string(nil), c.Patterns.Cheap...),
			Capable: append([]string(nil), c.Patterns.Capable...),
		},
	}
	for name, def := range c.Chains {
		out.Chains[name] = cloneChain(def)
	}
	return out
}

func cloneChain(def models.ChainDefinition) models.ChainDefinition {
	return models.ChainDefinition{
		Description: def.Description,
		Steps:       append([]models.ChainStep(nil), def.Steps...),
	}
}

type catalogFile struct {
	DefaultTier     string                  `koanf:"default_tier"`
	ChainingEnabled *bool                   `koanf:"chaining_enabled"`
	TaskRouting     map[string]string       `koanf:"task_routing"`
	ToolRouting     map[string]string       `koanf:"tool_routing"`
	Patterns        catalogPatterns         `koanf:"patterns"`
	Chains          map[string]catalogChain `koanf:"chains"`
	TaskChains      map[string]string       `koanf:"task_chains"`
}

type catalogPatterns struct {
	Cheap   []string `koanf:"cheap"`
	Capable []string `koanf:"capable"`
}

type catalogChain struct {
	Description string        `koanf:"description"`
	Steps       []catalogStep `koanf:"steps"`
}

type catalogStep struct {
	Tier           string `koanf:"tier"`
	Purpose        string `koanf:"purpose"`
	PromptTemplate string `koanf:"prompt_template"`
}

// LoadCatalog returns the built-in catalog overlaid with the YAML file at
// path. An empty path or a missing file yields the built-in catalog.
// Map entries in the file add to or replace built-in entries; pattern lists
// are appended.
func LoadCatalog(path string) (*Catalog, error) {
	catalog := DefaultCatalog()
	if path == "" {
		return catalog, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return catalog, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}

	var overlay catalogFile
	if err := k.Unmarshal("", &overlay); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}

	if err := overlay.applyTo(catalog); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return catalog, nil
}

func (f *catalogFile) applyTo(c *Catalog) error {
	if f.DefaultTier != "" {
		tier, err := models.ParseTier(f.DefaultTier)
		if err != nil {
			return fmt.Errorf("default_tier: %w", err)
		}
		c.DefaultTier = tier
	}
	if f.ChainingEnabled != nil {
		c.ChainingEnabled = *f.ChainingEnabled
	}

	for task, name := range f.TaskRouting {
		tier, err := models.ParseTier(name)
		if err != nil {
			return fmt.Errorf("task_routing.%s: %w", task, err)
		}
		c.TaskRouting[task] = tier
	}
	for tool, name := range f.ToolRouting {
		tier, err := models.ParseTier(name)
		if err != nil {
			return fmt.Errorf("tool_routing.%s: %w", tool, err)
		}
		c.ToolRouting[tool] = tier
	}

	for _, p := range append(append([]string(nil), f.Patterns.Cheap...), f.Patterns.Capable...) {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("patterns: %q: %w", p, err)
		}
	}
	c.Patterns.Cheap = append(c.Patterns.Cheap, f.Patterns.Cheap...)
	c.Patterns.Capable = append(c.Patterns.Capable, f.Patterns.Capable...)

	for name, chain := range f.Chains {
		def := models.ChainDefinition{Description: chain.Description}
		for i, step := range chain.Steps {
			tier, err := models.ParseTier(step.Tier)
			if err != nil {
				return fmt.Errorf("chains.%s.steps[%d]: %w", name, i, err)
			}
			def.Steps = append(def.Steps, models.ChainStep{
				Tier:           tier,
				Purpose:        step.Purpose,
				PromptTemplate: step.PromptTemplate,
			})
		}
		if err := validateChain(name, def); err != nil {
			return err
		}
		c.Chains[name] = def
	}

	for task, chain := range f.TaskChains {
		if _, ok := c.Chains[chain]; !ok {
			return fmt.Errorf("task_chains.%s: %w: %s", task, ErrUnknownChain, chain)
		}
		c.TaskChains[task] = chain
	}

	return nil
}
