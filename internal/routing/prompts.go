package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Prompt rendering errors
var (
	ErrPromptParse   = errors.New("prompt template parse error")
	ErrPromptExecute = errors.New("prompt template execution error")
)

// StageContext is what a stage prompt template can reference
type StageContext struct {
	Input           string
	OriginalMessage string
	Chain           string
	Purpose         string
	StepIndex       int
	PreviousStep    *StageOutput
	// Outputs holds every completed stage output keyed by purpose
	Outputs map[string]string
}

// StageOutput is a completed stage as seen by the next one
type StageOutput struct {
	Purpose string `json:"purpose"`
	Output  string `json:"output"`
}

const genericStageTemplate = `Task: {{.Purpose}}

Context from previous steps: {{json .Outputs}}

Original request: {{.OriginalMessage}}
{{- if .PreviousStep}}

Output of the {{.PreviousStep.Purpose}} step:
{{.PreviousStep.Output}}
{{- end}}

Please complete this step of the task.`

var builtinPrompts = map[string]string{
	"classify_intent": `Classify the intent of the following request in one short line.
List the tools or data sources needed to answer it.

Request: {{.Input}}`,

	"execute_tools": `Carry out the plan below for the user's request. Report the concrete results.

Request: {{.OriginalMessage}}

Plan:
{{.Input}}`,

	"synthesize_response": `Write the final answer for the user from the results below. Be direct and specific.

Request: {{.OriginalMessage}}

Results:
{{.Input}}`,

	"structure_transcript": `Structure this meeting transcript into speakers, topics, decisions and action items.

Transcript:
{{.Input}}`,

	"meeting_insights": `From the structured meeting notes below, write a summary with key decisions,
open questions and owners for each action item.

Notes:
{{.Input}}`,

	"gather_schedule_data": `Extract every scheduled item, deadline and constraint mentioned below as a plain list.

Request: {{.Input}}`,

	"optimize_schedule": `Propose an optimized schedule for the request using the data below.
Explain the trade-offs you made.

Request: {{.OriginalMessage}}

Schedule data:
{{.Input}}`,

	"initial_email_sort": `Sort these emails into: needs reply, FYI, newsletter, spam. One line per email.

{{.Input}}`,

	"categorize_emails": `Group the sorted emails below by project or sender and note any deadlines.

{{.Input}}`,

	"prioritize_actions": `Turn the categorized emails below into a prioritized action list, most urgent first.

Request: {{.OriginalMessage}}

Emails:
{{.Input}}`,
}

var promptFuncs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(b)
	},
	"trim":  strings.TrimSpace,
	"upper": strings.ToUpper,
}

// PromptBuilder renders stage prompts from template ids. Unknown ids use a
// generic stage template.
type PromptBuilder struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	generic   *template.Template
}

// NewPromptBuilder parses the built-in stage templates
func NewPromptBuilder() *PromptBuilder {
	b := &PromptBuilder{
		templates: make(map[string]*template.Template, len(builtinPrompts)),
		generic:   template.Must(template.New("generic").Funcs(promptFuncs).Parse(genericStageTemplate)),
	}
	for id, src := range builtinPrompts {
		b.templates[id] = template.Must(template.New(id).Funcs(promptFuncs).Parse(src))
	}
	return b
}

// Register adds or replaces the template for id
func (b *PromptBuilder) Register(id, src string) error {
	tmpl, err := template.New(id).Funcs(promptFuncs).Parse(src)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPromptParse, id, err)
	}
	b.mu.Lock()
	b.templates[id] = tmpl
	b.mu.Unlock()
	return nil
}

// Has reports whether a template is registered for id
func (b *PromptBuilder) Has(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.templates[id]
	return ok
}

// Build renders the prompt for the template id
func (b *PromptBuilder) Build(id string, sc StageContext) (string, error) {
	b.mu.RLock()
	tmpl, ok := b.templates[id]
	b.mu.RUnlock()
	if !ok {
		tmpl = b.generic
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, sc); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrPromptExecute, id, err)
	}
	return buf.String(), nil
}
