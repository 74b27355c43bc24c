package engine

import (
	_ "embed"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/memory"
)

var (
	//go:embed data/instructions/system.md.tmpl
	systemInst     string
	systemInstTmpl = template.Must(template.New("system").Funcs(funcMap()).Parse(systemInst))

	//go:embed data/instructions/plan.md.tmpl
	planInst     string
	planInstTmpl = template.Must(template.New("plan").Funcs(funcMap()).Parse(planInst))

	//go:embed data/instructions/reflection.md.tmpl
	reflectionInst     string
	reflectionInstTmpl = template.Must(template.New("reflection").Funcs(funcMap()).Parse(reflectionInst))
)

type (
	// ToolDescription is what the system prompt shows per registered tool.
	ToolDescription struct {
		Name        string
		Description string
		Schema      string
	}

	SystemPromptValues struct {
		Date  string
		Tools []ToolDescription
	}

	ReflectionValues struct {
		Tool   string
		Error  string
		Params string
	}
)

// RenderSystemPrompt produces the fixed system prompt: the ReAct format
// contract plus the tool catalogue. It is rendered once per agent.
func RenderSystemPrompt(tools []ToolDescription) (string, error) {
	var buf strings.Builder
	if err := systemInstTmpl.Execute(&buf, SystemPromptValues{
		Date:  time.Now().Format("2006-01-02"),
		Tools: tools,
	}); err != nil {
		return "", errors.Wrapf(err, "failed to render system prompt")
	}
	return buf.String(), nil
}

// RenderPlanPrompt produces the one-shot planning prompt for a new task.
func RenderPlanPrompt(goal string) (string, error) {
	var buf strings.Builder
	if err := planInstTmpl.Execute(&buf, struct{ Goal string }{Goal: goal}); err != nil {
		return "", errors.Wrapf(err, "failed to render plan prompt")
	}
	return buf.String(), nil
}

// RenderReflectionDirective produces the self-reflection insert shown
// after a failed tool call.
func RenderReflectionDirective(values ReflectionValues) (string, error) {
	var buf strings.Builder
	if err := reflectionInstTmpl.Execute(&buf, values); err != nil {
		return "", errors.Wrapf(err, "failed to render reflection directive")
	}
	return buf.String(), nil
}

// scratchpadSection renders L1 for the prompt. Empty fields render
// nothing so an idle scratchpad costs no tokens.
func scratchpadSection(pad entity.Scratchpad) string {
	var parts []string
	if pad.Goal != "" {
		parts = append(parts, "CURRENT TASK: "+pad.Goal)
	}
	if pad.Plan != "" {
		parts = append(parts, "CURRENT PLAN:\n"+pad.Plan)
	}
	if pad.LastObservation != "" {
		parts = append(parts, "LAST RESULT: "+pad.LastObservation)
	}
	if len(pad.RecentFacts) > 0 {
		parts = append(parts, "RECENT FACTS:\n- "+strings.Join(pad.RecentFacts, "\n- "))
	}
	return strings.Join(parts, "\n\n")
}

// memorySection renders retrieved L3 records as an annotated block.
func memorySection(records []memory.ScoredRecord) string {
	if len(records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("LONG-TERM MEMORY:")
	for i, r := range records {
		b.WriteString("\n")
		b.WriteString(indexed(i+1, r.Record.Scope, r.Record.Text))
	}
	return b.String()
}

func indexed(n int, scope memory.Scope, text string) string {
	const maxLen = 300
	if len(text) > maxLen {
		text = text[:maxLen] + "…"
	}
	prefix := "  "
	if scope == memory.ScopeGlobal {
		prefix = "  [shared] "
	}
	return prefix + strconv.Itoa(n) + ". " + text
}
