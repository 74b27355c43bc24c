package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/musedev/muse/compress"
	"github.com/musedev/muse/engine"
	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/internal/sliceutils"
	"github.com/musedev/muse/llm"
	"github.com/musedev/muse/memory"
	"github.com/musedev/muse/parser"
	"github.com/musedev/muse/tool"
)

// maxParseFailures aborts a task after this many consecutive unparseable
// model replies.
const maxParseFailures = 3

// rememberedTools are the tools whose successful results feed L3.
var rememberedTools = map[string]bool{
	"read_file":          true,
	"list_directory":     true,
	"run_shell_command":  true,
	"web_fetch":          true,
	"replace_in_file":    true,
	"create_file":        true,
	"analyze_code":       true,
	"edit_file_at_line":  true,
	"internet_search":    true,
	"web_search_in_page": true,
}

// globallyRemembered additionally feed the shared scope.
var globallyRemembered = map[string]bool{
	"read_file": true,
	"web_fetch": true,
}

type (
	// Result is a finished task: either a final answer or a timeout
	// carrying the last state.
	Result struct {
		FinalAnswer     string `json:"final_answer"`
		TimedOut        bool   `json:"timed_out,omitempty"`
		Cycles          int    `json:"cycles"`
		LastThought     string `json:"last_thought,omitempty"`
		LastObservation string `json:"last_observation,omitempty"`
	}

	// StepCallback observes every parsed step before dispatch. Returning
	// false skips execution (interactive confirmation lives outside the
	// core). A nil callback approves everything.
	StepCallback func(step *entity.AgentStep) bool
)

// RunTask drives the ReAct cycle for one user input until finish, cycle
// exhaustion or context cancellation. Tool calls execute strictly
// sequentially; observations append to history in production order.
func (a *Agent) RunTask(ctx context.Context, userInput string, callback StepCallback) (*Result, error) {
	c := a.ActiveChat()
	pad := &c.Scratchpad
	pad.Reset(userInput)

	a.logger.Info("task started", slog.String("chat", a.active), slog.String("goal", userInput))

	c.History = append(c.History, entity.Message{
		Role:      entity.RoleUser,
		Content:   userInput,
		CreatedAt: time.Now(),
	})

	seen := map[string]int{}   // fingerprint → history index of its observation
	failedTools := map[string]bool{}
	parseFailures := 0
	reflection := ""
	lastThought := ""
	lastObservation := ""

	defer func() {
		if err := a.chats.Save(c); err != nil {
			a.logger.Error("autosave failed, live state kept", slog.Any("error", err))
		}
	}()

	for cycle := 0; cycle < a.conf.MaxCycles; cycle++ {
		// cancellation is cooperative, checked between cycles
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "task cancelled after %d cycle(s)", cycle)
		}

		if cycle == 0 {
			a.generatePlan(ctx, pad)
		}

		prompt, stats, err := a.contextMgr.BuildContext(ctx, engine.BuildRequest{
			SystemPrompt: a.systemPrompt,
			Scratchpad:   *pad,
			History:      c.History,
			Query:        userInput,
			Scopes:       a.scopes(),
			Reflection:   reflection,
		})
		reflection = ""
		if err != nil {
			if !errors.Is(err, errors.ErrContextOverflow) {
				return nil, err
			}
			// surfaced as an observation; the task continues on a
			// halved history
			a.logger.Error("context overflow, trimming history hard", slog.Any("error", err))
			c.History = sliceutils.Cut(c.History, len(c.History)/2, len(c.History))
			a.appendObservation(c, "context overflow: older history was dropped; recent state is preserved")
			continue
		}

		// span compression inside the builder replaces L2 for good and
		// surfaces facts for L3
		c.History = prompt.History
		a.promoteFacts(ctx, pad, prompt.Facts)

		output, err := a.model.Generate(ctx, prompt.Messages, llm.GenerateOptions{
			MaxTokens:   a.contextMgr.MaxGenerationTokens(stats.TotalTokens),
			Temperature: a.conf.Temperature,
		})
		if err != nil {
			a.logger.Error("generation failed", slog.Any("error", err))
			a.appendObservation(c, fmt.Sprintf("model generation failed: %v; retrying", err))
			continue
		}

		step, err := parser.Parse(output)
		if err != nil {
			parseFailures++
			a.logger.Warn("unparseable model output",
				slog.Int("consecutive", parseFailures),
				slog.String("output", clip(output, 200)))

			if parseFailures >= maxParseFailures {
				return &Result{
					FinalAnswer:     "task aborted: the model kept violating the response format",
					Cycles:          cycle + 1,
					LastThought:     lastThought,
					LastObservation: lastObservation,
				}, nil
			}

			a.appendObservation(c, "format violation: reply with the flags "+
				"<THOUGHT>…<TOOL>…<PARAMS>{…}<END> and nothing else; "+
				"example: <THOUGHT>\nread it\n<TOOL>\nread_file\n<PARAMS>\n{\"file_path\": \"main.go\"}\n<END>")
			continue
		}
		parseFailures = 0
		lastThought = step.Thought

		// the raw reply joins history only after a successful parse
		c.History = append(c.History, entity.Message{
			Role:      entity.RoleAssistant,
			Content:   output,
			CreatedAt: time.Now(),
		})

		if callback != nil && !callback(step) {
			a.appendObservation(c, fmt.Sprintf("action '%s' was declined; pick another approach", step.Tool))
			continue
		}

		registered := a.registry.Get(step.Tool)

		// loop protection: a duplicate network call is short-circuited
		// with guidance instead of a second request
		if registered != nil && registered.Class == tool.ClassNetwork {
			fp := fingerprint(step.Tool, step.Params)
			if prior, dup := seen[fp]; dup {
				a.logger.Warn("duplicate network call short-circuited",
					slog.String("tool", step.Tool))
				a.appendObservation(c, fmt.Sprintf(
					"duplicate call: '%s' already ran with these arguments; its result is in the conversation (observation #%d). Use the fetched content — web_search_in_page for pages — or narrow the query.",
					step.Tool, prior))
				continue
			}
			seen[fp] = len(c.History)
		}

		if step.Tool == "finish" {
			answer, _ := step.Params["final_answer"].(string)
			if answer == "" {
				answer = step.Content
			}
			a.logger.Info("task finished", slog.Int("cycles", cycle+1))
			return &Result{FinalAnswer: answer, Cycles: cycle + 1, LastThought: step.Thought}, nil
		}

		params := step.Params
		if step.Content != "" {
			if params == nil {
				params = map[string]any{}
			}
			params["content"] = step.Content
		}

		obs := a.registry.Execute(ctx, step.Tool, params)
		lastObservation = obs.Summary

		a.appendObservation(c, fmt.Sprintf("result of '%s':\n%s", step.Tool, obs.Summary))

		if !obs.OK {
			// first failure of this tool in the task window triggers a
			// self-reflection directive on the next prompt
			if !failedTools[step.Tool] {
				failedTools[step.Tool] = true
				directive, rerr := engine.RenderReflectionDirective(engine.ReflectionValues{
					Tool:   step.Tool,
					Error:  obs.Summary,
					Params: tool.MarshalParams(step.Params),
				})
				if rerr == nil {
					reflection = directive
				}
			}
		} else if rememberedTools[step.Tool] {
			a.rememberResult(ctx, step.Tool, obs.Summary)
		}

		pad.LastObservation = clip(obs.Summary, 200)
	}

	a.logger.Warn("cycle limit reached", slog.Int("max_cycles", a.conf.MaxCycles))
	return &Result{
		TimedOut:        true,
		Cycles:          a.conf.MaxCycles,
		LastThought:     lastThought,
		LastObservation: lastObservation,
	}, nil
}

// generatePlan fills the scratchpad plan on the first cycle; a failed
// plan call is tolerated, the loop works without one.
func (a *Agent) generatePlan(ctx context.Context, pad *entity.Scratchpad) {
	prompt, err := engine.RenderPlanPrompt(pad.Goal)
	if err != nil {
		return
	}

	plan, err := a.model.Generate(ctx, []entity.Message{
		{Role: entity.RoleUser, Content: prompt},
	}, llm.GenerateOptions{MaxTokens: 1024, Temperature: a.conf.PlanTemperature})
	if err != nil {
		a.logger.Warn("plan generation failed, continuing without a plan", slog.Any("error", err))
		return
	}

	pad.Plan = strings.TrimSpace(plan)
	a.logger.Debug("plan generated", slog.String("plan", clip(pad.Plan, 300)))
}

func (a *Agent) appendObservation(c *entity.Chat, text string) {
	c.History = append(c.History, entity.Message{
		Role:      entity.RoleTool,
		Content:   "Observation: " + text,
		CreatedAt: time.Now(),
	})
}

// rememberResult extracts durable facts from a successful tool result and
// writes them to the chat scope; read_file and web_fetch results also feed
// the shared scope.
func (a *Agent) rememberResult(ctx context.Context, toolName, result string) {
	text, _ := entity.SplitImages(result)
	fact := compress.ExtractFacts(text)
	if len(fact) < 20 {
		return
	}

	importance := compress.FactImportance(fact)
	if importance < a.memConf.ImportanceThreshold {
		return
	}

	entry := "[" + toolName + "] " + fact
	if _, err := a.memory.Add(ctx, memory.ChatScope(a.active), entry, importance, map[string]any{"tool": toolName}); err != nil {
		a.logger.Warn("failed to remember tool result", slog.Any("error", err))
		return
	}

	if globallyRemembered[toolName] {
		if _, err := a.memory.Add(ctx, memory.ScopeGlobal, clip(entry, 200), importance, map[string]any{"tool": toolName}); err != nil {
			a.logger.Warn("failed to remember shared fact", slog.Any("error", err))
		}
	}

	a.ActiveChat().Scratchpad.PushFact(fact)
}

// promoteFacts moves compression-extracted facts into L3 and the
// scratchpad ring, subject to the importance threshold.
func (a *Agent) promoteFacts(ctx context.Context, pad *entity.Scratchpad, facts []string) {
	for _, fact := range facts {
		importance := compress.FactImportance(fact)
		if importance < a.memConf.ImportanceThreshold {
			continue
		}
		if _, err := a.memory.Add(ctx, memory.ChatScope(a.active), fact, importance, map[string]any{"source": "compression"}); err != nil {
			a.logger.Warn("failed to promote fact", slog.Any("error", err))
			continue
		}
		pad.PushFact(fact)
	}
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
