package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/llm"
	"github.com/musedev/muse/memory"
)

type (
	// BuildRequest carries everything one prompt assembly needs.
	BuildRequest struct {
		SystemPrompt string
		Scratchpad   entity.Scratchpad
		History      []entity.Message
		Query        string
		Scopes       []memory.Scope

		// Reflection, when set, is injected after a failed tool call.
		Reflection string
	}

	// Prompt is the assembled, ordered message list plus the compressed
	// history that should replace the caller's live history (span
	// compression mutates L2 for good, not just for one call).
	Prompt struct {
		Messages []entity.Message
		History  []entity.Message
		Facts    []string
	}
)

// BuildContext assembles a prompt that always fits the window minus the
// completion reserve. The algorithm is priority-driven and deterministic:
// system and scratchpad are counted first and never cut, L3 retrieval
// grows adaptively under its ceiling, history greedily fills the rest
// newest-first, and overflow is resolved by compressing the single largest
// block until the prompt fits or the retry limit trips.
func (cm *ContextManager) BuildContext(ctx context.Context, req BuildRequest) (*Prompt, *Stats, error) {
	stats := &Stats{Redistribution: map[string]int{}}

	// step 1: critical components
	systemTokens := cm.tokens.Tokenize(req.SystemPrompt)
	stats.SystemTokens = systemTokens

	pad := cm.boundScratchpad(req.Scratchpad)
	padText := scratchpadSection(pad)
	stats.ScratchpadTokens = cm.tokens.Tokenize(padText)

	// step 2: remaining budget
	reserve := int(float64(cm.Window) * shareReserve)
	critical := systemTokens + stats.ScratchpadTokens
	available := cm.Window - critical - reserve
	if available <= 0 {
		return nil, stats, errors.Wrapf(errors.ErrContextOverflow,
			"critical components alone use %d of %d tokens", critical, cm.Window)
	}

	// step 3: adaptive L3 retrieval
	memText, memTokens, retrieved := cm.retrieveMemory(ctx, req)
	stats.MemoryTokens = memTokens
	stats.RetrievedRecords = retrieved
	stats.Redistribution["l3_saved"] = int(float64(cm.Window)*shareMemory) - memTokens

	// step 4: greedy history fill, newest first
	historyBudget := available - memTokens
	if ceiling := int(float64(cm.Window) * ceilHistory); historyBudget > ceiling {
		historyBudget = ceiling
	}
	if floor := int(float64(cm.Window) * floorHistory); historyBudget < floor {
		// memory gives tokens back to history
		stats.Redistribution["l3_to_l2"] = floor - historyBudget
		historyBudget = floor
	}

	history, facts, historyTokens := cm.fillHistory(ctx, req.History, historyBudget)
	stats.HistoryTokens = historyTokens
	stats.TrimmedMessages = len(req.History) - len(history)

	// step 6 (assembled here, verified in step 5 below): ordered prompt
	systemContent := req.SystemPrompt
	var sections []string
	if memText != "" {
		sections = append(sections, memText)
	}
	if padText != "" {
		sections = append(sections, padText)
	}
	if len(sections) > 0 {
		systemContent += "\n\n---\n\n" + strings.Join(sections, "\n\n")
	}

	current := "TASK: " + req.Query
	if req.Reflection != "" {
		current = req.Reflection + "\n\n" + current
	}

	messages := make([]entity.Message, 0, len(history)+2)
	messages = append(messages, entity.Message{Role: entity.RoleSystem, Content: systemContent})
	messages = append(messages, history...)
	messages = append(messages, entity.Message{Role: entity.RoleUser, Content: current})

	// step 5: block-overflow compression loop
	limit := cm.Window - reserve
	for retry := 0; cm.promptTokens(messages) > limit; retry++ {
		if retry >= blockCompressRetries {
			return nil, stats, errors.Wrapf(errors.ErrContextOverflow,
				"prompt still %d tokens over after %d block compressions",
				cm.promptTokens(messages)-limit, retry)
		}

		largest := cm.largestBlock(messages)
		if largest < 0 {
			return nil, stats, errors.WithStack(errors.ErrContextOverflow)
		}

		budget := limit / 4
		cm.logger.Warn("compressing largest prompt block",
			slog.Int("index", largest),
			slog.Int("tokens", cm.tokens.Tokenize(messages[largest].Content)),
			slog.Int("budget", budget))
		messages[largest] = cm.compressor.CompressBlock(ctx, messages[largest], budget)
	}

	stats.TotalTokens = cm.promptTokens(messages)

	cm.logger.Debug("context assembled",
		slog.Int("total", stats.TotalTokens),
		slog.Int("window", cm.Window),
		slog.Int("history_messages", len(history)),
		slog.Int("retrieved_records", retrieved))

	return &Prompt{Messages: messages, History: history, Facts: facts}, stats, nil
}

// MaxGenerationTokens returns the completion budget for a prompt of the
// given size: whatever the window leaves, clamped to [256, 4096].
func (cm *ContextManager) MaxGenerationTokens(promptTokens int) int {
	available := cm.Window - promptTokens - int(float64(cm.Window)*shareReserve)
	return max(256, min(4096, available))
}

func (cm *ContextManager) promptTokens(messages []entity.Message) int {
	total := 0
	for i := range messages {
		total += cm.tokens.Tokenize(messages[i].Content)
	}
	return total
}

// boundScratchpad enforces the L1 hard cap by shedding detail: oldest
// facts first, then the observation tail, then the plan tail.
func (cm *ContextManager) boundScratchpad(pad entity.Scratchpad) entity.Scratchpad {
	hardCap := int(float64(cm.Window) * ceilScratchpad)

	for cm.tokens.Tokenize(scratchpadSection(pad)) > hardCap && len(pad.RecentFacts) > 0 {
		pad.RecentFacts = pad.RecentFacts[1:]
	}
	if cm.tokens.Tokenize(scratchpadSection(pad)) > hardCap && len(pad.LastObservation) > 400 {
		pad.LastObservation = pad.LastObservation[:400] + "…"
	}
	if cm.tokens.Tokenize(scratchpadSection(pad)) > hardCap && len(pad.Plan) > 800 {
		pad.Plan = pad.Plan[:800] + "…"
	}
	return pad
}

// retrieveMemory implements the dynamic-k search: grow k while the
// rendered section stays under the target and similarity holds up, never
// past the ceiling.
func (cm *ContextManager) retrieveMemory(ctx context.Context, req BuildRequest) (string, int, int) {
	if cm.memory == nil || len(req.Scopes) == 0 {
		return "", 0, 0
	}

	query := req.Query
	if req.Scratchpad.Goal != "" && req.Scratchpad.Goal != req.Query {
		query = req.Scratchpad.Goal + " " + req.Query
	}

	target := int(float64(cm.Window) * shareMemory)
	ceiling := int(float64(cm.Window) * ceilMemory)

	kMin, kMax := kMinGlobal, kMaxGlobal
	for _, scope := range req.Scopes {
		if scope != memory.ScopeGlobal {
			kMin, kMax = kMinChat, kMaxChat
			break
		}
	}

	var (
		results []memory.ScoredRecord
		text    string
		tokens  int
	)
	for k := kMin; k <= kMax; k++ {
		candidate, err := cm.memory.Search(ctx, req.Scopes, query, k)
		if err != nil {
			cm.logger.Warn("memory retrieval failed, continuing without L3", slog.Any("error", err))
			return "", 0, 0
		}
		if len(candidate) == 0 {
			return "", 0, 0
		}

		// diminishing similarity ends the growth
		if cm.SimilarityFloor > 0 && candidate[len(candidate)-1].Score < cm.SimilarityFloor && k > kMin {
			break
		}

		candidateText := memorySection(candidate)
		candidateTokens := cm.tokens.Tokenize(candidateText)
		if candidateTokens > ceiling {
			break
		}

		results, text, tokens = candidate, candidateText, candidateTokens
		if candidateTokens >= target || len(candidate) < k {
			break
		}
	}

	return text, tokens, len(results)
}

// fillHistory keeps the newest messages that fit the budget. Whatever
// falls off the back is compressed into a single summary message that is
// prepended when it fits; its facts are surfaced to the caller.
func (cm *ContextManager) fillHistory(ctx context.Context, history []entity.Message, budget int) ([]entity.Message, []string, int) {
	if len(history) == 0 {
		return nil, nil, 0
	}

	kept := 0
	tokens := 0
	for i := len(history) - 1; i >= 0; i-- {
		msgTokens := llm.CountMessage(cm.tokens, &history[i])
		if tokens+msgTokens > budget {
			break
		}
		tokens += msgTokens
		kept++
	}

	cut := len(history) - kept
	result := make([]entity.Message, 0, kept+1)

	var facts []string
	if cut > 0 && cm.compressor != nil {
		span := history[:cut]
		if compressed, err := cm.compressor.CompressSpan(ctx, span); err == nil {
			summaryTokens := cm.tokens.Tokenize(compressed.Summary.Content)
			if tokens+summaryTokens <= budget {
				result = append(result, compressed.Summary)
				tokens += summaryTokens
			}
			for _, fact := range compressed.Facts {
				facts = append(facts, fact.Text)
			}
		}
	}

	result = append(result, history[cut:]...)
	return result, facts, tokens
}

// largestBlock returns the index of the biggest compressible message, or
// -1. The leading system message is excluded; it is fixed by contract.
func (cm *ContextManager) largestBlock(messages []entity.Message) int {
	largest, largestTokens := -1, 0
	for i := 1; i < len(messages); i++ {
		t := cm.tokens.Tokenize(messages[i].Content)
		if t > largestTokens {
			largest, largestTokens = i, t
		}
	}
	return largest
}
