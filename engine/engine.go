// Package engine assembles the token-bounded prompt for every model call.
// Five priority classes share the context window; critical classes are
// never cut, history absorbs whatever is left, and single oversized blocks
// are compressed in place rather than ending the session.
package engine

import (
	"log/slog"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/musedev/muse/compress"
	"github.com/musedev/muse/llm"
	"github.com/musedev/muse/memory"
)

// Budget shares of the context window per class.
const (
	shareSystem     = 0.15
	shareScratchpad = 0.10
	shareMemory     = 0.20
	shareHistory    = 0.50
	shareReserve    = 0.05

	floorScratchpad = 0.05
	ceilScratchpad  = 0.15
	floorMemory     = 0.05
	ceilMemory      = 0.30
	floorHistory    = 0.30
	ceilHistory     = 0.70

	// dynamic-k bounds for L3 retrieval, per scope kind
	kMinGlobal = 2
	kMaxGlobal = 5
	kMinChat   = 3
	kMaxChat   = 7

	// blockCompressRetries bounds step 5 of the assembly algorithm.
	blockCompressRetries = 3
)

type (
	ContextManager struct {
		tokens     llm.Tokenizer
		memory     *memory.Service
		compressor *compress.Compressor
		logger     *slog.Logger

		// Window is the model context size in tokens.
		Window int

		// SimilarityFloor stops dynamic-k growth once retrieval quality
		// degrades below it.
		SimilarityFloor float64
	}

	// Stats reports how one assembled prompt spent the window.
	Stats struct {
		SystemTokens     int            `json:"system_tokens"`
		ScratchpadTokens int            `json:"scratchpad_tokens"`
		MemoryTokens     int            `json:"memory_tokens"`
		HistoryTokens    int            `json:"history_tokens"`
		TotalTokens      int            `json:"total_tokens"`
		TrimmedMessages  int            `json:"trimmed_messages"`
		RetrievedRecords int            `json:"retrieved_records"`
		Redistribution   map[string]int `json:"redistribution,omitempty"`
	}
)

func NewContextManager(
	tokens llm.Tokenizer,
	memoryService *memory.Service,
	compressor *compress.Compressor,
	logger *slog.Logger,
	window int,
	similarityFloor float64,
) *ContextManager {
	return &ContextManager{
		tokens:          tokens,
		memory:          memoryService,
		compressor:      compressor,
		logger:          logger,
		Window:          window,
		SimilarityFloor: similarityFloor,
	}
}

func funcMap() template.FuncMap {
	return sprig.FuncMap()
}
