package memory

import (
	"context"
	"time"
)

type (
	// Scope names one isolated index: the shared "global" scope or a
	// per-chat "chat:<id>" scope.
	Scope string

	// Record is one L3 entry. Records are immutable except for
	// Importance; deletion is explicit.
	Record struct {
		ID         string         `json:"id"`
		Text       string         `json:"text"`
		Embedding  []float32      `json:"-"`
		Importance float64        `json:"importance"`
		Scope      Scope          `json:"scope"`
		Metadata   map[string]any `json:"metadata,omitempty"`
		CreatedAt  time.Time      `json:"created_at"`
	}

	// ScoredRecord pairs a record with its similarity to a query; higher
	// is closer. InMemoryStore scores lie in [0,1]; SqliteStore scores are
	// 1 minus the vector distance and can drop below 0.
	ScoredRecord struct {
		Record *Record `json:"record"`
		Score  float64 `json:"score"`
	}

	// Store is one scope's index.
	Store interface {
		Add(ctx context.Context, record *Record) error
		Search(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredRecord, error)
		List(ctx context.Context) ([]*Record, error)
		Delete(ctx context.Context, id string) error
		SetImportance(ctx context.Context, id string, importance float64) error
		Count(ctx context.Context) (int, error)
		Close() error
	}
)

const ScopeGlobal Scope = "global"

// ChatScope names the scope of one chat's project memory.
func ChatScope(chatName string) Scope {
	return Scope("chat:" + chatName)
}
