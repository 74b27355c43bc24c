package config

import "os"

type MemoryConfig struct {
	// SqliteEnabled selects the sqlite-vec store; when false the agent
	// falls back to the volatile in-process index.
	SqliteEnabled bool `json:"sqliteEnabled"`

	// SimilarityFloor is the score below which dynamic-k retrieval stops
	// growing the result set.
	SimilarityFloor float64 `json:"similarityFloor"`

	// ImportanceThreshold gates which extracted facts are worth an L3
	// record during compression.
	ImportanceThreshold float64 `json:"importanceThreshold"`
}

func NewMemoryConfig() *MemoryConfig {
	config := &MemoryConfig{
		SqliteEnabled:       os.Getenv("MEMORY_SQLITE_DISABLED") != "true",
		SimilarityFloor:     0.35,
		ImportanceThreshold: 0.4,
	}
	return config
}
