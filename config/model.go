package config

import (
	"os"
	"strconv"

	"github.com/musedev/muse/errors"
)

// ModelConfig describes the local inference endpoint. The server is
// expected to speak the OpenAI chat-completions dialect (llama.cpp server,
// ollama, vllm all qualify).
type ModelConfig struct {
	// BaseURL of the inference server, e.g. http://127.0.0.1:8080/v1
	BaseURL string `json:"baseUrl"`

	// APIKey is optional; local servers usually ignore it.
	APIKey string `json:"apiKey"`

	// Model name as known to the server.
	Model string `json:"model"`

	// ContextWindow is the model's full context size in tokens. The
	// context manager never assembles a prompt beyond it.
	ContextWindow int `json:"contextWindow"`

	// EmbeddingModel served by the same endpoint's /v1/embeddings.
	EmbeddingModel string `json:"embeddingModel"`

	// EmbeddingDim is fixed for the life of every on-disk index.
	EmbeddingDim int `json:"embeddingDim"`
}

func NewModelConfig() *ModelConfig {
	config := &ModelConfig{
		BaseURL:        os.Getenv("LLM_BASE_URL"),
		APIKey:         os.Getenv("LLM_API_KEY"),
		Model:          os.Getenv("LLM_MODEL"),
		ContextWindow:  getenvInt("LLM_CONTEXT_WINDOW", 24576),
		EmbeddingModel: os.Getenv("EMBEDDING_MODEL"),
		EmbeddingDim:   getenvInt("EMBEDDING_DIM", 768),
	}

	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8080/v1"
	}
	if config.Model == "" {
		config.Model = "local"
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = "nomic-embed-text-v1.5"
	}

	return config
}

func (c *ModelConfig) Validate() error {
	if c.ContextWindow <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "context window must be positive, got %d", c.ContextWindow)
	}
	if c.EmbeddingDim <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "embedding dimension must be positive, got %d", c.EmbeddingDim)
	}
	return nil
}

func getenvInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
