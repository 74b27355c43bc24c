package llm

import (
	"context"

	goopenai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/musedev/muse/config"
	"github.com/musedev/muse/errors"
)

type (
	// Embedder produces fixed-dimension embeddings. The dimension never
	// changes for the life of the process; on-disk indices built with a
	// different dimension are rejected with ErrMemory at open time.
	Embedder interface {
		Embed(ctx context.Context, texts ...string) ([][]float32, error)
		Dimension() int
	}

	// OpenAIEmbedder calls the local endpoint's /v1/embeddings.
	OpenAIEmbedder struct {
		client *goopenai.Client
		model  string
		dim    int
	}
)

var _ Embedder = (*OpenAIEmbedder)(nil)

func NewOpenAIEmbedder(conf *config.ModelConfig) *OpenAIEmbedder {
	client := goopenai.NewClient(
		option.WithBaseURL(conf.BaseURL),
		option.WithAPIKey(conf.APIKey),
	)

	return &OpenAIEmbedder{
		client: client,
		model:  conf.EmbeddingModel,
		dim:    conf.EmbeddingDim,
	}
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts ...string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	res, err := e.client.Embeddings.New(ctx, goopenai.EmbeddingNewParams{
		Input: goopenai.F[goopenai.EmbeddingNewParamsInputUnion](
			goopenai.EmbeddingNewParamsInputArrayOfStrings(texts),
		),
		Model:          goopenai.F(goopenai.EmbeddingModel(e.model)),
		EncodingFormat: goopenai.F(goopenai.EmbeddingNewParamsEncodingFormatFloat),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to embed %d texts", len(texts))
	}

	embeddings := make([][]float32, len(res.Data))
	for i, emb := range res.Data {
		vec := make([]float32, len(emb.Embedding))
		for j, v := range emb.Embedding {
			vec[j] = float32(v)
		}
		if len(vec) != e.dim {
			return nil, errors.Wrapf(errors.ErrMemory, "embedding dimension mismatch: got %d, want %d", len(vec), e.dim)
		}
		embeddings[i] = vec
	}

	return embeddings, nil
}
