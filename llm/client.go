package llm

import (
	"context"

	goopenai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/musedev/muse/config"
	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
)

type (
	// GenerateOptions bound a single completion call.
	GenerateOptions struct {
		MaxTokens   int
		Temperature float64
		Stop        []string
	}

	// Model is the abstract generation handle the rest of the core
	// depends on. Exactly one lives per process; it is constructed at
	// start-up and injected everywhere.
	Model interface {
		Generate(ctx context.Context, messages []entity.Message, opts GenerateOptions) (string, error)
	}

	// Client talks to a local OpenAI-compatible inference server.
	Client struct {
		client *goopenai.Client
		model  string
	}
)

var _ Model = (*Client)(nil)

func NewClient(conf *config.ModelConfig) *Client {
	client := goopenai.NewClient(
		option.WithBaseURL(conf.BaseURL),
		option.WithAPIKey(conf.APIKey),
	)

	return &Client{
		client: client,
		model:  conf.Model,
	}
}

func (c *Client) Generate(ctx context.Context, messages []entity.Message, opts GenerateOptions) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case entity.RoleSystem:
			msgs = append(msgs, goopenai.SystemMessage(m.Content))
		case entity.RoleAssistant:
			msgs = append(msgs, goopenai.AssistantMessage(m.Content))
		default:
			// tool observations ride as user turns; small local models
			// rarely implement the tool role
			msgs = append(msgs, goopenai.UserMessage(m.Content))
		}
	}

	params := goopenai.ChatCompletionNewParams{
		Model:    goopenai.String(c.model),
		Messages: goopenai.F(msgs),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = goopenai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = goopenai.Float(opts.Temperature)
	}
	if len(opts.Stop) > 0 {
		params.Stop = goopenai.F[goopenai.ChatCompletionNewParamsStopUnion](
			goopenai.ChatCompletionNewParamsStopArray(opts.Stop),
		)
	}

	res, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.Wrapf(err, "failed to generate completion")
	}
	if len(res.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}

	return res.Choices[0].Message.Content, nil
}
