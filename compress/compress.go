// Package compress shrinks history spans and single oversized blocks so
// the prompt always fits the context window. Summarisation is LLM-driven
// with a bounded prompt; when the model call fails the fallback is
// truncation plus regex fact extraction, never a dropped session.
package compress

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/llm"
)

const (
	// summaryInputLimit clips what we feed the summarisation prompt so a
	// compression call can never itself overflow.
	summaryInputLimit = 3000

	// maxImagesPerMessage survives block compression; older images are
	// dropped first.
	maxImagesPerMessage = 3
)

var (
	//go:embed data/span_summary.md.tmpl
	spanSummaryTmpl     string
	spanSummaryTemplate = template.Must(template.New("span_summary").Parse(spanSummaryTmpl))

	//go:embed data/observation_summary.md.tmpl
	observationSummaryTmpl     string
	observationSummaryTemplate = template.Must(template.New("observation_summary").Parse(observationSummaryTmpl))
)

type (
	// Fact is one extracted durable item plus its L3 importance.
	Fact struct {
		Text       string
		Importance float64
	}

	// SpanResult is the outcome of compressing a contiguous history span.
	SpanResult struct {
		Summary entity.Message
		Facts   []Fact
	}

	Compressor struct {
		model  llm.Model
		tokens llm.Tokenizer
		logger *slog.Logger

		// SummaryTokens bounds the summariser's output.
		SummaryTokens int
	}
)

func New(model llm.Model, tokens llm.Tokenizer, logger *slog.Logger) *Compressor {
	return &Compressor{
		model:         model,
		tokens:        tokens,
		logger:        logger,
		SummaryTokens: 256,
	}
}

// CompressSpan replaces a contiguous span of messages with one system-role
// summary message tagged compressed=true. The summary preserves user
// intents, each tool call and its outcome, and the span's extracted facts;
// those facts are also returned so the caller can promote them to L3. The
// summary's timestamp equals the span's last message timestamp.
func (c *Compressor) CompressSpan(ctx context.Context, span []entity.Message) (*SpanResult, error) {
	if len(span) == 0 {
		return nil, errors.New("empty span")
	}

	facts := c.collectFacts(span)

	summaryText, err := c.summarizeSpan(ctx, span)
	if err != nil {
		c.logger.Warn("span summarisation failed, falling back to fact digest", slog.Any("error", err))
		summaryText = c.fallbackSpanSummary(span, facts)
	}

	summary := entity.Message{
		Role:       entity.RoleSystem,
		Content:    "[compressed history] " + summaryText,
		Compressed: true,
		CreatedAt:  span[len(span)-1].CreatedAt,
	}

	return &SpanResult{Summary: summary, Facts: facts}, nil
}

func (c *Compressor) collectFacts(span []entity.Message) []Fact {
	var facts []Fact
	seen := map[string]bool{}
	for _, msg := range span {
		if msg.Role != entity.RoleTool {
			continue
		}
		text, _ := entity.SplitImages(msg.Content)
		fact := ExtractFacts(text)
		if len(fact) < 20 || seen[fact] {
			continue
		}
		seen[fact] = true
		facts = append(facts, Fact{Text: fact, Importance: FactImportance(fact)})
	}
	return facts
}

func (c *Compressor) summarizeSpan(ctx context.Context, span []entity.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range span {
		text, markers := entity.SplitImages(msg.Content)
		if len(markers) > 0 {
			text += fmt.Sprintf(" [%d image(s)]", len(markers))
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, clip(text, 400))
	}

	var prompt strings.Builder
	if err := spanSummaryTemplate.Execute(&prompt, struct {
		Transcript string
		MaxTokens  int
	}{
		Transcript: clip(transcript.String(), summaryInputLimit),
		MaxTokens:  c.SummaryTokens,
	}); err != nil {
		return "", errors.Wrapf(err, "failed to render span summary prompt")
	}

	out, err := c.model.Generate(ctx, []entity.Message{
		{Role: entity.RoleUser, Content: prompt.String()},
	}, llm.GenerateOptions{MaxTokens: c.SummaryTokens, Temperature: 0.2})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("summariser returned empty text")
	}
	return out, nil
}

func (c *Compressor) fallbackSpanSummary(span []entity.Message, facts []Fact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d earlier messages elided.", len(span))
	for _, msg := range span {
		if msg.Role == entity.RoleUser && !strings.HasPrefix(msg.Content, "Observation:") {
			fmt.Fprintf(&b, " Task: %s.", clip(msg.Content, 120))
			break
		}
	}
	for i, fact := range facts {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, " %s.", fact.Text)
	}
	return b.String()
}

// CompressBlock shrinks a single oversized message in place instead of
// dropping the session. Image-bearing messages keep at most the three most
// recent images, with a visible omission marker; the text portion is then
// LLM-summarised if still over budget.
func (c *Compressor) CompressBlock(ctx context.Context, msg entity.Message, budgetTokens int) entity.Message {
	text, markers := entity.SplitImages(msg.Content)

	if len(markers) > maxImagesPerMessage {
		dropped := len(markers) - maxImagesPerMessage
		markers = markers[len(markers)-maxImagesPerMessage:]
		text = strings.TrimSpace(text + "\n" + entity.ImagesOmittedNotice(dropped))
		c.logger.Info("dropped images from oversized message", slog.Int("dropped", dropped))
	}

	rebuilt := func(t string) string {
		parts := make([]string, 0, 1+len(markers))
		if t != "" {
			parts = append(parts, t)
		}
		parts = append(parts, markers...)
		return strings.Join(parts, "\n")
	}

	out := msg
	out.Content = rebuilt(text)
	out.Tokens = 0
	if c.tokens.Tokenize(out.Content) <= budgetTokens {
		return out
	}

	summary, err := c.SummarizeObservation(ctx, text)
	if err != nil {
		c.logger.Warn("block summarisation failed, truncating", slog.Any("error", err))
		keep := budgetTokens * 4 // estimator inverse: ~4 chars per token
		if keep < 200 {
			keep = 200
		}
		summary = clip(text, keep) + "… (truncated) | " + ExtractFacts(text)
	}

	out.Content = rebuilt(summary)
	out.Compressed = true
	out.Tokens = 0
	return out
}

// SummarizeObservation reduces a long tool result to a few sentences of
// key facts via the model.
func (c *Compressor) SummarizeObservation(ctx context.Context, text string) (string, error) {
	var prompt strings.Builder
	if err := observationSummaryTemplate.Execute(&prompt, struct {
		Text string
	}{
		Text: clip(text, summaryInputLimit),
	}); err != nil {
		return "", errors.Wrapf(err, "failed to render observation summary prompt")
	}

	out, err := c.model.Generate(ctx, []entity.Message{
		{Role: entity.RoleUser, Content: prompt.String()},
	}, llm.GenerateOptions{MaxTokens: c.SummaryTokens, Temperature: 0.2})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("summariser returned empty text")
	}
	return out, nil
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// SpanTimestampsMonotonic is true when msgs are in non-decreasing
// timestamp order; compression never reorders, so it must stay true.
func SpanTimestampsMonotonic(msgs []entity.Message) bool {
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			return false
		}
	}
	return true
}
