package llm

import (
	"strings"
	"unicode/utf8"

	"github.com/musedev/muse/entity"
)

// ImageTokenCost is the flat synthetic cost of one inline image payload.
// Downscaled page/screenshot images land near this after encoding, so the
// budget math never needs pixel counts.
const ImageTokenCost = 65

type (
	// Tokenizer counts tokens for budget decisions. Local servers do not
	// expose a tokenize endpoint uniformly, so the default is an estimate.
	Tokenizer interface {
		Tokenize(text string) int
	}

	// Estimator approximates token counts from text shape. Image payload
	// markers are charged a flat ImageTokenCost each instead of their
	// base64 length.
	Estimator struct{}
)

var _ Tokenizer = Estimator{}

func (Estimator) Tokenize(text string) int {
	if text == "" {
		return 0
	}

	stripped, markers := entity.SplitImages(text)
	tokens := len(markers) * ImageTokenCost

	// ~4 chars per token holds for latin text; the word count times 1.3
	// is a cross-check for text of many short words. The larger of the two
	// views wins.
	byChars := utf8.RuneCountInString(stripped) / 4
	byWords := int(float64(len(strings.Fields(stripped))) * 1.3)

	return tokens + max(byChars, byWords)
}

// CountMessage counts a message, caching the result on the message.
func CountMessage(t Tokenizer, m *entity.Message) int {
	if m.Tokens > 0 {
		return m.Tokens
	}
	m.Tokens = t.Tokenize(m.Content)
	return m.Tokens
}
