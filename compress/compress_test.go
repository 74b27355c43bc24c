package compress_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musedev/muse/compress"
	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/llm"
)

type fakeModel struct {
	reply string
	err   error
	calls int
}

func (m *fakeModel) Generate(_ context.Context, _ []entity.Message, _ llm.GenerateOptions) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func TestExtractFacts(t *testing.T) {
	text := "Fetched https://go.dev/doc/go1.24 and https://go.dev/blog. " +
		"Saved notes to notes.md, see also main.go. Go 1.24.1 released 2025-02-04."

	facts := compress.ExtractFacts(text)

	assert.Contains(t, facts, "https://go.dev/doc/go1.24")
	assert.Contains(t, facts, "notes.md")
	assert.Contains(t, facts, "1.24.1")
	assert.Contains(t, facts, "2025-02-04")
}

func TestExtractFactsFallsBackToPrefix(t *testing.T) {
	text := "Observation: the command printed nothing of note whatsoever"
	facts := compress.ExtractFacts(text)
	assert.Equal(t, "the command printed nothing of note whatsoever", facts)
}

func TestFactImportanceRanksArtifactsHigher(t *testing.T) {
	withURL := compress.FactImportance("urls: https://example.com")
	plain := compress.FactImportance("the build passed")
	assert.Greater(t, withURL, plain)
}

func TestCompressSpan(t *testing.T) {
	model := &fakeModel{reply: "User asked for release notes; web_fetch succeeded; saved to notes.md."}
	c := compress.New(model, llm.Estimator{}, slog.Default())

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	span := []entity.Message{
		{Role: entity.RoleUser, Content: "find the go 1.24 release notes", CreatedAt: base},
		{Role: entity.RoleAssistant, Content: "<THOUGHT>fetch<TOOL>web_fetch<PARAMS>{\"url\": \"https://go.dev/doc/go1.24\"}<END>", CreatedAt: base.Add(time.Minute)},
		{Role: entity.RoleTool, Content: "Observation: fetched https://go.dev/doc/go1.24 (Go 1.24.1, 14k words)", CreatedAt: base.Add(2 * time.Minute)},
	}

	result, err := c.CompressSpan(context.Background(), span)
	require.NoError(t, err)

	assert.Equal(t, entity.RoleSystem, result.Summary.Role)
	assert.True(t, result.Summary.Compressed)
	assert.Equal(t, span[2].CreatedAt, result.Summary.CreatedAt)
	assert.Contains(t, result.Summary.Content, "notes.md")

	require.NotEmpty(t, result.Facts)
	assert.Contains(t, result.Facts[0].Text, "https://go.dev/doc/go1.24")
}

func TestCompressSpanFallsBackWhenModelFails(t *testing.T) {
	model := &fakeModel{err: errors.New("model down")}
	c := compress.New(model, llm.Estimator{}, slog.Default())

	span := []entity.Message{
		{Role: entity.RoleUser, Content: "inspect main.go", CreatedAt: time.Now()},
		{Role: entity.RoleTool, Content: "Observation: read main.go, 300 lines, package main", CreatedAt: time.Now()},
	}

	result, err := c.CompressSpan(context.Background(), span)
	require.NoError(t, err)
	assert.True(t, result.Summary.Compressed)
	assert.Contains(t, result.Summary.Content, "inspect main.go")
}

func TestCompressBlockDropsOldImagesKeepsThree(t *testing.T) {
	model := &fakeModel{reply: "five screenshots of the dashboard"}
	c := compress.New(model, llm.Estimator{}, slog.Default())

	var parts []string
	parts = append(parts, "captured screenshots:")
	for i := 0; i < 5; i++ {
		parts = append(parts, entity.ImageMarker(strings.Repeat("QUJD", 10)))
	}
	msg := entity.Message{Role: entity.RoleTool, Content: strings.Join(parts, "\n"), CreatedAt: time.Now()}

	out := c.CompressBlock(context.Background(), msg, 1000)

	assert.Equal(t, 3, entity.CountImages(out.Content))
	assert.Contains(t, out.Content, "[IMAGES_OMITTED:2]")
}

func TestCompressBlockSummarisesOversizedText(t *testing.T) {
	model := &fakeModel{reply: "long output reduced to its key facts"}
	c := compress.New(model, llm.Estimator{}, slog.Default())

	msg := entity.Message{
		Role:      entity.RoleTool,
		Content:   "Observation: " + strings.Repeat("lorem ipsum dolor sit amet ", 3000),
		CreatedAt: time.Now(),
	}

	out := c.CompressBlock(context.Background(), msg, 100)

	assert.True(t, out.Compressed)
	assert.LessOrEqual(t, llm.Estimator{}.Tokenize(out.Content), 100)
	assert.Equal(t, 1, model.calls)
}

func TestCompressBlockSurvivesModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("model down")}
	c := compress.New(model, llm.Estimator{}, slog.Default())

	msg := entity.Message{
		Role:      entity.RoleTool,
		Content:   "Observation: " + strings.Repeat("data from https://example.com/a ", 4000),
		CreatedAt: time.Now(),
	}

	out := c.CompressBlock(context.Background(), msg, 200)

	assert.True(t, out.Compressed)
	assert.Contains(t, out.Content, "truncated")
	assert.NotEmpty(t, out.Content)
}

func TestSpanTimestampsMonotonic(t *testing.T) {
	base := time.Now()
	ordered := []entity.Message{
		{CreatedAt: base},
		{CreatedAt: base.Add(time.Second)},
	}
	assert.True(t, compress.SpanTimestampsMonotonic(ordered))

	swapped := []entity.Message{ordered[1], ordered[0]}
	assert.False(t, compress.SpanTimestampsMonotonic(swapped))
}
