package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/parser"
)

func TestParseFlaggedResponse(t *testing.T) {
	response := "<THOUGHT>\nI should read the file first.\n<TOOL>\nread_file\n<PARAMS>\n{\"file_path\": \"main.go\"}\n<END>"

	step, err := parser.Parse(response)
	require.NoError(t, err)

	assert.Equal(t, "I should read the file first.", step.Thought)
	assert.Equal(t, "read_file", step.Tool)
	assert.Equal(t, map[string]any{"file_path": "main.go"}, step.Params)
	assert.Empty(t, step.Content)
}

func TestParseMissingThought(t *testing.T) {
	// models sometimes skip the thought tag entirely
	step, err := parser.Parse("<TOOL>\nlist_directory\n<PARAMS>\n{\"path\": \".\"}\n<END>")
	require.NoError(t, err)

	assert.Equal(t, "", step.Thought)
	assert.Equal(t, "list_directory", step.Tool)
}

func TestParseRecoversPreToolText(t *testing.T) {
	step, err := parser.Parse("Let me check the directory.\n<TOOL>\nlist_directory\n<PARAMS>\n{}\n<END>")
	require.NoError(t, err)

	assert.Equal(t, "Let me check the directory.", step.Thought)
	assert.Equal(t, "list_directory", step.Tool)
}

func TestParseDefaultsParamsToEmpty(t *testing.T) {
	step, err := parser.Parse("<THOUGHT>\ndone\n<TOOL>\nfinish\n<END>")
	require.NoError(t, err)

	assert.Equal(t, "finish", step.Tool)
	assert.Empty(t, step.Params)
}

func TestParseContentPreservesRawPayload(t *testing.T) {
	content := "import re\n\npattern = r'\\d+\\.\\d+'\n\ndef check(s):\n    return {\"match\": bool(re.search(pattern, s))}"
	response := "<THOUGHT>\nwrite the checker\n<TOOL>\ncreate_file\n<PARAMS>\n{\"file_path\": \"check.py\"}\n<CONTENT>\n" + content + "\n<END>"

	step, err := parser.Parse(response)
	require.NoError(t, err)

	assert.Equal(t, content, step.Content)
}

func TestParseContentKeepsLeadingWhitespace(t *testing.T) {
	content := "    indented first line\n\tsecond line"
	response := "<THOUGHT>\nx\n<TOOL>\nwrite_file\n<PARAMS>\n{\"file_path\": \"a.txt\"}\n<CONTENT>\n" + content + "\n<END>"

	step, err := parser.Parse(response)
	require.NoError(t, err)
	assert.Equal(t, content, step.Content)
}

func TestParseInvalidParamsJSON(t *testing.T) {
	_, err := parser.Parse("<THOUGHT>\nx\n<TOOL>\nread_file\n<PARAMS>\n{not json}\n<END>")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrParse))
}

func TestParseNoToolAnywhere(t *testing.T) {
	_, err := parser.Parse("I think the answer is 42.")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrParse))
}

func TestParseJSONFallback(t *testing.T) {
	step, err := parser.Parse(`{"thought": "search it", "tool": "internet_search", "params": {"query": "go 1.24"}}`)
	require.NoError(t, err)

	assert.Equal(t, "search it", step.Thought)
	assert.Equal(t, "internet_search", step.Tool)
	assert.Equal(t, map[string]any{"query": "go 1.24"}, step.Params)
}

func TestParseJSONFallbackLegacyShape(t *testing.T) {
	step, err := parser.Parse(`{"thought": "t", "action": {"tool_name": "finish", "parameters": {"final_answer": "done"}}}`)
	require.NoError(t, err)

	assert.Equal(t, "finish", step.Tool)
	assert.Equal(t, map[string]any{"final_answer": "done"}, step.Params)
}

func TestParseJSONFallbackInMarkdownFence(t *testing.T) {
	response := "Here you go:\n```json\n{\"thought\": \"t\", \"tool\": \"finish\", \"params\": {}}\n```"
	step, err := parser.Parse(response)
	require.NoError(t, err)
	assert.Equal(t, "finish", step.Tool)
}

func TestParseJSONFallbackNestedBraces(t *testing.T) {
	response := `prefix {"thought": "t", "tool": "create_file", "params": {"file_path": "a.json", "opts": {"indent": 2}}} suffix`
	step, err := parser.Parse(response)
	require.NoError(t, err)
	assert.Equal(t, "create_file", step.Tool)
}

func TestEmitParseRoundTrip(t *testing.T) {
	steps := []*entity.AgentStep{
		{Thought: "think", Tool: "finish", Params: map[string]any{"final_answer": "ok"}},
		{Thought: "", Tool: "list_directory", Params: map[string]any{}},
		{
			Thought: "multi\nline\nthought",
			Tool:    "create_file",
			Params:  map[string]any{"file_path": "hello.py"},
			Content: "def greet(name):\n    return f\"Hello, {name}!\"\n\nprint(greet(\"world\"))",
		},
		{
			Thought: "regex payload",
			Tool:    "write_file",
			Params:  map[string]any{"file_path": "re.txt"},
			Content: `r'\d+\.\d+' and {nested {braces}} and "quotes"`,
		},
	}

	for _, want := range steps {
		got, err := parser.Parse(parser.Emit(want))
		require.NoError(t, err)
		assert.Equal(t, want.Thought, got.Thought)
		assert.Equal(t, want.Tool, got.Tool)
		assert.Equal(t, want.Content, got.Content)
		assert.Equal(t, len(want.Params), len(got.Params))
		for k, v := range want.Params {
			assert.EqualValues(t, v, got.Params[k])
		}
	}
}
