// Package parser turns raw model output into a structured AgentStep.
//
// The primary format is flag-delimited so that regex strings, JSON
// fragments and multi-line source code can ride in a <CONTENT> block
// without any escaping:
//
//	<THOUGHT>
//	free text
//	<TOOL>
//	tool name
//	<PARAMS>
//	{"param": "value"}
//	<CONTENT>
//	raw payload, verbatim
//	<END>
//
// When the flag format cannot be recognised at all, a JSON fallback is
// attempted before giving up with ErrParse.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
)

const (
	TagThought = "<THOUGHT>"
	TagTool    = "<TOOL>"
	TagParams  = "<PARAMS>"
	TagContent = "<CONTENT>"
	TagEnd     = "<END>"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Parse recognises the flag format first and falls back to JSON. It fails
// with ErrParse only when neither path yields a tool name.
func Parse(response string) (*entity.AgentStep, error) {
	step, flagErr := parseFlagged(response)
	if flagErr == nil {
		return step, nil
	}

	step, jsonErr := parseJSON(response)
	if jsonErr == nil {
		return step, nil
	}

	return nil, errors.Wrapf(errors.ErrParse, "flag format: %v; json fallback: %v", flagErr, jsonErr)
}

func parseFlagged(response string) (*entity.AgentStep, error) {
	toolPos := strings.Index(response, TagTool)
	if toolPos < 0 {
		return nil, errors.New("missing required <TOOL> flag")
	}

	step := &entity.AgentStep{Params: map[string]any{}}

	// thought: the <THOUGHT> block when present, otherwise whatever free
	// text precedes <TOOL> (models sometimes skip the tag)
	pre := response[:toolPos]
	if thoughtPos := strings.Index(pre, TagThought); thoughtPos >= 0 {
		step.Thought = strings.TrimSpace(pre[thoughtPos+len(TagThought):])
	} else {
		step.Thought = strings.TrimSpace(pre)
	}

	rest := response[toolPos+len(TagTool):]
	toolEnd := nextTag(rest)
	toolName := rest
	if toolEnd >= 0 {
		toolName = rest[:toolEnd]
	}
	step.Tool = strings.TrimSpace(toolName)
	if step.Tool == "" {
		return nil, errors.New("empty tool name after <TOOL>")
	}

	if paramsPos := strings.Index(rest, TagParams); paramsPos >= 0 {
		block := rest[paramsPos+len(TagParams):]
		if end := nextTag(block); end >= 0 {
			block = block[:end]
		}
		block = strings.TrimSpace(block)
		if block != "" {
			if err := json.Unmarshal([]byte(block), &step.Params); err != nil {
				return nil, errors.Wrapf(err, "invalid JSON in <PARAMS>")
			}
		}
	}

	if contentPos := strings.Index(rest, TagContent); contentPos >= 0 {
		body := rest[contentPos+len(TagContent):]
		endPos := strings.Index(body, TagEnd)
		if endPos < 0 {
			endPos = len(body)
		}
		step.Content = cutDelimiters(body[:endPos])
	}

	return step, nil
}

// cutDelimiters removes exactly the newline that follows <CONTENT> and the
// one that precedes <END>. Everything between them is verbatim payload.
func cutDelimiters(body string) string {
	body = strings.TrimPrefix(body, "\r\n")
	if !strings.HasPrefix(body, "\r") {
		body = strings.TrimPrefix(body, "\n")
	}
	body = strings.TrimSuffix(body, "\n")
	body = strings.TrimSuffix(body, "\r")
	return body
}

func nextTag(s string) int {
	pos := -1
	for _, tag := range []string{TagParams, TagContent, TagEnd} {
		if i := strings.Index(s, tag); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}
	return pos
}

// parseJSON accepts a single top-level object with fields thought, tool,
// params and optional content. The legacy nested shape
// {thought, action:{tool_name, parameters}} is accepted too.
func parseJSON(response string) (*entity.AgentStep, error) {
	var obj map[string]any

	if m := fencedJSONRe.FindStringSubmatch(response); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &obj); err != nil {
			obj = nil
		}
	}
	if obj == nil {
		if raw := balancedObject(response); raw != "" {
			if err := json.Unmarshal([]byte(raw), &obj); err != nil {
				obj = nil
			}
		}
	}
	if obj == nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &obj); err != nil {
			return nil, errors.New("no valid JSON object found")
		}
	}

	step := &entity.AgentStep{Params: map[string]any{}}
	step.Thought, _ = obj["thought"].(string)
	step.Tool, _ = obj["tool"].(string)
	if params, ok := obj["params"].(map[string]any); ok {
		step.Params = params
	}
	step.Content, _ = obj["content"].(string)

	if step.Tool == "" {
		if action, ok := obj["action"].(map[string]any); ok {
			step.Tool, _ = action["tool_name"].(string)
			if params, ok := action["parameters"].(map[string]any); ok {
				step.Params = params
			}
		}
	}

	if step.Tool == "" {
		return nil, errors.New("JSON object carries no tool name")
	}

	return step, nil
}

// balancedObject extracts the first brace-balanced {...} span.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// Emit renders a step in the canonical flag form. Parse(Emit(s)) == s for
// every step whose params survive a JSON round-trip.
func Emit(step *entity.AgentStep) string {
	var b strings.Builder

	b.WriteString(TagThought)
	b.WriteByte('\n')
	b.WriteString(step.Thought)
	b.WriteByte('\n')

	b.WriteString(TagTool)
	b.WriteByte('\n')
	b.WriteString(step.Tool)
	b.WriteByte('\n')

	params := step.Params
	if params == nil {
		params = map[string]any{}
	}
	raw, _ := json.Marshal(params)
	b.WriteString(TagParams)
	b.WriteByte('\n')
	b.Write(raw)
	b.WriteByte('\n')

	if step.Content != "" {
		b.WriteString(TagContent)
		b.WriteByte('\n')
		b.WriteString(step.Content)
		b.WriteByte('\n')
	}

	b.WriteString(TagEnd)
	return b.String()
}
