package tool_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musedev/muse/tool"
)

type echoRequest struct {
	Text  string `json:"text"`
	Times int    `json:"times,omitempty"`
}

func newRegistry() *tool.Registry {
	r := tool.NewRegistry(slog.Default())
	tool.Register(r, "echo", "echo text", tool.ClassRead, func(_ context.Context, in echoRequest) (string, error) {
		out := in.Text
		for i := 1; i < in.Times; i++ {
			out += " " + in.Text
		}
		return out, nil
	})
	return r
}

func TestExecuteValidCall(t *testing.T) {
	r := newRegistry()

	obs := r.Execute(context.Background(), "echo", map[string]any{"text": "hi", "times": 2})
	assert.True(t, obs.OK)
	assert.Equal(t, "hi hi", obs.Summary)
}

func TestExecuteMissingRequiredParam(t *testing.T) {
	r := newRegistry()

	obs := r.Execute(context.Background(), "echo", map[string]any{"times": 2})
	assert.False(t, obs.OK)
	assert.Contains(t, obs.Summary, "invalid params")
	assert.Contains(t, obs.Summary, "text")
}

func TestExecuteUnknownTool(t *testing.T) {
	r := newRegistry()

	obs := r.Execute(context.Background(), "nope", nil)
	assert.False(t, obs.OK)
	assert.Contains(t, obs.Summary, "unknown tool")
}

func TestExecuteWeaklyTypedParams(t *testing.T) {
	// models often send numbers as strings; dispatch should cope
	r := newRegistry()

	obs := r.Execute(context.Background(), "echo", map[string]any{"text": "x", "times": "3"})
	assert.True(t, obs.OK)
	assert.Equal(t, "x x x", obs.Summary)
}

func TestExecuteTimeout(t *testing.T) {
	r := tool.NewRegistry(slog.Default())
	tool.Register(r, "sleepy", "sleeps", tool.ClassExec, func(ctx context.Context, _ struct{}) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	r.Get("sleepy").Timeout = 50 * time.Millisecond

	start := time.Now()
	obs := r.Execute(context.Background(), "sleepy", nil)
	assert.False(t, obs.OK)
	assert.True(t, obs.Timeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteRecoversPanic(t *testing.T) {
	r := tool.NewRegistry(slog.Default())
	tool.Register(r, "boom", "panics", tool.ClassExec, func(_ context.Context, _ struct{}) (string, error) {
		panic("kaboom")
	})

	obs := r.Execute(context.Background(), "boom", nil)
	assert.False(t, obs.OK)
	assert.Contains(t, obs.Summary, "kaboom")
}

func TestRestrictKeepsFinish(t *testing.T) {
	r := newRegistry()
	tool.RegisterFinish(r)

	r.Restrict([]string{"echo"})

	assert.NotNil(t, r.Get("echo"))
	assert.NotNil(t, r.Get("finish"))
}

func TestSchemaStringListsFields(t *testing.T) {
	r := newRegistry()

	schema := r.Get("echo").SchemaString()
	assert.Contains(t, schema, "text: string")
	assert.Contains(t, schema, "times: integer (optional)")
}

func TestListIsSorted(t *testing.T) {
	r := newRegistry()
	tool.RegisterFinish(r)

	tools := r.List()
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "finish", tools[1].Name)
}
