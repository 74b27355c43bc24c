package agent_test

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musedev/muse/agent"
	"github.com/musedev/muse/chat"
	"github.com/musedev/muse/compress"
	"github.com/musedev/muse/config"
	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/llm"
	"github.com/musedev/muse/memory"
	"github.com/musedev/muse/tool"
)

// scriptModel replays canned replies and records every prompt it saw.
type scriptModel struct {
	replies []string
	prompts [][]entity.Message
}

func (m *scriptModel) Generate(_ context.Context, messages []entity.Message, _ llm.GenerateOptions) (string, error) {
	m.prompts = append(m.prompts, messages)
	if len(m.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

type unitEmbedder struct{}

func (unitEmbedder) Dimension() int { return 8 }
func (unitEmbedder) Embed(_ context.Context, texts ...string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 8)
		for j, r := range text {
			vec[j%8] += float32(r % 7)
		}
		out[i] = vec
	}
	return out, nil
}

type fixture struct {
	agent    *agent.Agent
	model    *scriptModel
	registry *tool.Registry
	home     string
	fetches  *int
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()

	home := t.TempDir()
	logger := slog.Default()

	memConf := config.NewMemoryConfig()
	memConf.SqliteEnabled = false

	chats, err := chat.NewStore(filepath.Join(home, "chats"), logger)
	require.NoError(t, err)

	mem := memory.NewService(unitEmbedder{}, memConf, logger,
		filepath.Join(home, "memory", "global"), chats.MemoryDir)

	model := &scriptModel{replies: replies}
	compressor := compress.New(model, llm.Estimator{}, logger)

	registry := tool.NewRegistryWithBuiltins(tool.Deps{
		Logger:    logger,
		Tools:     &config.ToolConfig{},
		FireCrawl: &config.FireCrawlConfig{},
		Embedder:  unitEmbedder{},
	})

	// a network-class tool whose dispatch count proves loop protection
	fetches := 0
	tool.Register(registry, "fake_fetch", "test fetch", tool.ClassNetwork,
		func(_ context.Context, in struct {
			URL string `json:"url"`
		}) (string, error) {
			fetches++
			return "content of " + in.URL, nil
		})

	agentConf := config.NewAgentConfig()
	agentConf.MaxCycles = 10

	a, err := agent.New(agent.Options{
		Logger:     logger,
		Model:      model,
		Tokenizer:  llm.Estimator{},
		Registry:   registry,
		Memory:     mem,
		Compressor: compressor,
		Chats:      chats,
		Agent:      agentConf,
		MemoryConf: memConf,
		Window:     24576,
	})
	require.NoError(t, err)

	return &fixture{agent: a, model: model, registry: registry, home: home, fetches: &fetches}
}

func flagStep(thought, toolName, params, content string) string {
	s := "<THOUGHT>\n" + thought + "\n<TOOL>\n" + toolName + "\n<PARAMS>\n" + params + "\n"
	if content != "" {
		s += "<CONTENT>\n" + content + "\n"
	}
	return s + "<END>"
}

func TestFileCreationTask(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "hello.py")

	f := newFixture(t,
		"1. create the file\n2. finish",
		flagStep("create the greeting module", "create_file",
			fmt.Sprintf("{\"file_path\": %q}", target),
			"def greet(name):\n    return f\"Hello, {name}!\"\n"),
		flagStep("done", "finish", "{\"final_answer\": \"created hello.py with a greet function\"}", ""),
	)

	result, err := f.agent.RunTask(context.Background(), "create file hello.py with a greet function", nil)
	require.NoError(t, err)

	assert.Equal(t, "created hello.py with a greet function", result.FinalAnswer)
	assert.False(t, result.TimedOut)
	assert.Zero(t, *f.fetches, "no network tool may run for a local task")

	obs := f.registry.Execute(context.Background(), "read_file", map[string]any{"file_path": target})
	require.True(t, obs.OK)
	assert.Contains(t, obs.Summary, "def greet")
}

func TestDuplicateNetworkCallShortCircuited(t *testing.T) {
	f := newFixture(t,
		"1. fetch\n2. finish",
		flagStep("fetch it", "fake_fetch", `{"url": "https://example.com/docs/"}`, ""),
		// same page, cosmetically different URL
		flagStep("fetch again", "fake_fetch", `{"url": "https://EXAMPLE.com/docs#section"}`, ""),
		flagStep("done", "finish", `{"final_answer": "ok"}`, ""),
	)

	result, err := f.agent.RunTask(context.Background(), "summarise example.com/docs", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.FinalAnswer)

	assert.Equal(t, 1, *f.fetches, "the duplicate call must not reach the network")

	history := f.agent.ActiveChat().History
	var guided bool
	for _, m := range history {
		if strings.Contains(m.Content, "duplicate call") {
			guided = true
		}
	}
	assert.True(t, guided, "a guidance observation should replace the duplicate call")
}

func TestParseErrorRecovered(t *testing.T) {
	f := newFixture(t,
		"plan",
		"I will just answer in prose, ignoring the format.",
		flagStep("apologies", "finish", `{"final_answer": "recovered"}`, ""),
	)

	result, err := f.agent.RunTask(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.FinalAnswer)

	var corrected bool
	for _, m := range f.agent.ActiveChat().History {
		if strings.Contains(m.Content, "format violation") {
			corrected = true
		}
	}
	assert.True(t, corrected)
}

func TestRepeatedParseErrorsAbort(t *testing.T) {
	f := newFixture(t,
		"plan",
		"prose one",
		"prose two",
		"prose three",
	)

	result, err := f.agent.RunTask(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Contains(t, result.FinalAnswer, "format")
}

func TestMissingThoughtStillExecutes(t *testing.T) {
	f := newFixture(t,
		"plan",
		"<TOOL>\nfinish\n<PARAMS>\n{\"final_answer\": \"thoughtless\"}\n<END>",
	)

	result, err := f.agent.RunTask(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, "thoughtless", result.FinalAnswer)
}

func TestCycleLimitReturnsTimeout(t *testing.T) {
	replies := []string{"plan"}
	for i := 0; i < 12; i++ {
		replies = append(replies, flagStep("look around", "list_directory", `{"path": "."}`, ""))
	}
	f := newFixture(t, replies...)

	result, err := f.agent.RunTask(context.Background(), "never finishes", nil)
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.Equal(t, 10, result.Cycles)
	assert.NotEmpty(t, result.LastObservation)
}

func TestToolErrorTriggersReflection(t *testing.T) {
	f := newFixture(t,
		"plan",
		flagStep("read missing file", "read_file", `{"file_path": "/definitely/not/here.txt"}`, ""),
		flagStep("change approach", "finish", `{"final_answer": "gave up gracefully"}`, ""),
	)

	result, err := f.agent.RunTask(context.Background(), "read a file", nil)
	require.NoError(t, err)
	assert.Equal(t, "gave up gracefully", result.FinalAnswer)

	// the prompt after the failure carries the self-reflection directive
	var reflected bool
	for _, prompt := range f.model.prompts {
		last := prompt[len(prompt)-1]
		if strings.Contains(last.Content, "tool call failed") {
			reflected = true
		}
	}
	assert.True(t, reflected)
}

func TestCallbackCanDeclineAction(t *testing.T) {
	f := newFixture(t,
		"plan",
		flagStep("run something", "run_shell_command", `{"command": "echo hi"}`, ""),
		flagStep("ok then", "finish", `{"final_answer": "done"}`, ""),
	)

	declined := 0
	result, err := f.agent.RunTask(context.Background(), "anything", func(step *entity.AgentStep) bool {
		if step.Tool == "run_shell_command" {
			declined++
			return false
		}
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result.FinalAnswer)
	assert.Equal(t, 1, declined)
}

func TestTaskStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "hello.py")

	f := newFixture(t,
		"plan",
		flagStep("create", "create_file", fmt.Sprintf("{\"file_path\": %q}", target), "def greet():\n    return \"hi\"\n"),
		flagStep("done", "finish", `{"final_answer": "saved"}`, ""),
	)

	_, err := f.agent.RunTask(context.Background(), "create hello.py", nil)
	require.NoError(t, err)

	savedHistory := f.agent.ActiveChat().History

	// a fresh agent over the same home loads identical state
	logger := slog.Default()
	chats, err := chat.NewStore(filepath.Join(f.home, "chats"), logger)
	require.NoError(t, err)

	loaded, err := chats.Load(agent.DefaultChatName)
	require.NoError(t, err)

	require.Len(t, loaded.History, len(savedHistory))
	for i := range savedHistory {
		assert.Equal(t, savedHistory[i].Role, loaded.History[i].Role)
		assert.Equal(t, savedHistory[i].Content, loaded.History[i].Content)
	}
	assert.Equal(t, "create hello.py", loaded.Scratchpad.Goal)
}

func TestChatLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.agent

	require.NoError(t, a.NewChat("research", "notes"))
	assert.Equal(t, "research", a.ActiveChat().Meta.Name)

	require.NoError(t, a.SaveChat("notes about things"))
	require.NoError(t, a.SwitchChat(agent.DefaultChatName))

	err := a.DeleteChat(agent.DefaultChatName)
	require.Error(t, err, "deleting the active chat must be refused")

	require.NoError(t, a.DeleteChat("research"))

	saved, err := a.ListSavedChats()
	require.NoError(t, err)
	for _, meta := range saved {
		assert.NotEqual(t, "research", meta.Name)
	}
}
