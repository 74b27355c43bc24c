// Package agent drives the ReAct cycle: build a bounded prompt, call the
// model, parse the step, dispatch the tool, observe, repeat. One agent
// instance owns exactly one active chat at a time.
package agent

import (
	"log/slog"

	"github.com/samber/lo"

	"github.com/musedev/muse/chat"
	"github.com/musedev/muse/compress"
	"github.com/musedev/muse/config"
	"github.com/musedev/muse/engine"
	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/llm"
	"github.com/musedev/muse/memory"
	"github.com/musedev/muse/tool"
)

const DefaultChatName = "default"

type (
	// Options carry the injected handles. Model and embedder are
	// constructed once at start-up and never re-created mid-session.
	Options struct {
		Logger     *slog.Logger
		Model      llm.Model
		Tokenizer  llm.Tokenizer
		Registry   *tool.Registry
		Memory     *memory.Service
		Compressor *compress.Compressor
		Chats      *chat.Store
		Agent      *config.AgentConfig
		MemoryConf *config.MemoryConfig
		Window     int
	}

	Agent struct {
		logger     *slog.Logger
		model      llm.Model
		registry   *tool.Registry
		memory     *memory.Service
		contextMgr *engine.ContextManager
		chats      *chat.Store
		conf       *config.AgentConfig
		memConf    *config.MemoryConfig

		systemPrompt string

		active string
		open   map[string]*entity.Chat
	}
)

func New(opts Options) (*Agent, error) {
	a := &Agent{
		logger:   opts.Logger,
		model:    opts.Model,
		registry: opts.Registry,
		memory:   opts.Memory,
		chats:    opts.Chats,
		conf:     opts.Agent,
		memConf:  opts.MemoryConf,
		active:   DefaultChatName,
		open:     map[string]*entity.Chat{},
	}

	a.open[DefaultChatName] = opts.Chats.New(DefaultChatName, "")

	a.registerMemoryTools()
	tool.RegisterFinish(opts.Registry)
	if len(opts.Agent.Tools) > 0 {
		opts.Registry.Restrict(opts.Agent.Tools)
	}

	a.contextMgr = engine.NewContextManager(
		opts.Tokenizer,
		opts.Memory,
		opts.Compressor,
		opts.Logger,
		opts.Window,
		opts.MemoryConf.SimilarityFloor,
	)

	systemPrompt := opts.Agent.System
	if systemPrompt == "" {
		rendered, err := engine.RenderSystemPrompt(lo.Map(opts.Registry.List(), func(t *tool.Tool, _ int) engine.ToolDescription {
			return engine.ToolDescription{
				Name:        t.Name,
				Description: t.Description,
				Schema:      t.SchemaString(),
			}
		}))
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInit, "failed to render system prompt: %v", err)
		}
		systemPrompt = rendered
	}
	a.systemPrompt = systemPrompt

	return a, nil
}

// ActiveChat returns the live state of the current chat.
func (a *Agent) ActiveChat() *entity.Chat {
	return a.open[a.active]
}

// scopes of the active chat: shared knowledge plus the chat's own memory.
func (a *Agent) scopes() []memory.Scope {
	return []memory.Scope{memory.ScopeGlobal, memory.ChatScope(a.active)}
}

// NewChat creates and activates a chat held in memory until saved.
func (a *Agent) NewChat(name, description string) error {
	if _, exists := a.open[name]; exists {
		return errors.Errorf("chat '%s' already exists", name)
	}
	a.open[name] = a.chats.New(name, description)
	a.active = name
	a.logger.Info("chat created", slog.String("chat", name))
	return nil
}

// SwitchChat activates a chat from memory, falling back to disk.
func (a *Agent) SwitchChat(name string) error {
	if _, ok := a.open[name]; ok {
		a.active = name
		return nil
	}

	loaded, err := a.chats.Load(name)
	if err != nil {
		return err
	}
	a.open[name] = loaded
	a.active = name
	return nil
}

// SaveChat persists the active chat.
func (a *Agent) SaveChat(description string) error {
	c := a.ActiveChat()
	if description != "" {
		c.Meta.Description = description
	}
	return a.chats.Save(c)
}

// LoadChat replaces all live state of the named chat from disk and
// activates it.
func (a *Agent) LoadChat(name string) error {
	loaded, err := a.chats.Load(name)
	if err != nil {
		return err
	}
	a.open[name] = loaded
	a.active = name
	return nil
}

// DeleteChat removes a saved chat; it refuses the active one.
func (a *Agent) DeleteChat(name string) error {
	if name == a.active {
		return errors.Errorf("chat '%s' is active; switch away before deleting it", name)
	}
	if err := a.chats.Delete(name); err != nil {
		return err
	}
	delete(a.open, name)
	return nil
}

// ListChats returns the chats currently open in memory.
func (a *Agent) ListChats() []string {
	names := lo.Keys(a.open)
	return names
}

// ListSavedChats returns the chats persisted on disk.
func (a *Agent) ListSavedChats() ([]entity.ChatMetadata, error) {
	return a.chats.List()
}
