package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/musedev/muse/memory"
	"github.com/musedev/muse/tool"
)

type (
	addMemoryRequest struct {
		Text       string  `json:"text" jsonschema_description:"The fact to remember"`
		Importance float64 `json:"importance,omitempty" jsonschema_description:"0..1, default 0.5"`
		Global     bool    `json:"global,omitempty" jsonschema_description:"Store in the shared scope instead of this chat"`
	}

	deleteMemoryRequest struct {
		ID     string `json:"id" jsonschema_description:"Record id as shown by list_memories"`
		Global bool   `json:"global,omitempty" jsonschema_description:"Delete from the shared scope instead of this chat"`
	}
)

// Memory tools live on the agent because they need the active chat's
// scope; the registry sees them as ordinary entries.
func (a *Agent) registerMemoryTools() {
	tool.Register(a.registry, "add_memory",
		"Store a fact in long-term memory. Chat-scoped unless global is set.",
		tool.ClassMemory, a.addMemory)

	tool.Register(a.registry, "list_memories",
		"List every long-term memory record, shared and chat-scoped, with ids.",
		tool.ClassMemory, a.listMemories)

	tool.Register(a.registry, "delete_memory",
		"Delete a long-term memory record by id.",
		tool.ClassMemory, a.deleteMemory)
}

func (a *Agent) addMemory(ctx context.Context, in addMemoryRequest) (string, error) {
	scope := memory.ChatScope(a.active)
	if in.Global {
		scope = memory.ScopeGlobal
	}
	importance := in.Importance
	if importance == 0 {
		importance = 0.5
	}

	id, err := a.memory.Add(ctx, scope, in.Text, importance, map[string]any{"source": "agent"})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("remembered (%s, id %s)", scope, id), nil
}

func (a *Agent) listMemories(ctx context.Context, _ struct{}) (string, error) {
	var b strings.Builder

	for _, scope := range a.scopes() {
		records, err := a.memory.List(ctx, scope)
		if err != nil {
			fmt.Fprintf(&b, "%s: unavailable (%v)\n", scope, err)
			continue
		}
		fmt.Fprintf(&b, "%s: %d record(s)\n", scope, len(records))
		for _, record := range records {
			text := record.Text
			if len(text) > 120 {
				text = text[:120] + "…"
			}
			fmt.Fprintf(&b, "  [%s] (importance %.2f) %s\n", record.ID, record.Importance, text)
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func (a *Agent) deleteMemory(ctx context.Context, in deleteMemoryRequest) (string, error) {
	scope := memory.ChatScope(a.active)
	if in.Global {
		scope = memory.ScopeGlobal
	}

	if err := a.memory.Delete(ctx, scope, in.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted record %s from %s", in.ID, scope), nil
}
