package tool

import (
	"context"
	"log/slog"

	"github.com/musedev/muse/config"
	"github.com/musedev/muse/llm"
)

// Deps are the external handles the built-in tool set needs.
type Deps struct {
	Logger    *slog.Logger
	Tools     *config.ToolConfig
	FireCrawl *config.FireCrawlConfig
	Embedder  llm.Embedder
}

// NewRegistryWithBuiltins constructs the full built-in tool set. The
// memory tools and finish are registered by the agent because they close
// over live state.
func NewRegistryWithBuiltins(deps Deps) *Registry {
	r := NewRegistry(deps.Logger)

	registerFileTools(r)
	registerShellTools(r)
	registerCodeTools(r)
	registerPDFTools(r)
	registerRSSTools(r)
	registerWebTools(r, deps.Tools, deps.FireCrawl, deps.Embedder)

	return r
}

// RegisterFinish installs the loop-terminating tool. The handler only
// echoes; the loop intercepts the call before dispatch.
func RegisterFinish(r *Registry) {
	Register(r, "finish",
		"Call when the task is complete. Pass the full final answer for the user.",
		ClassFinish, func(_ context.Context, in struct {
			FinalAnswer string `json:"final_answer" jsonschema_description:"The complete final answer"`
		}) (string, error) {
			return in.FinalAnswer, nil
		})
}
