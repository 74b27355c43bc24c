// Package tool maps tool names to schema-validated handlers. The agent
// loop never sees a handler error as a Go error: every outcome is an
// Observation, and invalid params are rejected before the handler runs.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/musedev/muse/entity"
)

type SideEffectClass string

const (
	ClassRead    SideEffectClass = "read"
	ClassWrite   SideEffectClass = "write"
	ClassExec    SideEffectClass = "exec"
	ClassNetwork SideEffectClass = "network"
	ClassMemory  SideEffectClass = "memory"
	ClassFinish  SideEffectClass = "finish"
)

// DefaultTimeout bounds one handler invocation unless the tool overrides it.
const DefaultTimeout = 30 * time.Second

type (
	// Tool is one registry entry.
	Tool struct {
		Name        string
		Description string
		Class       SideEffectClass
		Timeout     time.Duration

		schema *jsonschema.Schema
		run    func(ctx context.Context, params map[string]any) entity.Observation
	}

	Registry struct {
		logger *slog.Logger
		tools  map[string]*Tool
	}
)

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		tools:  make(map[string]*Tool),
	}
}

// Register binds a typed handler. The param schema is reflected from In;
// handlers return a plain string that is wrapped as a successful
// observation, or an error that becomes ok=false.
func Register[In any](r *Registry, name, description string, class SideEffectClass, fn func(ctx context.Context, in In) (string, error)) {
	RegisterObservation(r, name, description, class, func(ctx context.Context, in In) entity.Observation {
		out, err := fn(ctx, in)
		if err != nil {
			return entity.Fail(err.Error())
		}
		return entity.Ok(out)
	})
}

// RegisterObservation is Register for handlers that shape the observation
// themselves.
func RegisterObservation[In any](r *Registry, name, description string, class SideEffectClass, fn func(ctx context.Context, in In) entity.Observation) {
	reflector := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	schema := reflector.Reflect(new(In))

	r.tools[name] = &Tool{
		Name:        name,
		Description: description,
		Class:       class,
		Timeout:     DefaultTimeout,
		schema:      schema,
		run: func(ctx context.Context, params map[string]any) entity.Observation {
			var in In
			if obs, ok := decodeParams(schema, params, &in); !ok {
				return obs
			}
			return fn(ctx, in)
		},
	}
}

// decodeParams validates the raw param map against the reflected schema
// and decodes it into the typed request.
func decodeParams(schema *jsonschema.Schema, params map[string]any, out any) (entity.Observation, bool) {
	if params == nil {
		params = map[string]any{}
	}

	var missing []string
	for _, required := range schema.Required {
		if _, ok := params[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return entity.Fail(fmt.Sprintf("invalid params: missing required %s", strings.Join(missing, ", "))), false
	}

	var meta mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		Metadata:         &meta,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return entity.Fail("invalid params: " + err.Error()), false
	}
	if err := decoder.Decode(params); err != nil {
		return entity.Fail("invalid params: " + err.Error()), false
	}

	return entity.Observation{}, true
}

// Get returns a registered tool, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns every tool sorted by name.
func (r *Registry) List() []*Tool {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]*Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Restrict drops every tool not named; used by agent profiles. The finish
// tool always survives.
func (r *Registry) Restrict(names []string) {
	if len(names) == 0 {
		return
	}
	allowed := make(map[string]bool, len(names)+1)
	for _, name := range names {
		allowed[name] = true
	}
	allowed["finish"] = true

	for name := range r.tools {
		if !allowed[name] {
			delete(r.tools, name)
		}
	}
}

// SchemaString renders the tool's param schema as a compact one-line
// description for the system prompt.
func (t *Tool) SchemaString() string {
	if t.schema == nil || t.schema.Properties == nil {
		return "{}"
	}

	required := make(map[string]bool, len(t.schema.Required))
	for _, name := range t.schema.Required {
		required[name] = true
	}

	var parts []string
	for pair := t.schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		field := pair.Key + ": " + pair.Value.Type
		if !required[pair.Key] {
			field += " (optional)"
		}
		parts = append(parts, field)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Execute dispatches one call. Param validation happens before the
// handler; the handler runs under its timeout and its outcome is always
// an Observation, never a panic or a Go error.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) entity.Observation {
	t := r.Get(name)
	if t == nil {
		return entity.Fail(fmt.Sprintf("unknown tool '%s'", name))
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	done := make(chan entity.Observation, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- entity.Fail(fmt.Sprintf("tool '%s' panicked: %v", name, rec))
			}
		}()
		done <- t.run(ctx, params)
	}()

	select {
	case obs := <-done:
		if !obs.OK && ctx.Err() == context.DeadlineExceeded {
			obs.Timeout = true
			obs.Summary = fmt.Sprintf("tool '%s' timed out after %s", name, t.Timeout)
		}
		r.logger.Debug("tool executed",
			slog.String("tool", name),
			slog.Bool("ok", obs.OK))
		return obs
	case <-ctx.Done():
		r.logger.Warn("tool timed out", slog.String("tool", name), slog.Duration("timeout", t.Timeout))
		return entity.Observation{
			OK:      false,
			Summary: fmt.Sprintf("tool '%s' timed out after %s", name, t.Timeout),
			Timeout: true,
		}
	}
}

// MarshalParams is a debugging helper for logs and reflection prompts.
func MarshalParams(params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(raw)
}
