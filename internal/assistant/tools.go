package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/orbitworks/orbit-agent/internal/llm"
)

// ToolFunc executes one tool call. The returned string goes back to the
// model verbatim as the tool result; a non-nil error is folded into an
// error-text result by the machine instead of aborting the turn.
type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Registry holds the tool definitions advertised to the model and the
// handlers that back them. A registry is built per turn and is not safe for
// concurrent mutation.
type Registry struct {
	defs     map[string]llm.ToolDef
	handlers map[string]ToolFunc
}

func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]llm.ToolDef),
		handlers: make(map[string]ToolFunc),
	}
}

func (r *Registry) Register(def llm.ToolDef, fn ToolFunc) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %q: handler is required", name)
	}
	if _, dup := r.defs[name]; dup {
		return fmt.Errorf("tool %q: already registered", name)
	}
	def.Name = name
	r.defs[name] = def
	r.handlers[name] = fn
	return nil
}

// Defs returns the registered definitions sorted by name so the model sees
// a stable tool list across turns.
func (r *Registry) Defs() []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) (string, error) {
	fn, ok := r.handlers[call.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	return fn(ctx, call.Args)
}

// GenerateSchema derives a JSON Schema for a tool's input struct from its
// field tags. Schemas are inlined (no $ref) and closed to unknown
// properties, which is what both providers expect for function tools.
func GenerateSchema[T any]() json.RawMessage {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		// Reflect output is always marshalable; reaching here means the
		// input type itself is broken.
		panic(fmt.Sprintf("assistant: marshal tool schema: %v", err))
	}
	return raw
}
