// Package tools provides the tool dispatch table: tool descriptors, their
// argument schemas, the registry the engine binds to the model, and the
// resolver that turns stored tool identifiers into descriptors.
package tools

import (
	"context"
)

// Handler executes a tool. The returned string becomes the content of the
// tool message. Errors are never fatal to a turn; the engine reports them
// to the model as text.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// Invocation carries the resolved arguments of one tool call.
type Invocation struct {
	ToolCallID string
	Name       string

	// Args are the model-supplied arguments. For async tools the key
	// "tool_call_id" is injected so the handler can correlate the later
	// out-of-band response.
	Args map[string]interface{}

	// Context is the per-turn scratch object. Only set for tools with
	// PassContext.
	Context *TurnContext
}

// AsyncCallIDArg is the argument key injected for async tools.
const AsyncCallIDArg = "tool_call_id"

// Tool is the static registration unit of the dispatch table.
type Tool struct {
	// Name is unique within a registry and is what the model calls.
	Name        string
	Description string
	Schema      *Schema
	Handler     Handler

	// PassContext injects the turn's TurnContext into the invocation.
	PassContext bool

	// IsAsync marks tools whose result is only a provisional acknowledgment;
	// the real result arrives later through the async response queue.
	IsAsync bool

	// ToolID is the stable identifier used for terminating policy checks.
	ToolID string
}

// ToolSpec defines the specification for a tool (sent to LLM in prompt).
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Spec renders the tool's model-facing specification.
func (t *Tool) Spec() ToolSpec {
	schema := t.Schema
	if schema == nil {
		schema = Object("", nil)
	}
	return ToolSpec{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema.JSONSchema(),
	}
}
