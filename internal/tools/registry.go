package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolRegistry stores tools by name.
//
// A registry is built once per turn (or shared across turns) and is
// read-only afterwards; Register must not be called concurrently with
// lookups.
type ToolRegistry struct {
	tools map[string]*entry
	order []string
}

type entry struct {
	tool      *Tool
	validator *jsonschema.Schema
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*entry),
	}
}

// Register adds a tool. Names must be unique and the schema well formed.
func (r *ToolRegistry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return NewValidationError("tool name is required")
	}
	if t.Handler == nil {
		return NewValidationErrorf("tool %s has no handler", t.Name)
	}
	if _, ok := r.tools[t.Name]; ok {
		return NewValidationErrorf("tool already registered: %s", t.Name)
	}

	e := &entry{tool: t}
	if t.Schema != nil {
		if err := t.Schema.Check(); err != nil {
			return NewValidationErrorf("tool %s: %v", t.Name, err)
		}
		v, err := t.Schema.compile(t.Name)
		if err != nil {
			return fmt.Errorf("tool %s: %w", t.Name, err)
		}
		e.validator = v
	}
	r.tools[t.Name] = e
	r.order = append(r.order, t.Name)
	return nil
}

// GetTool returns a tool by name.
func (r *ToolRegistry) GetTool(name string) (*Tool, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return e.tool, nil
}

// HasTool checks if a tool is registered.
func (r *ToolRegistry) HasTool(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// ToolCount returns the number of registered tools.
func (r *ToolRegistry) ToolCount() int {
	return len(r.tools)
}

// Names returns tool names in registration order.
func (r *ToolRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

// Specs returns the model-facing specifications in registration order.
func (r *ToolRegistry) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].tool.Spec())
	}
	return specs
}

// ValidateArgs checks model-supplied arguments against the tool's schema.
func (r *ToolRegistry) ValidateArgs(name string, args map[string]interface{}) error {
	e, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	if e.validator == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return NewValidationErrorf("invalid arguments: %v", err)
	}
	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return NewValidationErrorf("invalid arguments: %v", err)
	}
	if err := e.validator.Validate(instance); err != nil {
		return NewValidationErrorf("invalid arguments: %v", err)
	}
	return nil
}
