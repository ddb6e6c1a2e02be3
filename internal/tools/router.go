package tools

import (
	"context"
	"fmt"

	"github.com/mfateev/agentchat/internal/models"
)

// ToolRouter dispatches model tool calls against a registry.
type ToolRouter struct {
	registry *ToolRegistry
}

// NewToolRouter creates a new ToolRouter.
func NewToolRouter(registry *ToolRegistry) *ToolRouter {
	if registry == nil {
		registry = NewToolRegistry()
	}
	return &ToolRouter{registry: registry}
}

// Registry returns the underlying ToolRegistry.
func (r *ToolRouter) Registry() *ToolRegistry {
	return r.registry
}

// GetToolSpecs returns the tool specifications for LLM prompt construction.
func (r *ToolRouter) GetToolSpecs() []ToolSpec {
	return r.registry.Specs()
}

// Result is the outcome of one dispatched tool call.
type Result struct {
	// Message is the tool message to append to history.
	Message models.Message

	// Tool is the resolved tool, nil when the name was unknown.
	Tool *Tool

	// Output is the raw handler result, or the error text when Err is set.
	Output string

	// Err is the recovered lookup, validation or handler error.
	Err error
}

// Dispatch resolves and runs one tool call. It never returns an error:
// every failure is folded into the tool message content so the model can
// react to it.
func (r *ToolRouter) Dispatch(ctx context.Context, call models.ToolCall, turn *TurnContext) Result {
	tool, err := r.registry.GetTool(call.Name)
	if err != nil {
		out := fmt.Sprintf("Tool %s not found", call.Name)
		return Result{
			Message: models.ToolMessage(call.ID, out),
			Output:  out,
			Err:     err,
		}
	}

	res := Result{Tool: tool}
	output, err := r.invoke(ctx, tool, call, turn)
	if err != nil {
		output = fmt.Sprintf("Issue calling tool: %s, error: %v", call.Name, err)
		res.Err = err
	}
	res.Output = output
	res.Message = models.ToolMessage(call.ID, output)
	return res
}

func (r *ToolRouter) invoke(ctx context.Context, tool *Tool, call models.ToolCall, turn *TurnContext) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := r.registry.ValidateArgs(tool.Name, call.Args); err != nil {
		return "", err
	}

	args := make(map[string]interface{}, len(call.Args)+1)
	for k, v := range call.Args {
		args[k] = v
	}
	if tool.IsAsync {
		args[AsyncCallIDArg] = call.ID
	}

	inv := Invocation{
		ToolCallID: call.ID,
		Name:       call.Name,
		Args:       args,
	}
	if tool.PassContext {
		inv.Context = turn
	}
	return tool.Handler(ctx, inv)
}
