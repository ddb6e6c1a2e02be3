package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"goa.design/clue/log"

	"github.com/mfateev/agentchat/internal/history"
	"github.com/mfateev/agentchat/internal/llm/llmtest"
	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/tools"
)

func TestOutcome(t *testing.T) {
	syncTool := &tools.Tool{Name: "lookup"}
	asyncTool := &tools.Tool{Name: "approve", IsAsync: true}

	tests := []struct {
		name string
		res  tools.Result
		want string
	}{
		{"ok", tools.Result{Tool: syncTool}, "ok"},
		{"pending", tools.Result{Tool: asyncTool}, "pending"},
		{"unknown tool", tools.Result{Err: errors.New("Tool ghost not found")}, "unknown_tool"},
		{"handler error", tools.Result{Tool: syncTool, Err: errors.New("boom")}, "error"},
		{"transient", tools.Result{Tool: syncTool, Err: tools.NewTransientError(errors.New("503"))}, "transient_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.res))
		})
	}
}

func TestObservabilityHooks_LogDispatches(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.Context(context.Background(), log.WithOutput(&buf), log.WithFormat(log.FormatJSON), log.WithDebug())

	rec := &recorder{}
	client := llmtest.New(
		llmtest.Call(models.ToolCall{ID: "c1", Name: "lookup", Args: map[string]interface{}{}}),
		llmtest.Reply("done"),
	)
	e := New(Options{LLM: client, Hooks: ObservabilityHooks(noop.NewMeterProvider().Meter("test"))})

	_, err := e.RunTurn(ctx, Turn{
		History: history.NewInMemoryHistory(models.HumanMessage("hi")),
		Tools:   newRouter(t, staticTool(rec, "lookup", "lookup", "found")),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"tool call started"`)
	assert.Contains(t, out, `"tool call finished"`)
	assert.Contains(t, out, `"outcome":"ok"`)
}
