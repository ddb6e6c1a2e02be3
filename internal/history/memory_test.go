package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfateev/agentchat/internal/models"
)

// buildHistory creates a history with the given number of human turns.
// Each turn consists of: human, ai(tool call), tool, ai(content).
func buildHistory(turns int) *InMemoryHistory {
	h := NewInMemoryHistory()
	for i := 0; i < turns; i++ {
		id := string(rune('a' + i))
		h.Append(
			models.HumanMessage("msg"),
			models.AIMessage("", models.ToolCall{ID: id, Name: "lookup", Args: map[string]interface{}{"q": "x"}}),
			models.ToolMessage(id, "result"),
			models.AIMessage("reply"),
		)
	}
	return h
}

func TestAppend_PreservesOrder(t *testing.T) {
	h := buildHistory(2)
	msgs := h.Messages()
	require.Len(t, msgs, 8)
	assert.Equal(t, models.RoleHuman, msgs[0].Role)
	assert.Equal(t, models.RoleAI, msgs[1].Role)
	assert.Equal(t, models.RoleTool, msgs[2].Role)
	assert.Equal(t, "reply", msgs[3].Content)
}

func TestMessages_ReturnsCopy(t *testing.T) {
	h := buildHistory(1)
	msgs := h.Messages()
	msgs[2].Content = "mutated"
	msgs[1].ToolCalls[0].Args["q"] = "mutated"

	again := h.Messages()
	assert.Equal(t, "result", again[2].Content)
	assert.Equal(t, "x", again[1].ToolCalls[0].Args["q"])
}

func TestMessages_EmptyIsNonNil(t *testing.T) {
	h := NewInMemoryHistory()
	assert.NotNil(t, h.Messages())
	assert.Equal(t, 0, h.Len())
}

func TestTruncateToolCalls(t *testing.T) {
	h := NewInMemoryHistory(models.AIMessage("",
		models.ToolCall{ID: "1", Name: "a"},
		models.ToolCall{ID: "2", Name: "t"},
		models.ToolCall{ID: "3", Name: "b"},
	))

	require.NoError(t, h.TruncateToolCalls(0, 2))
	msgs := h.Messages()
	require.Len(t, msgs[0].ToolCalls, 2)
	assert.Equal(t, "t", msgs[0].ToolCalls[1].Name)

	assert.Error(t, h.TruncateToolCalls(0, 3))
	assert.Error(t, h.TruncateToolCalls(5, 0))
}

func TestTruncateToolCalls_RejectsNonAI(t *testing.T) {
	h := NewInMemoryHistory(models.HumanMessage("hi"))
	assert.Error(t, h.TruncateToolCalls(0, 0))
}

func TestEstimateTokenCount(t *testing.T) {
	h := NewInMemoryHistory(models.HumanMessage("12345678"))
	assert.Equal(t, 2, h.EstimateTokenCount())

	h.Append(models.AIMessage("", models.ToolCall{ID: "c1", Name: "lookup", Args: map[string]interface{}{"q": "x"}}))
	assert.Equal(t, 5, h.EstimateTokenCount())
}

func TestValidate(t *testing.T) {
	call := models.ToolCall{ID: "c1", Name: "approve"}

	tests := []struct {
		name    string
		msgs    []models.Message
		wantErr bool
	}{
		{
			name: "valid",
			msgs: []models.Message{models.AIMessage("", call), models.ToolMessage("c1", "ok")},
		},
		{
			name: "deferred response alongside acknowledgment",
			msgs: []models.Message{
				models.AIMessage("", call),
				models.ToolMessage("c1", "pending"),
				{Role: models.RoleTool, ToolCallID: "c1", Content: "approved", Deferred: true},
			},
		},
		{
			name:    "orphan response",
			msgs:    []models.Message{models.ToolMessage("c1", "ok")},
			wantErr: true,
		},
		{
			name:    "response before call",
			msgs:    []models.Message{models.ToolMessage("c1", "ok"), models.AIMessage("", call)},
			wantErr: true,
		},
		{
			name:    "duplicate response",
			msgs:    []models.Message{models.AIMessage("", call), models.ToolMessage("c1", "a"), models.ToolMessage("c1", "b")},
			wantErr: true,
		},
		{
			name:    "duplicate call id",
			msgs:    []models.Message{models.AIMessage("", call), models.AIMessage("", call)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.msgs)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
