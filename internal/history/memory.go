package history

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mfateev/agentchat/internal/models"
)

// InMemoryHistory is the in-memory implementation of MessageHistory used by
// the engine for the duration of one turn.
type InMemoryHistory struct {
	msgs []models.Message
	mu   sync.RWMutex
}

// NewInMemoryHistory creates a history seeded with a copy of msgs.
func NewInMemoryHistory(msgs ...models.Message) *InMemoryHistory {
	return &InMemoryHistory{msgs: models.CloneMessages(msgs)}
}

// Append adds messages at the end of the transcript.
func (h *InMemoryHistory) Append(msgs ...models.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.msgs = append(h.msgs, m.Clone())
	}
}

// Messages returns a deep copy of the transcript.
func (h *InMemoryHistory) Messages() []models.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := models.CloneMessages(h.msgs)
	if out == nil {
		out = []models.Message{}
	}
	return out
}

// Len returns the number of messages.
func (h *InMemoryHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}

// TruncateToolCalls keeps only the first n tool calls of the ai message at
// index.
func (h *InMemoryHistory) TruncateToolCalls(index, n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if index < 0 || index >= len(h.msgs) {
		return fmt.Errorf("message index %d out of range [0,%d)", index, len(h.msgs))
	}
	m := &h.msgs[index]
	if m.Role != models.RoleAI {
		return fmt.Errorf("message %d is %s, not ai", index, m.Role)
	}
	if n < 0 || n > len(m.ToolCalls) {
		return fmt.Errorf("cannot keep %d of %d tool calls", n, len(m.ToolCalls))
	}
	m.ToolCalls = m.ToolCalls[:n]
	return nil
}

// EstimateTokenCount estimates the total token count using a simple heuristic.
// Uses 4 characters per token as a rough estimate.
func (h *InMemoryHistory) EstimateTokenCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totalChars := 0
	for _, m := range h.msgs {
		totalChars += len(m.Content)
		for _, tc := range m.ToolCalls {
			totalChars += len(tc.Name)
			if b, err := json.Marshal(tc.Args); err == nil {
				totalChars += len(b)
			}
		}
	}
	return totalChars / 4
}
