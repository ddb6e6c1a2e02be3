package history

import (
	"fmt"

	"github.com/mfateev/agentchat/internal/models"
)

// Validate checks the tool-response invariant over a transcript: every tool
// message answers a tool call recorded by an earlier ai message, tool call
// ids are unique, and each call has at most one direct response. Deferred
// (async) deliveries are counted separately and likewise limited to one per
// call.
func Validate(msgs []models.Message) error {
	declared := make(map[string]int)
	answered := make(map[string]bool)
	deferred := make(map[string]bool)

	for i, m := range msgs {
		switch m.Role {
		case models.RoleAI:
			for _, tc := range m.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("message %d: tool call %q has no id", i, tc.Name)
				}
				if prev, ok := declared[tc.ID]; ok {
					return fmt.Errorf("message %d: tool call id %q already declared by message %d", i, tc.ID, prev)
				}
				declared[tc.ID] = i
			}
		case models.RoleTool:
			if _, ok := declared[m.ToolCallID]; !ok {
				return fmt.Errorf("message %d: tool response %q has no prior tool call", i, m.ToolCallID)
			}
			seen := answered
			if m.Deferred {
				seen = deferred
			}
			if seen[m.ToolCallID] {
				return fmt.Errorf("message %d: duplicate response for tool call %q", i, m.ToolCallID)
			}
			seen[m.ToolCallID] = true
		}
	}
	return nil
}

// Validate checks the invariant over the current transcript.
func (h *InMemoryHistory) Validate() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Validate(h.msgs)
}
