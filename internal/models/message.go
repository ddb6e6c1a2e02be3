// Package models contains the shared types of the conversation engine:
// messages, tool calls, terminating policies and error classification.
package models

// Role discriminates the Message variants.
type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
	RoleSystem Role = "system"
)

// ToolCall is a structured request from the model to invoke a named tool.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Message is one entry of a conversation transcript. It is a tagged union
// keyed on Role; variant fields are only meaningful for their role:
//
//	human, system: Content
//	ai:            Content, ToolCalls
//	tool:          Content, ToolCallID, Deferred
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`

	// Deferred marks a tool message that delivers an out-of-band (async)
	// response. The immediate provisional acknowledgment for the same call
	// id was already recorded when the tool ran.
	Deferred bool `json:"deferred,omitempty"`
}

// HumanMessage builds a human message.
func HumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// AIMessage builds an ai message with optional tool calls.
func AIMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAI, Content: content, ToolCalls: calls}
}

// ToolMessage builds the response to the tool call with the given id.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Content: content}
}

// HasToolCalls reports whether an ai message requested any tool.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAI && len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message. Tool call argument maps are
// copied one level deep, which is sufficient because arguments are never
// mutated in place.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc
			if tc.Args != nil {
				args := make(map[string]interface{}, len(tc.Args))
				for k, v := range tc.Args {
					args[k] = v
				}
				out.ToolCalls[i].Args = args
			}
		}
	}
	return out
}

// CloneMessages deep-copies a slice of messages.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
