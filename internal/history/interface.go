// Package history provides the conversation transcript and its invariants.
package history

import "github.com/mfateev/agentchat/internal/models"

// MessageHistory is an ordered, append-only sequence of messages with an
// explicit tool call truncation operation.
//
// Implementations must be safe for concurrent readers; a single writer (the
// engine running a turn) mutates a history at a time.
type MessageHistory interface {
	// Append adds messages at the end, preserving their order.
	Append(msgs ...models.Message)

	// Messages returns a deep copy of the transcript in replay order.
	Messages() []models.Message

	// Len returns the number of messages.
	Len() int

	// TruncateToolCalls keeps only the first n tool calls of the ai message
	// at index.
	TruncateToolCalls(index, n int) error

	// EstimateTokenCount estimates the total token count of the history
	EstimateTokenCount() int
}
