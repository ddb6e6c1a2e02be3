// Package asyncqueue holds out-of-band responses to async tools until the
// next turn of their conversation drains them.
package asyncqueue

import (
	"context"
	"sync"

	"github.com/mfateev/agentchat/internal/models"
)

// Queue is a per-conversation FIFO inbox.
//
// Enqueue may be called at any time, including concurrently with turns of
// other conversations. Drain removes and returns every pending entry in
// arrival order; it is called exactly once at the start of each turn.
type Queue interface {
	Enqueue(ctx context.Context, contextID string, resp models.AsyncToolResponse) error
	Drain(ctx context.Context, contextID string) ([]models.AsyncToolResponse, error)
}

// Memory is an in-process Queue.
type Memory struct {
	mu      sync.Mutex
	pending map[string][]models.AsyncToolResponse
}

// NewMemory returns an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{pending: make(map[string][]models.AsyncToolResponse)}
}

// Enqueue appends resp to the conversation's inbox.
func (q *Memory) Enqueue(_ context.Context, contextID string, resp models.AsyncToolResponse) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[contextID] = append(q.pending[contextID], resp)
	return nil
}

// Drain empties the conversation's inbox.
func (q *Memory) Drain(_ context.Context, contextID string) ([]models.AsyncToolResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending[contextID]
	delete(q.pending, contextID)
	return out, nil
}

// Len returns the number of pending entries for a conversation.
func (q *Memory) Len(contextID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[contextID])
}
