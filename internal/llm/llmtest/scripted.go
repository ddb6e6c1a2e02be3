// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mfateev/agentchat/internal/llm"
	"github.com/mfateev/agentchat/internal/models"
)

// Step is one scripted model turn. Exactly one of Response, Chunks or Err is
// meaningful; Err takes precedence.
type Step struct {
	Response llm.Response
	Chunks   []llm.Chunk
	// StreamErr is returned by Recv after all chunks are delivered.
	StreamErr error
	Err       error
}

// Reply is a shorthand step that answers with plain text.
func Reply(text string) Step {
	return Step{Response: llm.Response{Message: models.AIMessage(text), FinishReason: llm.FinishReasonStop}}
}

// Call is a shorthand step that answers with the given tool calls.
func Call(calls ...models.ToolCall) Step {
	return Step{Response: llm.Response{Message: models.AIMessage("", calls...), FinishReason: llm.FinishReasonToolCalls}}
}

// Client replays Steps in order and records every request it receives.
type Client struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
}

// New creates a client that plays steps in order.
func New(steps ...Step) *Client {
	return &Client{steps: steps}
}

// Push appends more steps.
func (c *Client) Push(steps ...Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, steps...)
}

// Requests returns a copy of the recorded requests.
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.requests))
	for i, r := range c.requests {
		r.Messages = models.CloneMessages(r.Messages)
		out[i] = r
	}
	return out
}

// Calls returns how many requests were made.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *Client) next(req llm.Request) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req.Messages = models.CloneMessages(req.Messages)
	c.requests = append(c.requests, req)
	if len(c.steps) == 0 {
		return Step{}, fmt.Errorf("llmtest: no scripted step for call %d", len(c.requests))
	}
	s := c.steps[0]
	c.steps = c.steps[1:]
	return s, nil
}

func (c *Client) Invoke(ctx context.Context, req llm.Request) (llm.Response, error) {
	s, err := c.next(req)
	if err != nil {
		return llm.Response{}, err
	}
	if s.Err != nil {
		return llm.Response{}, s.Err
	}
	return s.Response, nil
}

func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.ChunkStream, error) {
	s, err := c.next(req)
	if err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	chunks := s.Chunks
	if chunks == nil {
		chunks = chunksFor(s.Response.Message)
	}
	return &Stream{chunks: chunks, err: s.StreamErr}, nil
}

// chunksFor splits a complete message into one text chunk and one chunk per
// tool call.
func chunksFor(m models.Message) []llm.Chunk {
	var out []llm.Chunk
	if m.Content != "" {
		out = append(out, llm.Chunk{Text: m.Content})
	}
	for i, tc := range m.ToolCalls {
		args := "{}"
		if tc.Args != nil {
			args = mustJSON(tc.Args)
		}
		out = append(out, llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: i, ID: tc.ID, Name: tc.Name, Args: args}}})
	}
	return out
}

// Stream is an in-memory llm.ChunkStream.
type Stream struct {
	mu     sync.Mutex
	chunks []llm.Chunk
	err    error
	closed bool
}

// NewStream creates a stream over chunks.
func NewStream(chunks ...llm.Chunk) *Stream {
	return &Stream{chunks: chunks}
}

func (s *Stream) Recv() (llm.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return llm.Chunk{}, io.ErrClosedPipe
	}
	if len(s.chunks) == 0 {
		if s.err != nil {
			return llm.Chunk{}, s.err
		}
		return llm.Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
