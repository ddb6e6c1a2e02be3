// Package llm provides the model clients the conversation engine talks to.
package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/tools"
)

// Request is one model invocation: the rendered system prompt, the
// working copy of the transcript and the bound tool specifications.
type Request struct {
	SystemPrompt string             `json:"system_prompt"`
	Messages     []models.Message   `json:"messages"`
	Tools        []tools.ToolSpec   `json:"tools,omitempty"`
	Model        models.ModelConfig `json:"model"`
}

// FinishReason indicates why the LLM stopped generating.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonLength    FinishReason = "length"
)

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a complete model reply. Message is always an ai message.
type Response struct {
	Message      models.Message `json:"message"`
	FinishReason FinishReason   `json:"finish_reason"`
	Usage        TokenUsage     `json:"usage"`

	// InvalidArgs maps tool call ids to the decode error of arguments that
	// were not a JSON object. Such calls carry empty Args.
	InvalidArgs map[string]error `json:"-"`
}

// ToolCallChunk is a fragment of a streamed tool call. ID and Name are only
// present on the first fragment of a call; later fragments carry only
// argument text and are matched by Index.
type ToolCallChunk struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Args  string `json:"args,omitempty"`
}

// Chunk is one increment of a streamed reply.
type Chunk struct {
	Text      string          `json:"text,omitempty"`
	ToolCalls []ToolCallChunk `json:"tool_calls,omitempty"`
}

// ChunkStream is a forward-only sequence of chunks. Recv returns io.EOF
// once the reply is complete. Close releases the underlying connection and
// may be called at any point.
type ChunkStream interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is the interface for LLM providers.
type Client interface {
	Invoke(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (ChunkStream, error)
}

// classifyByStatusCode maps an HTTP status code to the appropriate ActivityError.
// Shared by all provider error classifiers.
//
// Classification:
//   - 429 (Too Many Requests): rate limit, retryable with delay
//   - 408 (Request Timeout), 409 (Conflict): transient, retryable
//   - Other 4xx: fatal client error, non-retryable (e.g., 400, 401, 403, 404)
//   - 5xx: transient server error, retryable
func classifyByStatusCode(statusCode int, err error) *models.ActivityError {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return models.NewAPILimitError(fmt.Sprintf("rate limit (%d): %v", statusCode, err))
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusConflict:
		return models.NewTransientError(fmt.Sprintf("retryable error (%d): %v", statusCode, err))
	case statusCode >= 400 && statusCode < 500:
		return models.NewFatalError(fmt.Sprintf("client error (%d): %v", statusCode, err))
	case statusCode >= 500:
		return models.NewTransientError(fmt.Sprintf("server error (%d): %v", statusCode, err))
	default:
		return models.NewTransientError(fmt.Sprintf("unexpected status (%d): %v", statusCode, err))
	}
}

// deferredText renders an async tool response delivered after the call's
// provisional acknowledgment. Providers only accept one tool result per
// call, so the late result travels as user-visible text.
func deferredText(m models.Message) string {
	return fmt.Sprintf("Asynchronous result for tool call %s:\n%s", m.ToolCallID, m.Content)
}

// schemaParts splits a rendered object schema into its properties and
// required names.
func schemaParts(schema map[string]interface{}) (map[string]interface{}, []string) {
	props, _ := schema["properties"].(map[string]interface{})
	if props == nil {
		props = map[string]interface{}{}
	}
	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []interface{}:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return props, required
}
