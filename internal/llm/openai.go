package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/tools"
)

// OpenAIClient implements Client using OpenAI's Chat Completions API.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates an OpenAI client.
func NewOpenAIClient(apiKey string, opts ...option.RequestOption) *OpenAIClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIClient{client: openai.NewClient(opts...)}
}

// Invoke sends a chat completion request and returns the complete reply.
func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (Response, error) {
	params := c.buildParams(req)

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, classifyError(err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, models.NewTransientError("OpenAI returned no choices")
	}

	choice := completion.Choices[0]
	msg := models.Message{Role: models.RoleAI, Content: choice.Message.Content}
	var invalid map[string]error
	for _, tc := range choice.Message.ToolCalls {
		args, err := parseArguments(tc.Function.Arguments)
		if err != nil {
			if invalid == nil {
				invalid = make(map[string]error)
			}
			invalid[tc.ID] = err
		}
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	finishReason := FinishReasonStop
	switch choice.FinishReason {
	case "tool_calls":
		finishReason = FinishReasonToolCalls
	case "length":
		finishReason = FinishReasonLength
	}

	return Response{
		Message:      msg,
		FinishReason: finishReason,
		InvalidArgs:  invalid,
		Usage: TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// Stream opens a streaming chat completion.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(req))
	if err := stream.Err(); err != nil {
		return nil, classifyError(err)
	}
	return &openaiStream{stream: stream}, nil
}

func (c *OpenAIClient) buildParams(req Request) openai.ChatCompletionNewParams {
	cfg := req.Model.WithDefaults()
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(cfg.Model),
		Messages: c.buildMessages(req),
	}
	if cfg.Temperature > 0 {
		params.Temperature = openai.Float(cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(cfg.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = c.buildToolDefinitions(req.Tools)
	}
	return params
}

// buildMessages converts the transcript to chat messages.
//
// Type mapping:
//   - system prompt, system → system message
//   - human → user message
//   - ai → assistant message with tool_calls
//   - tool → tool message; deferred async results → user message
func (c *OpenAIClient) buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleHuman:
			messages = append(messages, openai.UserMessage(m.Content))
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case models.RoleAI:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil || tc.Args == nil {
					args = []byte("{}")
				}
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case models.RoleTool:
			if m.Deferred {
				messages = append(messages, openai.UserMessage(deferredText(m)))
				continue
			}
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return messages
}

// buildToolDefinitions converts ToolSpecs to function tool definitions.
func (c *OpenAIClient) buildToolDefinitions(specs []tools.ToolSpec) []openai.ChatCompletionToolParam {
	toolDefs := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		properties, required := schemaParts(spec.InputSchema)
		if required == nil {
			required = []string{}
		}
		toolDefs = append(toolDefs, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}
	return toolDefs
}

// parseArguments decodes tool call arguments. Empty input is an empty
// object; anything that is not a JSON object yields empty args and an error.
func parseArguments(raw string) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{}, err
	}
	return args, nil
}

// openaiStream adapts the chat completion chunk stream to ChunkStream.
type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiStream) Recv() (Chunk, error) {
	for s.stream.Next() {
		cur := s.stream.Current()
		if len(cur.Choices) == 0 {
			continue
		}
		delta := cur.Choices[0].Delta
		out := Chunk{Text: delta.Content}
		for _, tc := range delta.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCallChunk{
				Index: int(tc.Index),
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Args:  tc.Function.Arguments,
			})
		}
		if out.Text == "" && len(out.ToolCalls) == 0 {
			continue
		}
		return out, nil
	}
	if err := s.stream.Err(); err != nil {
		return Chunk{}, classifyError(err)
	}
	return Chunk{}, io.EOF
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}

// classifyError categorizes an OpenAI API error using the HTTP status code
// when available, falling back to message-based heuristics.
func classifyError(err error) error {
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "context_length") || strings.Contains(errMsg, "maximum context length") {
		return models.NewContextOverflowError(err.Error())
	}

	if apiErr, ok := err.(*openai.Error); ok {
		return classifyByStatusCode(apiErr.StatusCode, err)
	}

	// Fallback: message-based heuristics for non-typed errors (e.g., network errors)
	if strings.Contains(errMsg, "rate_limit") || strings.Contains(errMsg, "rate limit") {
		return models.NewAPILimitError(err.Error())
	}
	return models.NewTransientError(fmt.Sprintf("OpenAI API error: %v", err))
}
