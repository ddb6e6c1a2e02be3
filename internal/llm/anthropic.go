package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/tools"
)

// AnthropicClient implements Client using Anthropic's Messages API.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates an Anthropic client.
func NewAnthropicClient(apiKey string, opts ...option.RequestOption) *AnthropicClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{client: anthropic.NewClient(opts...)}
}

// Invoke sends a request to Anthropic and returns the complete response.
func (c *AnthropicClient) Invoke(ctx context.Context, req Request) (Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return Response{}, err
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, classifyAnthropicError(err)
	}

	msg, finishReason, invalid := c.parseResponse(resp)
	return Response{
		Message:      msg,
		FinishReason: finishReason,
		InvalidArgs:  invalid,
		Usage: TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// Stream opens a streaming Messages call.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicError(err)
	}
	return &anthropicStream{stream: stream}, nil
}

func (c *AnthropicClient) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages, err := c.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to build messages: %w", err)
	}

	cfg := req.Model.WithDefaults()
	params := anthropic.MessageNewParams{
		Model:     selectAnthropicModel(cfg.Model),
		MaxTokens: int64(cfg.MaxTokens),
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(cfg.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = c.buildToolDefinitions(req.Tools)
	}
	return params, nil
}

// selectAnthropicModel maps short aliases to Anthropic model ids. Unknown
// names are passed through unchanged.
func selectAnthropicModel(modelName string) anthropic.Model {
	switch modelName {
	case "claude-sonnet-4.5":
		return anthropic.ModelClaudeSonnet4_5_20250929
	case "claude-haiku-4.5":
		return anthropic.ModelClaudeHaiku4_5_20251001
	case "claude-opus-4.6":
		return anthropic.ModelClaudeOpus4_6
	case "":
		return anthropic.ModelClaudeSonnet4_5_20250929
	default:
		return anthropic.Model(modelName)
	}
}

// convertMessages converts the transcript to Anthropic's message format.
//
// Anthropic format rules:
//   - Tool use blocks are part of assistant message content
//   - Tool results are part of user message content
//   - Consecutive blocks of the same role are merged into one message
//   - Mid-conversation system messages and deferred async results are sent
//     as user text
func (c *AnthropicClient) convertMessages(history []models.Message) ([]anthropic.MessageParam, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))

	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}
	text := func(s string) anthropic.ContentBlockParamUnion {
		return anthropic.ContentBlockParamUnion{OfText: &anthropic.TextBlockParam{Text: s}}
	}

	for _, m := range history {
		switch m.Role {
		case models.RoleHuman, models.RoleSystem:
			if m.Content != "" {
				push(anthropic.MessageParamRoleUser, text(m.Content))
			}

		case models.RoleAI:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			push(anthropic.MessageParamRoleAssistant, blocks...)

		case models.RoleTool:
			if m.Deferred {
				push(anthropic.MessageParamRoleUser, text(deferredText(m)))
				continue
			}
			push(anthropic.MessageParamRoleUser, anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: m.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: m.Content},
					}},
				},
			})

		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}

	return messages, nil
}

// buildToolDefinitions converts ToolSpecs to Anthropic tool definitions.
func (c *AnthropicClient) buildToolDefinitions(specs []tools.ToolSpec) []anthropic.ToolUnionParam {
	toolDefs := make([]anthropic.ToolUnionParam, 0, len(specs))

	for _, spec := range specs {
		properties, required := schemaParts(spec.InputSchema)
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: properties,
		}
		if len(required) > 0 {
			inputSchema.Required = required
		}

		toolDefs = append(toolDefs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: inputSchema,
			},
		})
	}

	return toolDefs
}

// parseResponse converts Anthropic's response into a single ai message.
// Tool uses whose input is not a JSON object are reported in invalid.
func (c *AnthropicClient) parseResponse(response *anthropic.Message) (msg models.Message, finishReason FinishReason, invalid map[string]error) {
	msg = models.Message{Role: models.RoleAI}
	var text strings.Builder

	for _, block := range response.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			args, err := parseArguments(string(tu.Input))
			if err != nil {
				if invalid == nil {
					invalid = make(map[string]error)
				}
				invalid[tu.ID] = err
			}
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{ID: tu.ID, Name: tu.Name, Args: args})
		}
	}
	msg.Content = text.String()

	finishReason = FinishReasonStop
	switch response.StopReason {
	case anthropic.StopReasonToolUse:
		finishReason = FinishReasonToolCalls
	case anthropic.StopReasonMaxTokens:
		finishReason = FinishReasonLength
	}
	return msg, finishReason, invalid
}

// anthropicStream adapts the SSE event stream to ChunkStream.
type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *anthropicStream) Recv() (Chunk, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				return Chunk{ToolCalls: []ToolCallChunk{{Index: int(ev.Index), ID: tu.ID, Name: tu.Name}}}, nil
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					return Chunk{Text: delta.Text}, nil
				}
			case anthropic.InputJSONDelta:
				if delta.PartialJSON != "" {
					return Chunk{ToolCalls: []ToolCallChunk{{Index: int(ev.Index), Args: delta.PartialJSON}}}, nil
				}
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return Chunk{}, classifyAnthropicError(err)
	}
	return Chunk{}, io.EOF
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}

// classifyAnthropicError categorizes an Anthropic API error using the HTTP
// status code when available, falling back to message-based heuristics.
func classifyAnthropicError(err error) error {
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "context_length") || strings.Contains(errMsg, "too many tokens") {
		return models.NewContextOverflowError(err.Error())
	}

	if apiErr, ok := err.(*anthropic.Error); ok {
		return classifyByStatusCode(apiErr.StatusCode, err)
	}

	if strings.Contains(errMsg, "rate_limit") || strings.Contains(errMsg, "rate limit") {
		return models.NewAPILimitError(err.Error())
	}
	return models.NewTransientError(fmt.Sprintf("Anthropic API error: %v", err))
}
