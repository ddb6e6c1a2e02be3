// Package engine drives a conversation turn: it renders the agent prompt,
// calls the model, dispatches tool calls and applies the terminating policy
// until the turn produces a final answer or a terminating tool result.
package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"

	"github.com/mfateev/agentchat/internal/asyncqueue"
	"github.com/mfateev/agentchat/internal/history"
	"github.com/mfateev/agentchat/internal/llm"
	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/tools"
	"github.com/mfateev/agentchat/internal/windows"
)

// DefaultMaxIterations bounds the model calls of a turn that has no
// terminating policy.
const DefaultMaxIterations = 25

// Hooks are optional callbacks around every tool dispatch.
type Hooks struct {
	BeforeToolCall func(ctx context.Context, call models.ToolCall)
	AfterToolCall  func(ctx context.Context, call models.ToolCall, res tools.Result)
}

// Options configures an Engine.
type Options struct {
	// LLM is the model client. Required.
	LLM llm.Client

	// Queue holds async tool responses. Optional; nothing is drained when nil.
	Queue asyncqueue.Queue

	// Refresher rewrites window tool responses before model calls. Optional.
	Refresher *windows.Refresher

	Hooks Hooks

	// MaxIterations applies when a turn has no terminating policy.
	// Defaults to DefaultMaxIterations.
	MaxIterations int

	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Turn is the input of one top-level engine call.
type Turn struct {
	ContextID string
	OrgID     string

	// History is mutated in place: drained async responses, model messages,
	// tool responses and nudges are appended to it.
	History history.MessageHistory

	SystemPrompt   string
	PromptArgNames []string
	PromptArgs     map[string]string
	EscapeBraces   bool

	Tools  *tools.ToolRouter
	Policy *models.TerminatingPolicy
	Model  models.ModelConfig

	// RefreshWindows refreshes window tool responses before the first model
	// call. Later calls of the same turn always refresh.
	RefreshWindows bool

	// OnComplete runs once the streaming engine has appended the final ai
	// message. An error is returned from the stream's Recv in place of
	// io.EOF. Ignored by the synchronous engine.
	OnComplete func(ctx context.Context) error
}

// TurnResult is the outcome of a successful turn.
type TurnResult struct {
	// Content is the model's final answer, or the raw output of the
	// terminating tool when TerminatedBy is set.
	Content string

	// TerminatedBy is the tool id of the terminating tool that ended the turn.
	TerminatedBy string

	// State carries the per-turn counters.
	State models.ConversationState
}

// Engine runs synchronous conversation turns. It is safe for concurrent use
// by turns of different conversations.
type Engine struct {
	llm           llm.Client
	queue         asyncqueue.Queue
	refresher     *windows.Refresher
	hooks         Hooks
	maxIterations int
	tracer        trace.Tracer
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/mfateev/agentchat/internal/engine")
	}
	return &Engine{
		llm:           opts.LLM,
		queue:         opts.Queue,
		refresher:     opts.Refresher,
		hooks:         opts.Hooks,
		maxIterations: opts.MaxIterations,
		tracer:        opts.Tracer,
	}
}

// RunTurn runs one turn to completion.
//
// Recoverable failures (unknown tools, handler errors, window fetch errors)
// are recorded in tool messages and never returned. Exceeding the
// invocation or nudge ceiling returns a policy-fatal *models.ActivityError
// wrapping models.ErrMaxInvocations or models.ErrMaxNudges; model errors are
// returned as classified by the client. On error, History holds whatever was
// appended before the failure; callers decide whether to persist it.
func (e *Engine) RunTurn(ctx context.Context, t Turn) (res TurnResult, err error) {
	if err := t.check(); err != nil {
		return TurnResult{}, err
	}
	ctx, span := e.tracer.Start(ctx, "engine.turn", trace.WithAttributes(
		attribute.String("agentchat.context_id", t.ContextID),
		attribute.Bool("agentchat.terminating_policy", t.Policy != nil),
	))
	defer func() {
		span.SetAttributes(attribute.Int("agentchat.invocations", res.State.InvocationCount))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "turn failed")
		}
		span.End()
	}()

	if err := e.drain(ctx, t); err != nil {
		return TurnResult{}, err
	}

	turnCtx := tools.NewTurnContext(t.ContextID, t.OrgID, t.PromptArgs)
	prompt := RenderPrompt(t.SystemPrompt, t.PromptArgNames, t.PromptArgs, t.EscapeBraces)
	specs := t.Tools.GetToolSpecs()
	limit := e.invocationLimit(t.Policy)
	refresh := t.RefreshWindows

	var state models.ConversationState
	for {
		state.InvocationCount++
		if state.InvocationCount > limit {
			log.Warn(ctx, log.KV{K: "msg", V: "invocation ceiling reached"},
				log.KV{K: "context_id", V: t.ContextID}, log.KV{K: "limit", V: limit})
			return TurnResult{State: state}, models.NewPolicyFatalError(models.ErrMaxInvocations, map[string]interface{}{
				"max_invocations": limit,
			})
		}

		msgs := t.History.Messages()
		if refresh && e.refresher != nil {
			e.refresher.Refresh(ctx, msgs, turnCtx)
		}

		resp, err := e.invoke(ctx, llm.Request{
			SystemPrompt: prompt,
			Messages:     msgs,
			Tools:        specs,
			Model:        t.Model,
		}, state.InvocationCount)
		if err != nil {
			return TurnResult{State: state}, err
		}

		ai := resp.Message
		ai.Role = models.RoleAI
		t.History.Append(ai)
		aiIndex := t.History.Len() - 1

		if ai.HasToolCalls() {
			state.ConsecutiveNudgeCount = 0
			for i, call := range ai.ToolCalls {
				if perr, bad := resp.InvalidArgs[call.ID]; bad {
					t.History.Append(invalidArgsMessage(ctx, call, perr))
					continue
				}
				out := e.dispatch(ctx, t.Tools, call, turnCtx)
				t.History.Append(out.Message)

				if out.Tool != nil && t.Policy.Terminates(out.Tool.ToolID) {
					if err := t.History.TruncateToolCalls(aiIndex, i+1); err != nil {
						return TurnResult{State: state}, err
					}
					log.Info(ctx, log.KV{K: "msg", V: "terminating tool called"},
						log.KV{K: "context_id", V: t.ContextID}, log.KV{K: "tool_id", V: out.Tool.ToolID},
						log.KV{K: "skipped_calls", V: len(ai.ToolCalls) - i - 1})
					return TurnResult{Content: out.Output, TerminatedBy: out.Tool.ToolID, State: state}, nil
				}
			}
			refresh = true
			continue
		}

		if t.Policy == nil {
			log.Debug(ctx, log.KV{K: "msg", V: "turn completed"},
				log.KV{K: "context_id", V: t.ContextID}, log.KV{K: "invocations", V: state.InvocationCount})
			return TurnResult{Content: ai.Content, State: state}, nil
		}

		state.ConsecutiveNudgeCount++
		if state.ConsecutiveNudgeCount > t.Policy.ConsecutiveNudges {
			log.Warn(ctx, log.KV{K: "msg", V: "agent failed to terminate"},
				log.KV{K: "context_id", V: t.ContextID}, log.KV{K: "nudges", V: t.Policy.ConsecutiveNudges})
			return TurnResult{State: state}, models.NewPolicyFatalError(models.ErrMaxNudges, map[string]interface{}{
				"consecutive_nudges": t.Policy.ConsecutiveNudges,
			})
		}
		t.History.Append(models.SystemMessage(t.Policy.NudgeMessage))
		refresh = true
	}
}

func (t *Turn) check() error {
	if t.History == nil {
		return fmt.Errorf("engine: turn has no history")
	}
	if t.Tools == nil {
		t.Tools = tools.NewToolRouter(nil)
	}
	if t.Policy != nil {
		if err := t.Policy.Validate(); err != nil {
			return models.NewFatalError(err.Error())
		}
	}
	return nil
}

func (e *Engine) invocationLimit(p *models.TerminatingPolicy) int {
	if p != nil {
		return p.MaxInvocations
	}
	return e.maxIterations
}

// drain appends every queued async response as a deferred tool message, in
// arrival order.
func (e *Engine) drain(ctx context.Context, t Turn) error {
	if e.queue == nil || t.ContextID == "" {
		return nil
	}
	pending, err := e.queue.Drain(ctx, t.ContextID)
	if err != nil {
		return models.NewTransientError(fmt.Sprintf("drain async responses: %v", err))
	}
	for _, p := range pending {
		msg := models.ToolMessage(p.ToolCallID, p.Response)
		msg.Deferred = true
		t.History.Append(msg)
	}
	if len(pending) > 0 {
		log.Info(ctx, log.KV{K: "msg", V: "applied async tool responses"},
			log.KV{K: "context_id", V: t.ContextID}, log.KV{K: "count", V: len(pending)})
	}
	return nil
}

func (e *Engine) invoke(ctx context.Context, req llm.Request, n int) (llm.Response, error) {
	ctx, span := e.tracer.Start(ctx, "engine.invoke", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("agentchat.invocation", n),
			attribute.String("agentchat.model", req.Model.Model),
		))
	defer span.End()

	resp, err := e.llm.Invoke(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model invocation failed")
		log.Error(ctx, err, log.KV{K: "msg", V: "model invocation failed"}, log.KV{K: "invocation", V: n})
		return llm.Response{}, err
	}
	span.SetAttributes(
		attribute.Int("agentchat.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("agentchat.completion_tokens", resp.Usage.CompletionTokens),
		attribute.Int("agentchat.tool_calls", len(resp.Message.ToolCalls)),
	)
	return resp, nil
}

// invalidArgsMessage answers a call whose arguments could not be decoded.
func invalidArgsMessage(ctx context.Context, call models.ToolCall, err error) models.Message {
	log.Warn(ctx, log.KV{K: "msg", V: "malformed tool arguments"},
		log.KV{K: "tool", V: call.Name}, log.KV{K: "tool_call_id", V: call.ID})
	return models.ToolMessage(call.ID, fmt.Sprintf("Issue calling tool: %s, error: invalid arguments: %v", call.Name, err))
}

func (e *Engine) dispatch(ctx context.Context, router *tools.ToolRouter, call models.ToolCall, turn *tools.TurnContext) tools.Result {
	if e.hooks.BeforeToolCall != nil {
		e.hooks.BeforeToolCall(ctx, call)
	}
	res := router.Dispatch(ctx, call, turn)
	if res.Err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "tool call failed"},
			log.KV{K: "tool", V: call.Name}, log.KV{K: "tool_call_id", V: call.ID},
			log.KV{K: "transient", V: tools.IsTransientError(res.Err)}, log.KV{K: "err", V: res.Err.Error()})
	}
	if e.hooks.AfterToolCall != nil {
		e.hooks.AfterToolCall(ctx, call, res)
	}
	return res
}
