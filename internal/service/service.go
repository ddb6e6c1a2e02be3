// Package service is the in-process API over agents and conversation
// contexts: it authorizes callers, resolves agent tools, runs turns through
// the engine and persists the resulting transcript.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/mfateev/agentchat/internal/asyncqueue"
	"github.com/mfateev/agentchat/internal/engine"
	"github.com/mfateev/agentchat/internal/history"
	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/store"
	"github.com/mfateev/agentchat/internal/tools"
)

var (
	// ErrForbidden is returned when the caller's organization does not own
	// the requested agent or context.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidToolResponse is returned by EnqueueToolResponse when the
	// tool call id does not name an unanswered async tool call.
	ErrInvalidToolResponse = errors.New("invalid async tool response")
)

// Caller identifies who is making a request.
type Caller struct {
	OrgID  string
	UserID string
}

// Options configures a Service.
type Options struct {
	Store     store.Store
	Engine    *engine.Engine
	Streaming *engine.StreamingEngine
	Queue     asyncqueue.Queue

	// Builtins are tools addressable by registry name.
	Builtins tools.Catalog

	// Sources are consulted after Builtins and stored tool records.
	Sources []tools.Source

	// MaxContextTokens rejects a turn with a context overflow error when
	// the estimated size of the transcript exceeds it. Zero disables the
	// check.
	MaxContextTokens int

	// NewID defaults to uuid.NewString.
	NewID func() string
}

// Service implements the conversation API.
type Service struct {
	store     store.Store
	engine    *engine.Engine
	streaming *engine.StreamingEngine
	queue     asyncqueue.Queue
	resolver  *tools.Resolver
	maxTokens int
	newID     func() string
}

// New creates a Service.
func New(opts Options) *Service {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	sources := []tools.Source{opts.Builtins, recordSource(opts.Store)}
	sources = append(sources, opts.Sources...)
	return &Service{
		store:     opts.Store,
		engine:    opts.Engine,
		streaming: opts.Streaming,
		queue:     opts.Queue,
		resolver:  tools.NewResolver(sources...),
		maxTokens: opts.MaxContextTokens,
		newID:     opts.NewID,
	}
}

// recordSource resolves stored tool records owned by the caller's org.
func recordSource(s store.ToolStore) tools.Source {
	return tools.SourceFunc(func(ctx context.Context, orgID, id string) (*tools.Tool, error) {
		rec, err := s.GetTool(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.OrgID != orgID {
			return nil, nil
		}
		return rec.Tool(), nil
	})
}

// CreateContextRequest starts a conversation with an agent.
type CreateContextRequest struct {
	// ContextID is optional. When set, creating a context that already
	// exists for the same agent returns the stored one.
	ContextID  string            `json:"context_id,omitempty"`
	AgentID    string            `json:"agent_id"`
	PromptArgs map[string]string `json:"prompt_args,omitempty"`
}

// CreateContext creates and stores an empty conversation. Every tool id of
// the agent must resolve, and a terminating policy must name at least one
// of them.
func (s *Service) CreateContext(ctx context.Context, caller Caller, req CreateContextRequest) (*store.Context, error) {
	if req.ContextID != "" {
		existing, err := s.GetContext(ctx, caller, req.ContextID)
		switch {
		case err == nil && existing.AgentID == req.AgentID:
			return existing, nil
		case err == nil:
			return nil, tools.NewValidationErrorf("context %s belongs to agent %s", req.ContextID, existing.AgentID)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	agent, err := s.agent(ctx, caller, req.AgentID)
	if err != nil {
		return nil, err
	}
	reg, err := s.resolveTools(ctx, agent)
	if err != nil {
		return nil, err
	}
	if err := checkPolicy(agent.Terminating, reg); err != nil {
		return nil, err
	}

	id := req.ContextID
	if id == "" {
		id = s.newID()
	}
	now := time.Now().UTC()
	c := &store.Context{
		ID:         id,
		OrgID:      caller.OrgID,
		AgentID:    agent.ID,
		Messages:   []models.Message{},
		PromptArgs: req.PromptArgs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.PutContext(ctx, c); err != nil {
		return nil, fmt.Errorf("store context: %w", err)
	}
	log.Info(ctx, log.KV{K: "msg", V: "context created"},
		log.KV{K: "context_id", V: c.ID}, log.KV{K: "agent_id", V: agent.ID}, log.KV{K: "org_id", V: caller.OrgID})
	return c, nil
}

func checkPolicy(p *models.TerminatingPolicy, reg *tools.ToolRegistry) error {
	if p == nil {
		return nil
	}
	if err := p.Validate(); err != nil {
		return tools.NewValidationError(err.Error())
	}
	for _, name := range reg.Names() {
		t, _ := reg.GetTool(name)
		if p.Terminates(t.ToolID) {
			return nil
		}
	}
	return tools.NewValidationErrorf("terminating policy names none of the agent's tools: %v", p.ToolIDs)
}

// GetContext returns a stored conversation.
func (s *Service) GetContext(ctx context.Context, caller Caller, contextID string) (*store.Context, error) {
	c, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("context %s: %w", contextID, err)
	}
	if caller.OrgID == "" || c.OrgID != caller.OrgID {
		return nil, ErrForbidden
	}
	return c, nil
}

// Reply is the result of a synchronous turn.
type Reply struct {
	ContextID string `json:"context_id"`
	// Content is the agent's answer, or the terminating tool's raw output.
	Content      string `json:"content"`
	TerminatedBy string `json:"terminated_by,omitempty"`
	Invocations  int    `json:"invocations"`
	Version      int64  `json:"version"`

	// PendingCalls are the async tool calls of the conversation still
	// awaiting a response, in call order.
	PendingCalls []string `json:"pending_calls,omitempty"`
}

// SendMessage appends a human message (none when text is empty, which
// resumes the conversation after async tool responses) and runs a turn.
// The context is stored only when the turn succeeds.
func (s *Service) SendMessage(ctx context.Context, caller Caller, contextID, text string) (*Reply, error) {
	tc, err := s.prepare(ctx, caller, contextID, text)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.RunTurn(ctx, tc.turn)
	if err != nil {
		s.requeue(ctx, tc)
		return nil, err
	}
	if err := s.persist(ctx, tc); err != nil {
		s.requeue(ctx, tc)
		return nil, err
	}
	return &Reply{
		ContextID:    contextID,
		Content:      res.Content,
		TerminatedBy: res.TerminatedBy,
		Invocations:  res.State.InvocationCount,
		Version:      tc.record.Version,
		PendingCalls: pendingCalls(tc.record.Messages, tc.reg),
	}, nil
}

// TextStream is a forward-only answer stream.
type TextStream interface {
	Recv() (string, error)
	Close() error

	// Reply returns the stored turn once Recv has returned io.EOF, and nil
	// before that.
	Reply() *Reply
}

// StreamMessage is SendMessage with the answer streamed. The context is
// stored when the stream is read to io.EOF; a store failure is returned by
// Recv instead of io.EOF. Agents with a terminating policy run a
// synchronous turn and stream its result as a single fragment.
func (s *Service) StreamMessage(ctx context.Context, caller Caller, contextID, text string) (TextStream, error) {
	tc, err := s.prepare(ctx, caller, contextID, text)
	if err != nil {
		return nil, err
	}

	if tc.turn.Policy != nil || s.streaming == nil {
		res, err := s.engine.RunTurn(ctx, tc.turn)
		if err != nil {
			s.requeue(ctx, tc)
			return nil, err
		}
		if err := s.persist(ctx, tc); err != nil {
			s.requeue(ctx, tc)
			return nil, err
		}
		return &staticStream{reply: &Reply{
			ContextID:    contextID,
			Content:      res.Content,
			TerminatedBy: res.TerminatedBy,
			Invocations:  res.State.InvocationCount,
			Version:      tc.record.Version,
			PendingCalls: pendingCalls(tc.record.Messages, tc.reg),
		}}, nil
	}

	ts := &turnStream{svc: s, ctx: ctx, tc: tc}
	tc.turn.OnComplete = ts.commit
	stream, err := s.streaming.RunTurn(ctx, tc.turn)
	if err != nil {
		s.requeue(ctx, tc)
		return nil, err
	}
	ts.stream = stream
	return ts, nil
}

// turnStream stores the context when the answer completes and gives
// drained async responses back to the queue when it does not.
type turnStream struct {
	svc    *Service
	ctx    context.Context
	tc     *turnContext
	stream *engine.TextStream

	mu        sync.Mutex
	committed bool
	abandoned bool
}

func (s *turnStream) Recv() (string, error) {
	text, err := s.stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		s.abandon()
	}
	return text, err
}

func (s *turnStream) Close() error {
	err := s.stream.Close()
	s.abandon()
	return err
}

func (s *turnStream) Reply() *Reply {
	s.mu.Lock()
	committed := s.committed
	s.mu.Unlock()
	if !committed {
		return nil
	}
	return &Reply{
		ContextID:    s.tc.record.ID,
		Content:      s.stream.Content(),
		Invocations:  s.stream.Invocations(),
		Version:      s.tc.record.Version,
		PendingCalls: pendingCalls(s.tc.record.Messages, s.tc.reg),
	}
}

func (s *turnStream) commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abandoned {
		return io.ErrClosedPipe
	}
	if err := s.svc.persist(ctx, s.tc); err != nil {
		return err
	}
	s.committed = true
	return nil
}

func (s *turnStream) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed || s.abandoned {
		return
	}
	s.abandoned = true
	s.svc.requeue(context.WithoutCancel(s.ctx), s.tc)
}

// EnqueueToolResponse queues the out-of-band result of an async tool call.
// It is applied at the start of the context's next turn.
func (s *Service) EnqueueToolResponse(ctx context.Context, caller Caller, contextID string, resp models.AsyncToolResponse) error {
	c, err := s.GetContext(ctx, caller, contextID)
	if err != nil {
		return err
	}
	agent, err := s.agent(ctx, caller, c.AgentID)
	if err != nil {
		return err
	}
	reg, err := s.resolveTools(ctx, agent)
	if err != nil {
		return err
	}
	if err := checkAsyncCall(c.Messages, reg, resp.ToolCallID); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, contextID, resp); err != nil {
		return fmt.Errorf("enqueue tool response: %w", err)
	}
	log.Info(ctx, log.KV{K: "msg", V: "async tool response queued"},
		log.KV{K: "context_id", V: contextID}, log.KV{K: "tool_call_id", V: resp.ToolCallID})
	return nil
}

// checkAsyncCall verifies id names a call of an async tool that has no
// deferred response yet.
func checkAsyncCall(msgs []models.Message, reg *tools.ToolRegistry, id string) error {
	var name string
	for _, m := range msgs {
		switch {
		case m.Role == models.RoleAI:
			for _, call := range m.ToolCalls {
				if call.ID == id {
					name = call.Name
				}
			}
		case m.Role == models.RoleTool && m.Deferred && m.ToolCallID == id:
			return fmt.Errorf("%w: tool call %s already has a response", ErrInvalidToolResponse, id)
		}
	}
	if name == "" {
		return fmt.Errorf("%w: unknown tool call %s", ErrInvalidToolResponse, id)
	}
	t, err := reg.GetTool(name)
	if err != nil || !t.IsAsync {
		return fmt.Errorf("%w: tool call %s is not asynchronous", ErrInvalidToolResponse, id)
	}
	return nil
}

// pendingCalls lists calls of async tools that have no deferred response.
func pendingCalls(msgs []models.Message, reg *tools.ToolRegistry) []string {
	var ids []string
	answered := make(map[string]bool)
	for _, m := range msgs {
		if m.Role == models.RoleTool && m.Deferred {
			answered[m.ToolCallID] = true
		}
	}
	for _, m := range msgs {
		if m.Role != models.RoleAI {
			continue
		}
		for _, call := range m.ToolCalls {
			if t, err := reg.GetTool(call.Name); err == nil && t.IsAsync && !answered[call.ID] {
				ids = append(ids, call.ID)
			}
		}
	}
	return ids
}

// turnContext carries a loaded context through one turn.
type turnContext struct {
	record *store.Context
	reg    *tools.ToolRegistry
	base   int
	turn   engine.Turn
}

func (s *Service) prepare(ctx context.Context, caller Caller, contextID, text string) (*turnContext, error) {
	c, err := s.GetContext(ctx, caller, contextID)
	if err != nil {
		return nil, err
	}
	agent, err := s.agent(ctx, caller, c.AgentID)
	if err != nil {
		return nil, err
	}
	reg, err := s.resolveTools(ctx, agent)
	if err != nil {
		return nil, err
	}

	h := history.NewInMemoryHistory(c.Messages...)
	if text != "" {
		h.Append(models.HumanMessage(text))
	}
	if s.maxTokens > 0 {
		if n := h.EstimateTokenCount(); n > s.maxTokens {
			return nil, models.NewContextOverflowError(
				fmt.Sprintf("context %s holds about %d tokens, limit is %d", c.ID, n, s.maxTokens))
		}
	}
	return &turnContext{
		record: c,
		reg:    reg,
		base:   len(c.Messages),
		turn: engine.Turn{
			ContextID:      c.ID,
			OrgID:          c.OrgID,
			History:        h,
			SystemPrompt:   agent.SystemPrompt,
			PromptArgNames: agent.PromptArgNames,
			PromptArgs:     c.PromptArgs,
			EscapeBraces:   agent.EscapeBraces,
			Tools:          tools.NewToolRouter(reg),
			Policy:         agent.Terminating,
			Model:          agent.Model,
			RefreshWindows: true,
		},
	}, nil
}

func (s *Service) persist(ctx context.Context, tc *turnContext) error {
	tc.record.Messages = tc.turn.History.Messages()
	tc.record.UpdatedAt = time.Now().UTC()
	if err := s.store.PutContext(ctx, tc.record); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn(ctx, log.KV{K: "msg", V: "concurrent turn detected"}, log.KV{K: "context_id", V: tc.record.ID})
		}
		return fmt.Errorf("store context %s: %w", tc.record.ID, err)
	}
	return nil
}

// requeue puts async responses drained by a failed turn back in the queue so
// the next turn sees them.
func (s *Service) requeue(ctx context.Context, tc *turnContext) {
	if s.queue == nil {
		return
	}
	msgs := tc.turn.History.Messages()
	if tc.base > len(msgs) {
		return
	}
	for _, m := range msgs[tc.base:] {
		if m.Role != models.RoleTool || !m.Deferred {
			continue
		}
		resp := models.AsyncToolResponse{ToolCallID: m.ToolCallID, Response: m.Content}
		if err := s.queue.Enqueue(ctx, tc.record.ID, resp); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "lost async tool response"},
				log.KV{K: "context_id", V: tc.record.ID}, log.KV{K: "tool_call_id", V: m.ToolCallID})
		}
	}
}

func (s *Service) agent(ctx context.Context, caller Caller, id string) (*store.Agent, error) {
	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}
	if caller.OrgID == "" || a.OrgID != caller.OrgID {
		return nil, ErrForbidden
	}
	return a, nil
}

func (s *Service) resolveTools(ctx context.Context, a *store.Agent) (*tools.ToolRegistry, error) {
	reg, err := s.resolver.Resolve(ctx, a.OrgID, a.ToolIDs)
	if err != nil {
		return nil, fmt.Errorf("agent %s tools: %w", a.ID, err)
	}
	return reg, nil
}

type staticStream struct {
	reply *Reply
	sent  bool
	done  bool
}

func (s *staticStream) Recv() (string, error) {
	if s.sent || s.reply.Content == "" {
		s.sent = true
		s.done = true
		return "", io.EOF
	}
	s.sent = true
	return s.reply.Content, nil
}

func (s *staticStream) Close() error { return nil }

func (s *staticStream) Reply() *Reply {
	if !s.done {
		return nil
	}
	return s.reply
}
