package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"

	"github.com/mfateev/agentchat/internal/history"
	"github.com/mfateev/agentchat/internal/llm"
	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/tools"
)

// StreamingEngine runs turns whose final answer is streamed to the caller
// as it is generated. Terminating policies are not supported.
type StreamingEngine struct {
	core *Engine
}

// NewStreaming creates a StreamingEngine.
func NewStreaming(opts Options) *StreamingEngine {
	return &StreamingEngine{core: New(opts)}
}

// RunTurn loops over tool rounds until the model starts answering with
// text, then returns the answer as a TextStream. The final ai message is
// appended to the history only when the stream is read to io.EOF.
func (s *StreamingEngine) RunTurn(ctx context.Context, t Turn) (*TextStream, error) {
	e := s.core
	if t.Policy != nil {
		return nil, models.NewFatalError("streaming turns do not support terminating policies")
	}
	if err := t.check(); err != nil {
		return nil, err
	}
	if err := e.drain(ctx, t); err != nil {
		return nil, err
	}

	turnCtx := tools.NewTurnContext(t.ContextID, t.OrgID, t.PromptArgs)
	prompt := RenderPrompt(t.SystemPrompt, t.PromptArgNames, t.PromptArgs, t.EscapeBraces)
	specs := t.Tools.GetToolSpecs()
	refresh := t.RefreshWindows

	for n := 1; ; n++ {
		if n > e.maxIterations {
			return nil, models.NewPolicyFatalError(models.ErrMaxInvocations, map[string]interface{}{
				"max_invocations": e.maxIterations,
			})
		}

		msgs := t.History.Messages()
		if refresh && e.refresher != nil {
			e.refresher.Refresh(ctx, msgs, turnCtx)
		}

		spanCtx, span := e.tracer.Start(ctx, "engine.stream", trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.Int("agentchat.invocation", n)))
		stream, err := e.llm.Stream(spanCtx, llm.Request{
			SystemPrompt: prompt,
			Messages:     msgs,
			Tools:        specs,
			Model:        t.Model,
		})
		span.End()
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "model stream failed"}, log.KV{K: "invocation", V: n})
			return nil, err
		}

		first, calls, err := readUntilText(stream)
		if err != nil {
			stream.Close()
			return nil, err
		}
		if first != "" || calls.len() == 0 {
			ts := newTextStream(ctx, stream, first, t.History, t.OnComplete)
			ts.invocations = n
			return ts, nil
		}
		stream.Close()

		ai, malformed := calls.message()
		t.History.Append(ai)
		for _, call := range ai.ToolCalls {
			if perr, bad := malformed[call.ID]; bad {
				t.History.Append(invalidArgsMessage(ctx, call, perr))
				continue
			}
			t.History.Append(e.dispatch(ctx, t.Tools, call, turnCtx).Message)
		}
		refresh = false
	}
}

// readUntilText consumes chunks until the first non-empty text fragment or
// the end of the stream. Tool call fragments seen before that are
// accumulated.
func readUntilText(stream llm.ChunkStream) (string, *callAccumulator, error) {
	acc := &callAccumulator{byIndex: make(map[int]*pendingCall)}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", acc, nil
		}
		if err != nil {
			return "", nil, err
		}
		if chunk.Text != "" {
			return chunk.Text, acc, nil
		}
		for _, tc := range chunk.ToolCalls {
			acc.add(tc)
		}
	}
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// callAccumulator reassembles streamed tool calls. The id and name arrive
// with the first fragment of a call; later fragments carry only argument
// text and are matched by index.
type callAccumulator struct {
	order   []*pendingCall
	byIndex map[int]*pendingCall
}

func (a *callAccumulator) add(c llm.ToolCallChunk) {
	p, ok := a.byIndex[c.Index]
	if c.ID != "" && (!ok || (p.id != "" && p.id != c.ID)) {
		p = &pendingCall{id: c.ID}
		a.byIndex[c.Index] = p
		a.order = append(a.order, p)
	} else if !ok {
		p = &pendingCall{}
		a.byIndex[c.Index] = p
		a.order = append(a.order, p)
	}
	if p.id == "" {
		p.id = c.ID
	}
	if c.Name != "" {
		p.name = c.Name
	}
	p.args.WriteString(c.Args)
}

func (a *callAccumulator) len() int {
	if a == nil {
		return 0
	}
	return len(a.order)
}

// message builds the ai message for the accumulated calls. Calls whose
// arguments are not a JSON object are returned in malformed keyed by id.
func (a *callAccumulator) message() (models.Message, map[string]error) {
	ai := models.Message{Role: models.RoleAI}
	malformed := make(map[string]error)
	for _, p := range a.order {
		call := models.ToolCall{ID: p.id, Name: p.name, Args: map[string]interface{}{}}
		if raw := strings.TrimSpace(p.args.String()); raw != "" {
			if err := json.Unmarshal([]byte(raw), &call.Args); err != nil {
				call.Args = map[string]interface{}{}
				malformed[p.id] = err
			}
		}
		ai.ToolCalls = append(ai.ToolCalls, call)
	}
	return ai, malformed
}

// TextStream is a forward-only sequence of answer fragments. It is not
// restartable; reading it to io.EOF records the answer in the history,
// closing it earlier drops the answer. Close may be called from another
// goroutine while Recv is blocked and unblocks it.
type TextStream struct {
	ctx        context.Context
	stream     llm.ChunkStream
	history    history.MessageHistory
	onComplete func(ctx context.Context) error

	invocations int

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex // serializes Recv
	pending string
	content strings.Builder
	done    bool
	err     error
}

func newTextStream(ctx context.Context, stream llm.ChunkStream, first string, h history.MessageHistory, onComplete func(context.Context) error) *TextStream {
	return &TextStream{ctx: ctx, stream: stream, pending: first, history: h, onComplete: onComplete}
}

// Recv returns the next fragment, or io.EOF once the answer is complete and
// recorded.
func (s *TextStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return "", io.ErrClosedPipe
	}
	if s.done {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	if s.pending != "" {
		text := s.pending
		s.pending = ""
		s.content.WriteString(text)
		return text, nil
	}
	for {
		chunk, err := s.stream.Recv()
		if s.closed.Load() {
			return "", io.ErrClosedPipe
		}
		if errors.Is(err, io.EOF) {
			return "", s.finish()
		}
		if err != nil {
			s.done = true
			s.err = err
			s.closeStream()
			return "", err
		}
		if chunk.Text != "" {
			s.content.WriteString(chunk.Text)
			return chunk.Text, nil
		}
	}
}

func (s *TextStream) finish() error {
	s.done = true
	s.closeStream()
	s.history.Append(models.AIMessage(s.content.String()))
	if s.onComplete != nil {
		if err := s.onComplete(s.ctx); err != nil {
			s.err = err
			return err
		}
	}
	return io.EOF
}

func (s *TextStream) closeStream() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

// Content returns the text received so far.
func (s *TextStream) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content.String()
}

// Invocations returns the number of model calls the turn made.
func (s *TextStream) Invocations() int {
	return s.invocations
}

// Close abandons the stream. The answer is not recorded unless Recv already
// returned io.EOF.
func (s *TextStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.closeStream()
}
