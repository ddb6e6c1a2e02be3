// Package activities contains the Temporal activities that run conversation
// operations against the service layer.
package activities

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"goa.design/clue/log"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/service"
	"github.com/mfateev/agentchat/internal/store"
	"github.com/mfateev/agentchat/internal/tools"
)

// Application error types surfaced to workflows.
const (
	ErrTypePolicyFatal     = "PolicyFatal"
	ErrTypeContextOverflow = "ContextOverflow"
	ErrTypeAPILimit        = "APILimit"
	ErrTypeFatal           = "Fatal"
	ErrTypeForbidden       = "Forbidden"
	ErrTypeNotFound        = "NotFound"
	ErrTypeInvalidRequest  = "InvalidRequest"
	ErrTypeConflict        = "Conflict"
)

// Activity names, registered by the worker and referenced by workflows.
const (
	CreateContextActivity       = "CreateContext"
	SendMessageActivity         = "SendMessage"
	StreamMessageActivity       = "StreamMessage"
	EnqueueToolResponseActivity = "EnqueueToolResponse"
)

// Conversation is the subset of the service used by the activities.
type Conversation interface {
	CreateContext(ctx context.Context, caller service.Caller, req service.CreateContextRequest) (*store.Context, error)
	SendMessage(ctx context.Context, caller service.Caller, contextID, text string) (*service.Reply, error)
	StreamMessage(ctx context.Context, caller service.Caller, contextID, text string) (service.TextStream, error)
	EnqueueToolResponse(ctx context.Context, caller service.Caller, contextID string, resp models.AsyncToolResponse) error
}

// CreateContextInput is the input for the CreateContext activity.
type CreateContextInput struct {
	ContextID  string            `json:"context_id"`
	AgentID    string            `json:"agent_id"`
	OrgID      string            `json:"org_id"`
	UserID     string            `json:"user_id,omitempty"`
	PromptArgs map[string]string `json:"prompt_args,omitempty"`
}

// CreateContextOutput is the output of the CreateContext activity.
type CreateContextOutput struct {
	ContextID string `json:"context_id"`
	Version   int64  `json:"version"`
}

// SendMessageInput is the input for the SendMessage activity.
type SendMessageInput struct {
	ContextID string `json:"context_id"`
	OrgID     string `json:"org_id"`
	UserID    string `json:"user_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// ToolResponseInput is the input for the EnqueueToolResponse activity.
type ToolResponseInput struct {
	ContextID string                   `json:"context_id"`
	OrgID     string                   `json:"org_id"`
	UserID    string                   `json:"user_id,omitempty"`
	Response  models.AsyncToolResponse `json:"response"`
}

// ConversationActivities wraps the service for Temporal.
type ConversationActivities struct {
	svc Conversation
}

// NewConversationActivities creates a new ConversationActivities instance.
func NewConversationActivities(svc Conversation) *ConversationActivities {
	return &ConversationActivities{svc: svc}
}

// CreateContext creates the conversation with the id of the calling
// workflow. Retries after a successful attempt return the stored context.
func (a *ConversationActivities) CreateContext(ctx context.Context, input CreateContextInput) (CreateContextOutput, error) {
	c, err := a.svc.CreateContext(ctx, service.Caller{OrgID: input.OrgID, UserID: input.UserID}, service.CreateContextRequest{
		ContextID:  input.ContextID,
		AgentID:    input.AgentID,
		PromptArgs: input.PromptArgs,
	})
	if err != nil {
		return CreateContextOutput{}, toApplicationError(ctx, err)
	}
	return CreateContextOutput{ContextID: c.ID, Version: c.Version}, nil
}

// SendMessage runs one turn.
func (a *ConversationActivities) SendMessage(ctx context.Context, input SendMessageInput) (service.Reply, error) {
	log.Debug(ctx, log.KV{K: "msg", V: "turn started"}, log.KV{K: "context_id", V: input.ContextID},
		log.KV{K: "attempt", V: activity.GetInfo(ctx).Attempt})

	reply, err := a.svc.SendMessage(ctx, service.Caller{OrgID: input.OrgID, UserID: input.UserID}, input.ContextID, input.Text)
	if err != nil {
		return service.Reply{}, toApplicationError(ctx, err)
	}
	return *reply, nil
}

// StreamProgress is the heartbeat detail of a streaming turn.
type StreamProgress struct {
	Content string `json:"content"`
}

// StreamHeartbeatInterval is how often a streaming turn heartbeats while it
// waits for tool rounds or the next fragment.
const StreamHeartbeatInterval = time.Second

// StreamMessage runs one turn with the answer streamed. The answer received
// so far is recorded as heartbeat details after every fragment, so callers
// can follow it through the pending activity of the workflow.
func (a *ConversationActivities) StreamMessage(ctx context.Context, input SendMessageInput) (service.Reply, error) {
	log.Debug(ctx, log.KV{K: "msg", V: "streaming turn started"}, log.KV{K: "context_id", V: input.ContextID},
		log.KV{K: "attempt", V: activity.GetInfo(ctx).Attempt})

	var (
		mu      sync.Mutex
		content strings.Builder
	)
	heartbeat := func() {
		mu.Lock()
		p := StreamProgress{Content: content.String()}
		mu.Unlock()
		activity.RecordHeartbeat(ctx, p)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(StreamHeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				heartbeat()
			}
		}
	}()

	stream, err := a.svc.StreamMessage(ctx, service.Caller{OrgID: input.OrgID, UserID: input.UserID}, input.ContextID, input.Text)
	if err != nil {
		return service.Reply{}, toApplicationError(ctx, err)
	}
	defer stream.Close()

	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return service.Reply{}, toApplicationError(ctx, err)
		}
		mu.Lock()
		content.WriteString(part)
		mu.Unlock()
		heartbeat()
	}

	reply := stream.Reply()
	if reply == nil {
		return service.Reply{}, toApplicationError(ctx, fmt.Errorf("stream for %s ended without a stored reply", input.ContextID))
	}
	return *reply, nil
}

// EnqueueToolResponse queues an async tool result for the next turn.
func (a *ConversationActivities) EnqueueToolResponse(ctx context.Context, input ToolResponseInput) error {
	err := a.svc.EnqueueToolResponse(ctx, service.Caller{OrgID: input.OrgID, UserID: input.UserID}, input.ContextID, input.Response)
	if err != nil {
		return toApplicationError(ctx, err)
	}
	return nil
}

// toApplicationError classifies err for the workflow. Classified errors that
// are not retryable, and caller mistakes, never retry.
func toApplicationError(ctx context.Context, err error) error {
	var ae *models.ActivityError
	if errors.As(err, &ae) {
		errType := ErrTypeFatal
		switch ae.Type {
		case models.ErrorTypePolicyFatal:
			errType = ErrTypePolicyFatal
		case models.ErrorTypeContextOverflow:
			errType = ErrTypeContextOverflow
		case models.ErrorTypeAPILimit:
			errType = ErrTypeAPILimit
		case models.ErrorTypeTransient:
			return err
		}
		log.Warn(ctx, log.KV{K: "msg", V: "turn failed"}, log.KV{K: "type", V: errType}, log.KV{K: "err", V: ae.Message})
		return temporal.NewApplicationErrorWithOptions(ae.Message, errType, temporal.ApplicationErrorOptions{
			NonRetryable: !ae.Retryable,
			Cause:        err,
			Details:      []interface{}{ae.Details},
		})
	}

	switch {
	case errors.Is(err, service.ErrForbidden):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeForbidden, err)
	case errors.Is(err, store.ErrNotFound), tools.IsNotFoundError(err):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, err)
	case errors.Is(err, service.ErrInvalidToolResponse), tools.IsValidationError(err):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err)
	case errors.Is(err, store.ErrConflict):
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeConflict, err)
	}
	return err
}
