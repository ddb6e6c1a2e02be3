package workflow

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mfateev/agentchat/internal/activities"
	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/service"
)

// registerHandlers wires the query, update and signal surface. events is
// bumped on every accepted request so the idle timer restarts.
func (s *ConversationState) registerHandlers(ctx workflow.Context, events *int) error {
	if err := workflow.SetQueryHandler(ctx, QueryGetStatus, func() (Status, error) {
		return s.status(), nil
	}); err != nil {
		return fmt.Errorf("failed to register %s query: %w", QueryGetStatus, err)
	}

	if err := workflow.SetUpdateHandlerWithOptions(
		ctx,
		UpdateSendMessage,
		func(ctx workflow.Context, req SendMessageRequest) (service.Reply, error) {
			*events++
			return s.handleSendMessage(ctx, req)
		},
		workflow.UpdateHandlerOptions{
			Validator: func(ctx workflow.Context, req SendMessageRequest) error {
				if s.shutdown {
					return temporal.NewApplicationError("conversation is shut down", activities.ErrTypeInvalidRequest)
				}
				return nil
			},
		},
	); err != nil {
		return fmt.Errorf("failed to register %s update: %w", UpdateSendMessage, err)
	}

	if err := workflow.SetUpdateHandler(
		ctx,
		UpdateShutdown,
		func(ctx workflow.Context) (ShutdownResponse, error) {
			s.shutdown = true
			*events++
			if err := workflow.Await(ctx, func() bool { return !s.busy }); err != nil {
				return ShutdownResponse{}, err
			}
			return ShutdownResponse{TurnCount: s.TurnCount}, nil
		},
	); err != nil {
		return fmt.Errorf("failed to register %s update: %w", UpdateShutdown, err)
	}
	return nil
}

// acquire waits until the context exists and no turn or tool response is
// being applied.
func (s *ConversationState) acquire(ctx workflow.Context) error {
	if err := workflow.Await(ctx, func() bool { return s.Created && !s.busy }); err != nil {
		return err
	}
	s.busy = true
	return nil
}

func (s *ConversationState) handleSendMessage(ctx workflow.Context, req SendMessageRequest) (service.Reply, error) {
	logger := workflow.GetLogger(ctx)
	if err := s.acquire(ctx); err != nil {
		return service.Reply{}, err
	}
	defer func() { s.busy = false }()

	userID := req.UserID
	if userID == "" {
		userID = s.Input.UserID
	}
	input := activities.SendMessageInput{
		ContextID: s.ContextID,
		OrgID:     s.Input.OrgID,
		UserID:    userID,
		Text:      req.Text,
	}

	actx, name := turnOptions(ctx), activities.SendMessageActivity
	if req.Stream {
		actx, name = streamOptions(ctx), activities.StreamMessageActivity
	}
	var reply service.Reply
	if err := workflow.ExecuteActivity(actx, name, input).Get(ctx, &reply); err != nil {
		logger.Warn("Turn failed", "context_id", s.ContextID, "error", err)
		s.LastError = err.Error()
		return service.Reply{}, err
	}

	s.TurnCount++
	s.LastReply = &reply
	s.LastError = ""
	logger.Info("Turn completed", "context_id", s.ContextID, "invocations", reply.Invocations,
		"terminated_by", reply.TerminatedBy)
	return reply, nil
}

// receiveToolResponses applies tool_response signals in arrival order.
// Rejected responses are logged and recorded as the last error.
func (s *ConversationState) receiveToolResponses(ctx workflow.Context, ch workflow.ReceiveChannel, events *int) {
	logger := workflow.GetLogger(ctx)
	for {
		var resp models.AsyncToolResponse
		if !ch.Receive(ctx, &resp) {
			return
		}
		s.pending++
		*events++

		if err := s.acquire(ctx); err != nil {
			s.pending--
			return
		}
		input := activities.ToolResponseInput{
			ContextID: s.ContextID,
			OrgID:     s.Input.OrgID,
			UserID:    s.Input.UserID,
			Response:  resp,
		}
		err := workflow.ExecuteActivity(turnOptions(ctx), activities.EnqueueToolResponseActivity, input).Get(ctx, nil)
		if err != nil {
			logger.Warn("Tool response rejected", "context_id", s.ContextID, "tool_call_id", resp.ToolCallID, "error", err)
			s.LastError = err.Error()
		}
		s.busy = false
		s.pending--
	}
}
