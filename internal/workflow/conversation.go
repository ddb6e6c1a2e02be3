// Package workflow contains the Temporal workflow that owns a conversation.
//
// One ConversationWorkflow runs per context, with the context id as its
// workflow id. Turns and async tool responses are serialized through it so
// the stored transcript has a single writer.
package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mfateev/agentchat/internal/activities"
)

// ConversationWorkflow is the conversation entry point.
func ConversationWorkflow(ctx workflow.Context, input ConversationInput) (Status, error) {
	state := ConversationState{
		Input:     input,
		ContextID: workflow.GetInfo(ctx).WorkflowExecution.ID,
	}
	return runConversation(ctx, &state)
}

// ConversationWorkflowContinued is the ContinueAsNew re-entry point.
func ConversationWorkflowContinued(ctx workflow.Context, state ConversationState) (Status, error) {
	return runConversation(ctx, &state)
}

func runConversation(ctx workflow.Context, s *ConversationState) (Status, error) {
	logger := workflow.GetLogger(ctx)

	events := 0
	if err := s.registerHandlers(ctx, &events); err != nil {
		return Status{}, err
	}
	responses := workflow.GetSignalChannel(ctx, SignalToolResponse)
	workflow.Go(ctx, func(ctx workflow.Context) {
		s.receiveToolResponses(ctx, responses, &events)
	})

	if !s.Created {
		if err := s.createContext(ctx); err != nil {
			return s.status(), err
		}
	}

	for {
		seen := events
		ok, err := workflow.AwaitWithTimeout(ctx, IdleTimeout, func() bool {
			return s.shutdown || events != seen || workflow.GetInfo(ctx).GetContinueAsNewSuggested()
		})
		if err != nil {
			return s.status(), fmt.Errorf("conversation await failed: %w", err)
		}
		if ok && !s.shutdown && !workflow.GetInfo(ctx).GetContinueAsNewSuggested() {
			continue
		}

		_ = workflow.Await(ctx, func() bool {
			return !s.busy && s.pending == 0 && responses.Len() == 0 && workflow.AllHandlersFinished(ctx)
		})
		if s.shutdown {
			logger.Info("Conversation shut down", "context_id", s.ContextID, "turns", s.TurnCount)
			return s.status(), nil
		}
		logger.Info("Triggering ContinueAsNew", "context_id", s.ContextID, "idle", !ok)
		return Status{}, workflow.NewContinueAsNewError(ctx, ConversationWorkflowContinued, *s)
	}
}

func (s *ConversationState) createContext(ctx workflow.Context) error {
	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    5,
		},
	})
	input := activities.CreateContextInput{
		ContextID:  s.ContextID,
		AgentID:    s.Input.AgentID,
		OrgID:      s.Input.OrgID,
		UserID:     s.Input.UserID,
		PromptArgs: s.Input.PromptArgs,
	}
	var out activities.CreateContextOutput
	if err := workflow.ExecuteActivity(actCtx, activities.CreateContextActivity, input).Get(ctx, &out); err != nil {
		s.LastError = err.Error()
		return fmt.Errorf("create context %s: %w", s.ContextID, err)
	}
	s.Created = true
	return nil
}

func turnOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
}

// streamOptions is turnOptions with a heartbeat timeout, so a streaming turn
// whose worker dies is retried without waiting for the start-to-close
// timeout.
func streamOptions(ctx workflow.Context) workflow.Context {
	ctx = turnOptions(ctx)
	ao := workflow.GetActivityOptions(ctx)
	ao.HeartbeatTimeout = 5 * activities.StreamHeartbeatInterval
	return workflow.WithActivityOptions(ctx, ao)
}
