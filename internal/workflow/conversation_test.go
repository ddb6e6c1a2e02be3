package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/mfateev/agentchat/internal/activities"
	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/service"
)

type ConversationWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func TestConversationWorkflowSuite(t *testing.T) {
	suite.Run(t, new(ConversationWorkflowTestSuite))
}

func (s *ConversationWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivity(activities.NewConversationActivities(nil))
	s.env.RegisterWorkflow(ConversationWorkflowContinued)
	s.env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: "conv-1"})
}

func (s *ConversationWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

var convInput = ConversationInput{AgentID: "support", OrgID: "acme", UserID: "u1"}

func (s *ConversationWorkflowTestSuite) expectCreate() {
	s.env.OnActivity(activities.CreateContextActivity, mock.Anything, activities.CreateContextInput{
		ContextID: "conv-1", AgentID: "support", OrgID: "acme", UserID: "u1",
	}).Return(activities.CreateContextOutput{ContextID: "conv-1", Version: 1}, nil).Once()
}

func (s *ConversationWorkflowTestSuite) send(at time.Duration, text string, check func(service.Reply, error)) {
	s.env.RegisterDelayedCallback(func() {
		s.env.UpdateWorkflow(UpdateSendMessage, text, &testsuite.TestUpdateCallback{
			OnReject: func(err error) { check(service.Reply{}, err) },
			OnAccept: func() {},
			OnComplete: func(result interface{}, err error) {
				reply, _ := result.(service.Reply)
				check(reply, err)
			},
		}, SendMessageRequest{Text: text})
	}, at)
}

func (s *ConversationWorkflowTestSuite) shutdownAt(at time.Duration) {
	s.env.RegisterDelayedCallback(func() {
		s.env.UpdateWorkflow(UpdateShutdown, "shutdown", &testsuite.TestUpdateCallback{
			OnReject:   func(err error) { s.Fail("shutdown rejected", err) },
			OnAccept:   func() {},
			OnComplete: func(interface{}, error) {},
		})
	}, at)
}

func (s *ConversationWorkflowTestSuite) TestTurnsAreServedInOrder() {
	s.expectCreate()
	s.env.OnActivity(activities.SendMessageActivity, mock.Anything, activities.SendMessageInput{
		ContextID: "conv-1", OrgID: "acme", UserID: "u1", Text: "hello",
	}).Return(service.Reply{ContextID: "conv-1", Content: "hi there", Invocations: 1, Version: 2}, nil).Once()
	s.env.OnActivity(activities.SendMessageActivity, mock.Anything, activities.SendMessageInput{
		ContextID: "conv-1", OrgID: "acme", UserID: "u1", Text: "bye",
	}).Return(service.Reply{ContextID: "conv-1", Content: "goodbye", Invocations: 1, Version: 3}, nil).Once()

	var replies []string
	record := func(r service.Reply, err error) {
		s.NoError(err)
		replies = append(replies, r.Content)
	}
	s.send(time.Second, "hello", record)
	s.send(2*time.Second, "bye", record)
	s.shutdownAt(3 * time.Second)

	s.env.ExecuteWorkflow(ConversationWorkflow, convInput)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	s.Equal([]string{"hi there", "goodbye"}, replies)

	var status Status
	s.NoError(s.env.GetWorkflowResult(&status))
	s.Equal("conv-1", status.ContextID)
	s.Equal(PhaseStopped, status.Phase)
	s.Equal(2, status.TurnCount)
	s.Equal("goodbye", status.LastReply.Content)
}

func (s *ConversationWorkflowTestSuite) TestStreamRequestUsesStreamingActivity() {
	s.expectCreate()
	s.env.OnActivity(activities.StreamMessageActivity, mock.Anything, activities.SendMessageInput{
		ContextID: "conv-1", OrgID: "acme", UserID: "u1", Text: "hello",
	}).Return(service.Reply{ContextID: "conv-1", Content: "streamed hi", Invocations: 1, Version: 2}, nil).Once()

	var reply service.Reply
	s.env.RegisterDelayedCallback(func() {
		s.env.UpdateWorkflow(UpdateSendMessage, "stream-1", &testsuite.TestUpdateCallback{
			OnReject: func(err error) { s.Fail("stream update rejected", err) },
			OnAccept: func() {},
			OnComplete: func(result interface{}, err error) {
				s.NoError(err)
				reply, _ = result.(service.Reply)
			},
		}, SendMessageRequest{Text: "hello", Stream: true})
	}, time.Second)
	s.shutdownAt(2 * time.Second)

	s.env.ExecuteWorkflow(ConversationWorkflow, convInput)

	s.NoError(s.env.GetWorkflowError())
	s.Equal("streamed hi", reply.Content)
}

func (s *ConversationWorkflowTestSuite) TestFailedTurnIsReported() {
	s.expectCreate()
	s.env.OnActivity(activities.SendMessageActivity, mock.Anything, mock.Anything).
		Return(service.Reply{}, temporal.NewNonRetryableApplicationError("max consecutive nudges exceeded", activities.ErrTypePolicyFatal, nil)).Once()

	var turnErr error
	s.send(time.Second, "extract", func(_ service.Reply, err error) { turnErr = err })
	s.shutdownAt(2 * time.Second)

	s.env.ExecuteWorkflow(ConversationWorkflow, convInput)

	s.NoError(s.env.GetWorkflowError())
	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(turnErr, &appErr))
	s.Equal(activities.ErrTypePolicyFatal, appErr.Type())

	var status Status
	s.NoError(s.env.GetWorkflowResult(&status))
	s.Zero(status.TurnCount)
	s.Contains(status.LastError, "max consecutive nudges exceeded")
}

func (s *ConversationWorkflowTestSuite) TestToolResponseSignal() {
	s.expectCreate()
	resp := models.AsyncToolResponse{ToolCallID: "call-1", Response: "approved"}
	s.env.OnActivity(activities.EnqueueToolResponseActivity, mock.Anything, activities.ToolResponseInput{
		ContextID: "conv-1", OrgID: "acme", UserID: "u1", Response: resp,
	}).Return(nil).Once()
	s.env.OnActivity(activities.SendMessageActivity, mock.Anything, activities.SendMessageInput{
		ContextID: "conv-1", OrgID: "acme", UserID: "u1",
	}).Return(service.Reply{Content: "approval noted"}, nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalToolResponse, resp)
	}, time.Second)
	var content string
	s.send(2*time.Second, "", func(r service.Reply, err error) {
		s.NoError(err)
		content = r.Content
	})
	s.shutdownAt(3 * time.Second)

	s.env.ExecuteWorkflow(ConversationWorkflow, convInput)

	s.NoError(s.env.GetWorkflowError())
	s.Equal("approval noted", content)
}

func (s *ConversationWorkflowTestSuite) TestRejectedToolResponseKeepsRunning() {
	s.expectCreate()
	s.env.OnActivity(activities.EnqueueToolResponseActivity, mock.Anything, mock.Anything).
		Return(temporal.NewNonRetryableApplicationError("invalid async tool response", activities.ErrTypeInvalidRequest, nil)).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalToolResponse, models.AsyncToolResponse{ToolCallID: "nope", Response: "x"})
	}, time.Second)
	s.shutdownAt(2 * time.Second)

	s.env.ExecuteWorkflow(ConversationWorkflow, convInput)

	s.NoError(s.env.GetWorkflowError())
	var status Status
	s.NoError(s.env.GetWorkflowResult(&status))
	s.Contains(status.LastError, "invalid async tool response")
}

func (s *ConversationWorkflowTestSuite) TestShutdownWaitsForTurnAndRejectsNewMessages() {
	s.expectCreate()
	s.env.OnActivity(activities.SendMessageActivity, mock.Anything, mock.Anything).
		After(5*time.Second).
		Return(service.Reply{Content: "done"}, nil).Once()

	var content string
	s.send(time.Second, "long task", func(r service.Reply, err error) {
		s.NoError(err)
		content = r.Content
	})
	s.shutdownAt(2 * time.Second)

	var rejected error
	s.env.RegisterDelayedCallback(func() {
		s.env.UpdateWorkflow(UpdateSendMessage, "late", &testsuite.TestUpdateCallback{
			OnReject:   func(err error) { rejected = err },
			OnAccept:   func() { s.Fail("late message accepted") },
			OnComplete: func(interface{}, error) {},
		}, SendMessageRequest{Text: "late"})
	}, 3*time.Second)

	s.env.ExecuteWorkflow(ConversationWorkflow, convInput)

	s.NoError(s.env.GetWorkflowError())
	s.Equal("done", content)
	s.Error(rejected)

	var status Status
	s.NoError(s.env.GetWorkflowResult(&status))
	s.Equal(1, status.TurnCount)
}

func (s *ConversationWorkflowTestSuite) TestCreateFailureFailsWorkflow() {
	s.env.OnActivity(activities.CreateContextActivity, mock.Anything, mock.Anything).
		Return(activities.CreateContextOutput{}, temporal.NewNonRetryableApplicationError("forbidden", activities.ErrTypeForbidden, nil)).Once()

	s.env.ExecuteWorkflow(ConversationWorkflow, convInput)

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *ConversationWorkflowTestSuite) TestQueryStatus() {
	s.expectCreate()
	s.env.RegisterDelayedCallback(func() {
		val, err := s.env.QueryWorkflow(QueryGetStatus)
		s.Require().NoError(err)
		var status Status
		s.Require().NoError(val.Get(&status))
		s.Equal(PhaseIdle, status.Phase)
		s.Equal("support", status.AgentID)
	}, time.Second)
	s.shutdownAt(2 * time.Second)

	s.env.ExecuteWorkflow(ConversationWorkflow, convInput)
	s.NoError(s.env.GetWorkflowError())
}

func (s *ConversationWorkflowTestSuite) TestIdleConversationContinuesAsNew() {
	s.expectCreate()

	s.env.ExecuteWorkflow(ConversationWorkflow, convInput)

	s.True(s.env.IsWorkflowCompleted())
	var canErr *workflow.ContinueAsNewError
	s.Require().True(errors.As(s.env.GetWorkflowError(), &canErr))
	s.Equal("ConversationWorkflowContinued", canErr.WorkflowType.Name)
}

func (s *ConversationWorkflowTestSuite) TestContinuedRunSkipsCreate() {
	state := ConversationState{Input: convInput, ContextID: "conv-1", Created: true, TurnCount: 4}
	s.shutdownAt(time.Second)

	s.env.ExecuteWorkflow(ConversationWorkflowContinued, state)

	var status Status
	s.NoError(s.env.GetWorkflowResult(&status))
	s.Equal(4, status.TurnCount)
}
