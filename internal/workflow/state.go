package workflow

import (
	"time"

	"github.com/mfateev/agentchat/internal/service"
)

// Handler names.
const (
	UpdateSendMessage  = "send_message"
	UpdateShutdown     = "shutdown"
	SignalToolResponse = "tool_response"
	QueryGetStatus     = "get_status"
)

// IdleTimeout is how long a conversation waits without activity before it
// continues as new with a fresh history.
const IdleTimeout = 24 * time.Hour

// Phase is the lifecycle phase reported by get_status.
type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseStopped  Phase = "stopped"
)

// ConversationInput starts a conversation workflow. The workflow id is the
// context id.
type ConversationInput struct {
	AgentID    string            `json:"agent_id"`
	OrgID      string            `json:"org_id"`
	UserID     string            `json:"user_id,omitempty"`
	PromptArgs map[string]string `json:"prompt_args,omitempty"`
}

// SendMessageRequest is the payload of the send_message update. An empty
// Text resumes the conversation after async tool responses. Stream runs the
// turn as a streaming activity whose heartbeat details carry the answer
// received so far.
type SendMessageRequest struct {
	Text   string `json:"text,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Stream bool   `json:"stream,omitempty"`
}

// ShutdownResponse is returned by the shutdown update.
type ShutdownResponse struct {
	TurnCount int `json:"turn_count"`
}

// Status is returned by the get_status query and by the workflow itself.
type Status struct {
	ContextID string         `json:"context_id"`
	AgentID   string         `json:"agent_id"`
	Phase     Phase          `json:"phase"`
	TurnCount int            `json:"turn_count"`
	LastReply *service.Reply `json:"last_reply,omitempty"`
	LastError string         `json:"last_error,omitempty"`

	// PendingToolResponses counts tool_response signals not yet queued.
	PendingToolResponses int `json:"pending_tool_responses"`
}

// ConversationState is carried through ContinueAsNew.
type ConversationState struct {
	Input     ConversationInput `json:"input"`
	ContextID string            `json:"context_id"`
	Created   bool              `json:"created"`
	TurnCount int               `json:"turn_count"`
	LastReply *service.Reply    `json:"last_reply,omitempty"`
	LastError string            `json:"last_error,omitempty"`

	// Transient, reset on each run.
	busy     bool
	pending  int
	shutdown bool
}

func (s *ConversationState) status() Status {
	phase := PhaseIdle
	switch {
	case !s.Created:
		phase = PhaseStarting
	case s.shutdown && !s.busy:
		phase = PhaseStopped
	case s.busy:
		phase = PhaseRunning
	}
	return Status{
		ContextID: s.ContextID,
		AgentID:   s.Input.AgentID,
		Phase:     phase,
		TurnCount: s.TurnCount,
		LastReply: s.LastReply,
		LastError: s.LastError,

		PendingToolResponses: s.pending,
	}
}
