package models

import "fmt"

// TerminatingPolicy governs when a turn must stop looping and how the engine
// reacts when the model answers in plain text instead of calling one of the
// designated terminating tools.
type TerminatingPolicy struct {
	// ToolIDs is the set of tool ids whose invocation ends the turn.
	ToolIDs []string `json:"tool_ids" yaml:"tool_ids" bson:"tool_ids"`

	// ConsecutiveNudges is the number of nudge messages tolerated in a row
	// before the turn fails.
	ConsecutiveNudges int `json:"consecutive_nudges" yaml:"consecutive_nudges" bson:"consecutive_nudges"`

	// NudgeMessage is appended as a system message after each content-only
	// model response.
	NudgeMessage string `json:"nudge_message" yaml:"nudge_message" bson:"nudge_message"`

	// MaxInvocations bounds the number of model calls in a single turn.
	MaxInvocations int `json:"max_invocations" yaml:"max_invocations" bson:"max_invocations"`
}

// Validate checks the policy bounds.
func (p *TerminatingPolicy) Validate() error {
	if len(p.ToolIDs) == 0 {
		return fmt.Errorf("terminating policy: at least one tool id is required")
	}
	if p.ConsecutiveNudges < 1 {
		return fmt.Errorf("terminating policy: consecutive_nudges must be >= 1, got %d", p.ConsecutiveNudges)
	}
	if p.MaxInvocations < 1 {
		return fmt.Errorf("terminating policy: max_invocations must be >= 1, got %d", p.MaxInvocations)
	}
	return nil
}

// Terminates reports whether a tool with the given id ends the turn.
// A nil policy never terminates.
func (p *TerminatingPolicy) Terminates(toolID string) bool {
	if p == nil || toolID == "" {
		return false
	}
	for _, id := range p.ToolIDs {
		if id == toolID {
			return true
		}
	}
	return false
}
