package models

import (
	"errors"
	"fmt"
)

// ErrorType categorizes errors for appropriate handling
type ErrorType int

const (
	ErrorTypeTransient       ErrorType = iota // Network, timeout → Temporal retries
	ErrorTypeContextOverflow                  // Context window exceeded → surface to caller
	ErrorTypeAPILimit                         // Rate limit → retry with backoff
	ErrorTypeToolFailure                      // Individual tool failed → continue turn
	ErrorTypeFatal                            // Unrecoverable → fail the turn
	ErrorTypePolicyFatal                      // Terminating policy ceiling hit → fail the turn
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrorTypeTransient:
		return "Transient"
	case ErrorTypeContextOverflow:
		return "ContextOverflow"
	case ErrorTypeAPILimit:
		return "APILimit"
	case ErrorTypeToolFailure:
		return "ToolFailure"
	case ErrorTypeFatal:
		return "Fatal"
	case ErrorTypePolicyFatal:
		return "PolicyFatal"
	default:
		return "Unknown"
	}
}

// Policy ceilings. Returned wrapped in an *ActivityError of type
// ErrorTypePolicyFatal; match with errors.Is.
var (
	ErrMaxInvocations = errors.New("max invocations exceeded")
	ErrMaxNudges      = errors.New("max consecutive nudges exceeded, agent failed to terminate")
)

// ActivityError represents a classified error surfaced by the engine, the
// LLM clients or an activity.
type ActivityError struct {
	Type      ErrorType              `json:"type"`
	Retryable bool                   `json:"retryable"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`

	cause error
}

// Error implements the error interface
func (e *ActivityError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap exposes the sentinel cause, if any.
func (e *ActivityError) Unwrap() error {
	return e.cause
}

// NewTransientError creates a retryable transient error
func NewTransientError(message string) *ActivityError {
	return &ActivityError{
		Type:      ErrorTypeTransient,
		Retryable: true,
		Message:   message,
	}
}

// NewContextOverflowError creates a context overflow error
func NewContextOverflowError(message string) *ActivityError {
	return &ActivityError{
		Type:      ErrorTypeContextOverflow,
		Retryable: false,
		Message:   message,
	}
}

// NewAPILimitError creates an API rate limit error
func NewAPILimitError(message string) *ActivityError {
	return &ActivityError{
		Type:      ErrorTypeAPILimit,
		Retryable: true,
		Message:   message,
	}
}

// NewToolFailureError creates a tool failure error
func NewToolFailureError(message string) *ActivityError {
	return &ActivityError{
		Type:      ErrorTypeToolFailure,
		Retryable: false,
		Message:   message,
	}
}

// NewFatalError creates a fatal error
func NewFatalError(message string) *ActivityError {
	return &ActivityError{
		Type:      ErrorTypeFatal,
		Retryable: false,
		Message:   message,
	}
}

// NewPolicyFatalError wraps one of the policy sentinels with turn details.
func NewPolicyFatalError(cause error, details map[string]interface{}) *ActivityError {
	return &ActivityError{
		Type:      ErrorTypePolicyFatal,
		Retryable: false,
		Message:   cause.Error(),
		Details:   details,
		cause:     cause,
	}
}

// IsPolicyFatal reports whether err aborted a turn because of a terminating
// policy ceiling.
func IsPolicyFatal(err error) bool {
	var ae *ActivityError
	return errors.As(err, &ae) && ae.Type == ErrorTypePolicyFatal
}

// IsRetryable reports whether err is a classified retryable error.
func IsRetryable(err error) bool {
	var ae *ActivityError
	return errors.As(err, &ae) && ae.Retryable
}
