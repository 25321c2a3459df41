package domain

import (
	"errors"
	"fmt"
)

// ErrorCode tags a failure so callers can branch on its kind.
type ErrorCode string

const (
	CodeSessionNotFound    ErrorCode = "session_not_found"
	CodeUserActionRequired ErrorCode = "user_action_required"
	CodeTurnPending        ErrorCode = "turn_pending"
	CodeTimeout            ErrorCode = "timeout"
	CodeCommandFailed      ErrorCode = "command_failed"
	CodeSpawnFailed        ErrorCode = "spawn_failed"
	CodeDiscussionActive   ErrorCode = "discussion_active"
	CodePolicyDenied       ErrorCode = "policy_denied"
	CodeInvalidRequest     ErrorCode = "invalid_request"
)

// Error is a tagged failure with a human readable message.
type Error struct {
	Code    ErrorCode
	AgentID string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.AgentID != "" {
		msg = fmt.Sprintf("%s (agent %s)", msg, e.AgentID)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrTimeout) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrSessionNotFound    = &Error{Code: CodeSessionNotFound, Message: "session not found"}
	ErrUserActionRequired = &Error{Code: CodeUserActionRequired, Message: "user action required"}
	ErrTurnPending        = &Error{Code: CodeTurnPending, Message: "a turn is already pending"}
	ErrTimeout            = &Error{Code: CodeTimeout, Message: "timed out"}
	ErrCommandFailed      = &Error{Code: CodeCommandFailed, Message: "multiplexer command failed"}
	ErrSpawnFailed        = &Error{Code: CodeSpawnFailed, Message: "agent process exited during startup"}
	ErrDiscussionActive   = &Error{Code: CodeDiscussionActive, Message: "a discussion is already running"}
	ErrPolicyDenied       = &Error{Code: CodePolicyDenied, Message: "blocked by dispatch policy"}
	ErrInvalidRequest     = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
)

// NewError builds a tagged error for one agent.
func NewError(code ErrorCode, agentID, message string, err error) *Error {
	return &Error{Code: code, AgentID: agentID, Message: message, Err: err}
}

// CodeOf extracts the tag from err, or "" when err is untagged.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
