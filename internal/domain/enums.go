// Package domain defines the core domain models for agentmux.
package domain

// AgentKind identifies which terminal agent CLI runs inside a session.
type AgentKind string

const (
	AgentKindClaude  AgentKind = "claude"
	AgentKindGemini  AgentKind = "gemini"
	AgentKindCodex   AgentKind = "codex"
	AgentKindGeneric AgentKind = "generic"
)

// SessionState represents the lifecycle state of an agent session.
type SessionState string

const (
	SessionStateStarting SessionState = "starting"
	SessionStateRunning  SessionState = "running"
	SessionStateStopped  SessionState = "stopped"
	SessionStateError    SessionState = "error"
)

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Phase represents the phase of a discussion run.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseRound1Analyzing  Phase = "round1_analyzing"
	PhaseRound2Evaluating Phase = "round2_evaluating"
	PhaseRound3Revising   Phase = "round3_revising"
	PhaseComplete         Phase = "complete"
)

// Active reports whether a discussion in this phase still owns the scheduler.
func (p Phase) Active() bool {
	switch p {
	case PhaseRound1Analyzing, PhaseRound2Evaluating, PhaseRound3Revising:
		return true
	}
	return false
}

// EventType represents the type of an event.
type EventType string

const (
	EventTypeSessionStarted EventType = "session_started"
	EventTypeSessionStopped EventType = "session_stopped"
	EventTypeSessionFailed  EventType = "session_failed"
	EventTypeUserTurn       EventType = "user_turn"
	EventTypeAgentTurn      EventType = "agent_turn"
	EventTypeStreamDelta    EventType = "stream_delta"
	EventTypeSystemMessage  EventType = "system_message"

	// Interactive choice events
	EventTypeChoiceRequired EventType = "choice_required"
	EventTypeChoiceCleared  EventType = "choice_cleared"

	// Discussion events
	EventTypeDiscussionStarted   EventType = "discussion_started"
	EventTypeDiscussionPhase     EventType = "discussion_phase"
	EventTypeDiscussionResponse  EventType = "discussion_response"
	EventTypeDiscussionScores    EventType = "discussion_scores"
	EventTypeDiscussionCompleted EventType = "discussion_completed"
	EventTypeDiscussionCancelled EventType = "discussion_cancelled"
)
