// Package protocol defines the WebSocket message protocol between clients and agentmux.
package protocol

import "encoding/json"

// Message types from client to server
const (
	TypeHello            = "hello"
	TypeSendMessage      = "send_message"
	TypeSubmitChoice     = "submit_choice"
	TypeInterrupt        = "interrupt"
	TypeDiscussionStart  = "discussion_start"
	TypeDiscussionCancel = "discussion_cancel"
)

// Message types from server to client
const (
	TypeHelloAck = "hello_ack"
	TypeAck      = "ack"
	TypeEvent    = "event"
	TypeError    = "error"
)

// TopicAll subscribes a connection to every agent's events.
const TopicAll = "*"

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

// HelloMessage is sent by client to establish connection. An empty agent_id subscribes to all agents.
type HelloMessage struct {
	BaseMessage
	APIKey     string            `json:"api_key,omitempty"`
	ClientMeta map[string]string `json:"client_meta,omitempty"`
}

// HelloAckMessage is sent after a successful hello.
type HelloAckMessage struct {
	BaseMessage
	ConnectionID string `json:"connection_id"`
	Topic        string `json:"topic"`
}

// SendMessageMessage asks the server to deliver text to an agent.
type SendMessageMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// SubmitChoiceMessage answers an interactive choice prompt.
type SubmitChoiceMessage struct {
	BaseMessage
	Number int `json:"number"`
}

// InterruptMessage sends the interrupt key to an agent.
type InterruptMessage struct {
	BaseMessage
}

// DiscussionStartMessage starts a discussion across participants.
type DiscussionStartMessage struct {
	BaseMessage
	Question     string   `json:"question"`
	Participants []string `json:"participants,omitempty"`
}

// DiscussionCancelMessage cancels the active discussion.
type DiscussionCancelMessage struct {
	BaseMessage
}

// AckMessage confirms a request was accepted.
type AckMessage struct {
	BaseMessage
	RunID string `json:"run_id,omitempty"`
}

// EventMessage carries a recorded event to subscribers.
type EventMessage struct {
	BaseMessage
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrorMessage is sent when an error occurs.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeUnauthorized    = "unauthorized"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeInternalError   = "internal_error"
)
