package domain

import (
	"encoding/json"
	"time"
)

// AgentSpec describes a configured agent and how to launch it.
type AgentSpec struct {
	ID      string    `json:"agent_id" yaml:"id"`
	Kind    AgentKind `json:"kind" yaml:"kind"`
	Name    string    `json:"name" yaml:"name"`
	WorkDir string    `json:"work_dir" yaml:"work_dir"`
	Command []string  `json:"command" yaml:"command"`
}

// DisplayName returns the name shown next to the agent's turns.
func (a AgentSpec) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// AgentSession is a single agent process living in a tmux session.
type AgentSession struct {
	AgentID     string       `json:"agent_id"`
	Kind        AgentKind    `json:"kind"`
	DisplayName string       `json:"display_name"`
	WorkDir     string       `json:"work_dir"`
	SessionName string       `json:"session_name"`
	State       SessionState `json:"state"`
	LastError   string       `json:"last_error,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PendingTurnContext remembers what was last sent to a session so the reply can be attributed to it.
type PendingTurnContext struct {
	UserText       string    `json:"user_text"`
	BaselineTurnID string    `json:"baseline_turn_id,omitempty"`
	MinTimestamp   time.Time `json:"min_timestamp"`
	LogPath        string    `json:"log_path,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// ChoiceOption is one numbered entry of an interactive menu.
type ChoiceOption struct {
	Number int    `json:"number"`
	Label  string `json:"label"`
}

// InteractiveChoicePrompt is a menu the agent is blocked on.
type InteractiveChoicePrompt struct {
	AgentID    string         `json:"agent_id"`
	Title      string         `json:"title"`
	Body       string         `json:"body,omitempty"`
	Hint       string         `json:"hint,omitempty"`
	Options    []ChoiceOption `json:"options"`
	DetectedAt time.Time      `json:"detected_at"`
}

// HasOption reports whether number is one of the displayed options.
func (p *InteractiveChoicePrompt) HasOption(number int) bool {
	for _, o := range p.Options {
		if o.Number == number {
			return true
		}
	}
	return false
}

// SameAs reports whether two prompts show the same menu.
func (p *InteractiveChoicePrompt) SameAs(other *InteractiveChoicePrompt) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.Title != other.Title || len(p.Options) != len(other.Options) {
		return false
	}
	for i := range p.Options {
		if p.Options[i] != other.Options[i] {
			return false
		}
	}
	return true
}

// TurnEvent is a single conversational turn handed to presentation collaborators.
type TurnEvent struct {
	EventID     string    `json:"event_id"`
	AgentID     string    `json:"agent_id"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	Ts          time.Time `json:"ts"`
}

// Event represents a recorded event for replay and fan-out.
type Event struct {
	EventID string          `json:"event_id"`
	AgentID string          `json:"agent_id,omitempty"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DiscussionRun is one analyze, critique and revise cycle across several agents.
type DiscussionRun struct {
	RunID        string                    `json:"run_id"`
	Question     string                    `json:"question"`
	Phase        Phase                     `json:"phase"`
	Participants []string                  `json:"participants"`
	Eliminated   map[string]bool           `json:"eliminated,omitempty"`
	Round1       []DiscussionResponse      `json:"round1,omitempty"`
	Round2       []DiscussionResponse      `json:"round2,omitempty"`
	Round3       []DiscussionResponse      `json:"round3,omitempty"`
	Scores       map[string]map[string]int `json:"scores,omitempty"` // evaluated -> evaluator -> score
	Cancelled    bool                      `json:"cancelled"`
	StartedAt    time.Time                 `json:"started_at"`
	EndedAt      *time.Time                `json:"ended_at,omitempty"`
}

// DiscussionResponse is one participant's answer in one round.
type DiscussionResponse struct {
	RunID   string    `json:"run_id"`
	Round   int       `json:"round"`
	AgentID string    `json:"agent_id"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Score is one evaluator's score for one evaluated participant.
type Score struct {
	RunID     string `json:"run_id"`
	Evaluated string `json:"evaluated"`
	Evaluator string `json:"evaluator"`
	Score     int    `json:"score"`
}

// AverageScore returns the mean peer score an agent received, or 0 when unscored.
func (r *DiscussionRun) AverageScore(agentID string) float64 {
	byEvaluator := r.Scores[agentID]
	if len(byEvaluator) == 0 {
		return 0
	}
	total := 0
	for _, s := range byEvaluator {
		total += s
	}
	return float64(total) / float64(len(byEvaluator))
}
