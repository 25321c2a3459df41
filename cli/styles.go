package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/protocol"
)

const (
	colorAccent  = lipgloss.Color("#7aa2f7")
	colorGreen   = lipgloss.Color("#9ece6a")
	colorYellow  = lipgloss.Color("#e0af68")
	colorRed     = lipgloss.Color("#f7768e")
	colorPurple  = lipgloss.Color("#bb9af7")
	colorComment = lipgloss.Color("#787fa0")
)

var (
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	agentStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	systemStyle = lipgloss.NewStyle().Foreground(colorRed)
	dimStyle    = lipgloss.NewStyle().Foreground(colorComment)
	promptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorYellow).
			Padding(0, 1)
	phaseStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPurple)
)

func stateStyle(state domain.SessionState) lipgloss.Style {
	switch state {
	case domain.SessionStateRunning:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case domain.SessionStateError:
		return lipgloss.NewStyle().Foreground(colorRed)
	case domain.SessionStateStarting:
		return lipgloss.NewStyle().Foreground(colorYellow)
	}
	return dimStyle
}

func renderSession(s domain.AgentSession) string {
	line := fmt.Sprintf("%-12s %-8s %s", s.AgentID, s.Kind, stateStyle(s.State).Render(string(s.State)))
	if s.LastError != "" {
		line += " " + systemStyle.Render(s.LastError)
	}
	return line
}

func renderTurn(t domain.TurnEvent) string {
	ts := dimStyle.Render(t.Ts.Local().Format("15:04:05"))
	switch t.Role {
	case domain.RoleUser:
		return fmt.Sprintf("%s %s → %s\n%s", ts, userStyle.Render("You"), t.AgentID, t.Text)
	case domain.RoleSystem:
		return fmt.Sprintf("%s %s %s", ts, systemStyle.Render("["+t.DisplayName+"]"), t.Text)
	}
	return fmt.Sprintf("%s %s\n%s", ts, agentStyle.Render(t.DisplayName), t.Text)
}

func renderPrompt(p domain.InteractiveChoicePrompt) string {
	var b strings.Builder
	b.WriteString(p.Title)
	if p.Body != "" {
		b.WriteString("\n" + dimStyle.Render(p.Body))
	}
	for _, o := range p.Options {
		fmt.Fprintf(&b, "\n  %d. %s", o.Number, o.Label)
	}
	if p.Hint != "" {
		b.WriteString("\n" + dimStyle.Render(p.Hint))
	}
	return promptStyle.Render(b.String())
}

// renderEvent formats one event for watch; it returns "" for events not worth printing.
func renderEvent(msg protocol.EventMessage) string {
	switch domain.EventType(msg.EventType) {
	case domain.EventTypeUserTurn, domain.EventTypeAgentTurn, domain.EventTypeSystemMessage:
		var t domain.TurnEvent
		if err := json.Unmarshal(msg.Payload, &t); err != nil || t.Role == "" {
			break
		}
		return renderTurn(t)
	case domain.EventTypeChoiceRequired:
		var p domain.InteractiveChoicePrompt
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			break
		}
		return fmt.Sprintf("%s needs a choice (agentmux choice %s <n>):\n%s", agentStyle.Render(msg.AgentID), msg.AgentID, renderPrompt(p))
	case domain.EventTypeStreamDelta:
		return ""
	case domain.EventTypeDiscussionPhase, domain.EventTypeDiscussionStarted,
		domain.EventTypeDiscussionCompleted, domain.EventTypeDiscussionCancelled:
		return phaseStyle.Render(msg.EventType) + " " + dimStyle.Render(string(msg.Payload))
	case domain.EventTypeDiscussionResponse:
		var r struct {
			Round       int    `json:"round"`
			DisplayName string `json:"display_name"`
			Text        string `json:"text"`
		}
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			break
		}
		return fmt.Sprintf("%s %s\n%s", phaseStyle.Render(fmt.Sprintf("round %d", r.Round)), agentStyle.Render(r.DisplayName), r.Text)
	}
	ts := time.UnixMilli(msg.Ts).Local().Format("15:04:05")
	return dimStyle.Render(fmt.Sprintf("%s %s %s %s", ts, msg.EventType, msg.AgentID, string(msg.Payload)))
}
