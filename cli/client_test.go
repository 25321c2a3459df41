package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/protocol"
)

func TestAPIClientDecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/agents/claude/messages":
			w.WriteHeader(http.StatusGatewayTimeout)
			w.Write([]byte(`{"error":"timed out","code":"timeout","text":"partial"}`))
		default:
			w.WriteHeader(http.StatusLocked)
			w.Write([]byte(`{"error":"agent is waiting for a choice","code":"user_action_required"}`))
		}
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL + "/")

	err := client.Do(http.MethodPost, "/v1/agents/gemini/messages", map[string]string{"text": "hi"}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusLocked, apiErr.Status)
	assert.Equal(t, "user_action_required", apiErr.Code)

	var resp struct {
		Text string `json:"text"`
	}
	err = client.Do(http.MethodPost, "/v1/agents/claude/messages", map[string]string{"text": "hi"}, &resp)
	require.Error(t, err)
	assert.Equal(t, "partial", resp.Text)
}

func TestRenderEvent(t *testing.T) {
	turn, err := json.Marshal(domain.TurnEvent{
		AgentID:     "claude",
		Role:        domain.RoleAssistant,
		DisplayName: "Claude",
		Text:        "Hi there",
		Ts:          time.Now(),
	})
	require.NoError(t, err)

	out := renderEvent(protocol.EventMessage{EventType: string(domain.EventTypeAgentTurn), Payload: turn})
	assert.True(t, strings.Contains(out, "Claude"))
	assert.True(t, strings.Contains(out, "Hi there"))

	assert.Empty(t, renderEvent(protocol.EventMessage{EventType: string(domain.EventTypeStreamDelta)}))

	prompt, err := json.Marshal(domain.InteractiveChoicePrompt{
		Title:   "Do you want to proceed?",
		Options: []domain.ChoiceOption{{Number: 1, Label: "Yes"}, {Number: 2, Label: "No"}},
	})
	require.NoError(t, err)
	out = renderEvent(protocol.EventMessage{
		BaseMessage: protocol.BaseMessage{AgentID: "claude"},
		EventType:   string(domain.EventTypeChoiceRequired),
		Payload:     prompt,
	})
	assert.Contains(t, out, "2. No")
}
