package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentmux/internal/config"
	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/hub"
)

type fakeAgents struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (f *fakeAgents) SendMessage(ctx context.Context, agentID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, agentID+":"+text)
	return nil
}

func (f *fakeAgents) CollectResponse(agentID string) {}

func (f *fakeAgents) SubmitChoice(ctx context.Context, agentID string, number int) error {
	return nil
}

func (f *fakeAgents) Interrupt(ctx context.Context, agentID string) error {
	return domain.NewError(domain.CodeSessionNotFound, agentID, "agent is not running", nil)
}

func (f *fakeAgents) RunningAgentIDs() []string { return []string{"claude", "gemini"} }

type fakeDiscussions struct {
	mu           sync.Mutex
	participants []string
}

func (f *fakeDiscussions) Start(ctx context.Context, question string, participants []string) (*domain.DiscussionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants = participants
	return &domain.DiscussionRun{RunID: "disc_1", Question: question, Participants: participants}, nil
}

func (f *fakeDiscussions) Cancel(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, agents *fakeAgents, discussions *fakeDiscussions) (*hub.Hub, *websocket.Conn) {
	t.Helper()
	cfg := &config.Config{
		APIKey:         "secret",
		PingInterval:   time.Minute,
		WriteTimeout:   time.Second,
		ReadTimeout:    time.Minute,
		MaxMessageSize: 1 << 20,
	}
	h := hub.NewHub()
	go h.Run()

	e := echo.New()
	e.GET("/ws", NewServer(cfg, h, agents, discussions).HandleWebSocket)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return h, conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg map[string]interface{}) map[string]interface{} {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out map[string]interface{}
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return out
}

func TestHelloRequired(t *testing.T) {
	_, conn := newTestServer(t, &fakeAgents{}, &fakeDiscussions{})

	resp := roundTrip(t, conn, map[string]interface{}{"type": "send_message", "agent_id": "claude", "text": "hi"})
	if resp["type"] != "error" || resp["code"] != "session_required" {
		t.Fatalf("unexpected response: %v", resp)
	}

	resp = roundTrip(t, conn, map[string]interface{}{"type": "hello", "api_key": "wrong"})
	if resp["code"] != "unauthorized" {
		t.Fatalf("expected unauthorized, got %v", resp)
	}
}

func TestSendMessageAndEvents(t *testing.T) {
	agents := &fakeAgents{}
	h, conn := newTestServer(t, agents, &fakeDiscussions{})

	resp := roundTrip(t, conn, map[string]interface{}{"type": "hello", "api_key": "secret"})
	if resp["type"] != "hello_ack" || resp["topic"] != "*" {
		t.Fatalf("unexpected hello_ack: %v", resp)
	}

	resp = roundTrip(t, conn, map[string]interface{}{"type": "send_message", "request_id": "r1", "agent_id": "claude", "text": "hi"})
	if resp["type"] != "ack" || resp["request_id"] != "r1" {
		t.Fatalf("unexpected ack: %v", resp)
	}
	agents.mu.Lock()
	if len(agents.sent) != 1 || agents.sent[0] != "claude:hi" {
		t.Fatalf("unexpected sends: %v", agents.sent)
	}
	agents.mu.Unlock()

	h.Publish(&domain.Event{EventID: "evt_1", AgentID: "claude", Ts: 1, Type: domain.EventTypeAgentTurn, Payload: []byte(`{"text":"hello"}`)})
	event := read(t, conn)
	if event["type"] != "event" || event["event_type"] != "agent_turn" {
		t.Fatalf("unexpected event: %v", event)
	}
}

func TestErrorsCarryDomainCode(t *testing.T) {
	agents := &fakeAgents{sendErr: domain.NewError(domain.CodeUserActionRequired, "claude", "agent is waiting for a choice", nil)}
	_, conn := newTestServer(t, agents, &fakeDiscussions{})
	roundTrip(t, conn, map[string]interface{}{"type": "hello", "api_key": "secret", "agent_id": "claude"})

	resp := roundTrip(t, conn, map[string]interface{}{"type": "send_message", "agent_id": "claude", "text": "hi"})
	if resp["code"] != "user_action_required" {
		t.Fatalf("unexpected error: %v", resp)
	}
	resp = roundTrip(t, conn, map[string]interface{}{"type": "interrupt", "agent_id": "claude"})
	if resp["code"] != "session_not_found" {
		t.Fatalf("unexpected error: %v", resp)
	}
}

func TestDiscussionStartDefaultsToRunningAgents(t *testing.T) {
	discussions := &fakeDiscussions{}
	_, conn := newTestServer(t, &fakeAgents{}, discussions)
	roundTrip(t, conn, map[string]interface{}{"type": "hello", "api_key": "secret"})

	resp := roundTrip(t, conn, map[string]interface{}{"type": "discussion_start", "question": "why?"})
	if resp["type"] != "ack" || resp["run_id"] != "disc_1" {
		t.Fatalf("unexpected ack: %v", resp)
	}
	discussions.mu.Lock()
	defer discussions.mu.Unlock()
	if len(discussions.participants) != 2 {
		t.Fatalf("unexpected participants: %v", discussions.participants)
	}
}
