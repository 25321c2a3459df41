package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/protocol"
)

func newConn(h *Hub, topic string) *Connection {
	c := h.NewConnection(nil)
	c.Topic = topic
	h.Register(c)
	return c
}

func receive(t *testing.T, c *Connection) []byte {
	t.Helper()
	select {
	case data := <-c.Send:
		return data
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message on %s", c.Topic)
	}
	return nil
}

func expectNothing(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected message on %s: %s", c.Topic, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishRoutesByTopic(t *testing.T) {
	h := NewHub()
	go h.Run()

	claude := newConn(h, "claude")
	gemini := newConn(h, "gemini")
	all := newConn(h, protocol.TopicAll)

	h.Publish(&domain.Event{EventID: "evt_1", AgentID: "claude", Ts: 42, Type: domain.EventTypeAgentTurn, Payload: json.RawMessage(`{"text":"hi"}`)})

	var msg protocol.EventMessage
	if err := json.Unmarshal(receive(t, claude), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != protocol.TypeEvent || msg.EventType != "agent_turn" || msg.AgentID != "claude" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	receive(t, all)
	expectNothing(t, gemini)
}

func TestPublishWithoutAgentGoesToAllSubscribers(t *testing.T) {
	h := NewHub()
	go h.Run()

	claude := newConn(h, "claude")
	all := newConn(h, protocol.TopicAll)

	h.Publish(&domain.Event{EventID: "evt_2", Ts: 1, Type: domain.EventTypeDiscussionStarted})

	receive(t, all)
	expectNothing(t, claude)
}

func TestSubscribeMovesConnection(t *testing.T) {
	h := NewHub()
	go h.Run()

	c := newConn(h, "claude")
	h.Subscribe(c, "codex")

	if !h.HasSubscribers("codex") {
		t.Fatalf("expected codex subscriber")
	}
	h.Publish(&domain.Event{EventID: "evt_3", AgentID: "claude", Type: domain.EventTypeAgentTurn})
	expectNothing(t, c)

	h.Unregister(c)
	time.Sleep(20 * time.Millisecond)
	if h.GetConnectionCount() != 0 {
		t.Fatalf("expected no connections, got %d", h.GetConnectionCount())
	}
}
