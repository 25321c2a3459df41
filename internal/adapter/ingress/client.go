// Package ingress forwards recorded events to a remote relay over JSON-RPC.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/xiaot623/agentmux/internal/domain"
)

// Client pushes events to the relay at addr. A zero address disables forwarding.
type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration

	queue chan pushItem
	once  sync.Once
}

type pushItem struct {
	topic string
	event map[string]interface{}
}

// NewClient creates a client for baseURL, which may be host:port or a URL.
func NewClient(baseURL string) *Client {
	return &Client{
		addr:        resolveRPCAddr(baseURL),
		dialTimeout: 5 * time.Second,
		callTimeout: 5 * time.Second,
		queue:       make(chan pushItem, 256),
	}
}

// PushRequest is the payload of Relay.PushEvent.
type PushRequest struct {
	Topic string                 `json:"topic"`
	Event map[string]interface{} `json:"event"`
}

// PushResponse is the reply of Relay.PushEvent.
type PushResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// Enabled reports whether a relay address is configured.
func (c *Client) Enabled() bool {
	return c.addr != ""
}

// PushEvent sends one event to the relay.
func (c *Client) PushEvent(topic string, event map[string]interface{}) error {
	if c.addr == "" {
		return nil
	}

	req := &PushRequest{
		Topic: topic,
		Event: event,
	}

	var resp PushResponse
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()

	if err := c.call(ctx, "Relay.PushEvent", req, &resp); err != nil {
		return fmt.Errorf("failed to push event to relay: %w", err)
	}
	if !resp.OK {
		log.Printf("WARN: relay rpc returned ok=false (delivered=%v)", resp.Delivered)
		return fmt.Errorf("relay rpc returned ok=false")
	}

	return nil
}

// Publish implements the service event sink. Events are queued and pushed in order by a
// background worker; when the queue is full the event is dropped.
func (c *Client) Publish(event *domain.Event) {
	if c.addr == "" {
		return
	}
	msg := map[string]interface{}{
		"type":       "event",
		"event_id":   event.EventID,
		"event_type": string(event.Type),
		"agent_id":   event.AgentID,
		"ts":         event.Ts,
	}
	if len(event.Payload) > 0 {
		var payload interface{}
		if err := json.Unmarshal(event.Payload, &payload); err == nil {
			msg["payload"] = payload
		}
	}
	topic := event.AgentID
	if topic == "" {
		topic = "*"
	}

	c.once.Do(func() { go c.forward() })
	select {
	case c.queue <- pushItem{topic: topic, event: msg}:
	default:
		log.Printf("WARN: relay queue full, dropping event %s", event.EventID)
	}
}

func (c *Client) forward() {
	for item := range c.queue {
		if err := c.PushEvent(item.topic, item.event); err != nil {
			log.Printf("WARN: failed to forward event %v: %v", item.event["event_id"], err)
		}
	}
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}
