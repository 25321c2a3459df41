// Package hub fans agent events out to WebSocket subscribers.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/protocol"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID    string
	Topic string
	Conn  *websocket.Conn
	Send  chan []byte
	hub   *Hub
	mu    sync.Mutex
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Topics maps an agent ID (or TopicAll) to its subscribed connection IDs
	topics map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *TopicMessage

	mu sync.RWMutex
}

// TopicMessage is used to broadcast a message to a topic.
type TopicMessage struct {
	Topic string
	Data  []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		topics:      make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *TopicMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.Topic != "" {
				h.addToTopicLocked(conn, conn.Topic)
			}
			h.mu.Unlock()
			log.Printf("Connection registered: %s (topic: %s)", conn.ID, conn.Topic)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				h.removeFromTopicLocked(conn)
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("Connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			targets := make(map[string]bool)
			for id := range h.topics[msg.Topic] {
				targets[id] = true
			}
			if msg.Topic != protocol.TopicAll {
				for id := range h.topics[protocol.TopicAll] {
					targets[id] = true
				}
			}
			for connID := range targets {
				if conn, exists := h.connections[connID]; exists {
					select {
					case conn.Send <- msg.Data:
					default:
						log.Printf("Connection %s buffer full, closing", connID)
						go h.Unregister(conn)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) addToTopicLocked(conn *Connection, topic string) {
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]bool)
	}
	h.topics[topic][conn.ID] = true
}

func (h *Hub) removeFromTopicLocked(conn *Connection) {
	if conn.Topic == "" || h.topics[conn.Topic] == nil {
		return
	}
	delete(h.topics[conn.Topic], conn.ID)
	if len(h.topics[conn.Topic]) == 0 {
		delete(h.topics, conn.Topic)
	}
}

// NewConnection creates a new connection; call Register to attach it.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
		hub:  h,
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Subscribe moves a connection to topic.
func (h *Hub) Subscribe(conn *Connection, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromTopicLocked(conn)
	conn.Topic = topic
	h.addToTopicLocked(conn, topic)
}

// Broadcast sends data to every subscriber of topic and every TopicAll subscriber.
func (h *Hub) Broadcast(topic string, data []byte) {
	h.broadcast <- &TopicMessage{
		Topic: topic,
		Data:  data,
	}
}

// BroadcastJSON marshals v and broadcasts it to topic.
func (h *Hub) BroadcastJSON(topic string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(topic, data)
	return nil
}

// Publish implements the service event sink by wrapping the event for WebSocket clients.
func (h *Hub) Publish(event *domain.Event) {
	topic := event.AgentID
	if topic == "" {
		topic = protocol.TopicAll
	}
	msg := protocol.EventMessage{
		BaseMessage: protocol.BaseMessage{
			Type:    protocol.TypeEvent,
			Ts:      event.Ts,
			AgentID: event.AgentID,
		},
		EventID:   event.EventID,
		EventType: string(event.Type),
		Payload:   event.Payload,
	}
	if err := h.BroadcastJSON(topic, msg); err != nil {
		log.Printf("ERROR: failed to broadcast event %s: %v", event.EventID, err)
	}
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasSubscribers reports whether anything would receive events for topic.
func (h *Hub) HasSubscribers(topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic]) > 0 || len(h.topics[protocol.TopicAll]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
