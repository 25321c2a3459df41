// Package ws provides the WebSocket endpoint: clients subscribe to agent events and
// drive agents and discussions.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentmux/internal/config"
	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/hub"
	"github.com/xiaot623/agentmux/internal/protocol"
)

// Agents is the session layer driven by WebSocket clients.
type Agents interface {
	SendMessage(ctx context.Context, agentID, text string) error
	CollectResponse(agentID string)
	SubmitChoice(ctx context.Context, agentID string, number int) error
	Interrupt(ctx context.Context, agentID string) error
	RunningAgentIDs() []string
}

// Discussions starts and cancels discussion runs.
type Discussions interface {
	Start(ctx context.Context, question string, participants []string) (*domain.DiscussionRun, error)
	Cancel(ctx context.Context) error
}

// Server handles WebSocket connections.
type Server struct {
	cfg         *config.Config
	hub         *hub.Hub
	agents      Agents
	discussions Discussions
	upgrader    websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, agents Agents, discussions Discussions) *Server {
	return &Server{
		cfg:         cfg,
		hub:         h,
		agents:      agents,
		discussions: discussions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	if baseMsg.Type != protocol.TypeHello && conn.Topic == "" {
		s.sendError(conn, baseMsg.RequestID, protocol.ErrorCodeSessionRequired, "must send hello first")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeHello:
		s.handleHello(conn, data)
	case protocol.TypeSendMessage:
		s.handleSendMessage(conn, data)
	case protocol.TypeSubmitChoice:
		s.handleSubmitChoice(conn, data)
	case protocol.TypeInterrupt:
		s.handleInterrupt(conn, baseMsg)
	case protocol.TypeDiscussionStart:
		s.handleDiscussionStart(conn, data)
	case protocol.TypeDiscussionCancel:
		s.handleDiscussionCancel(conn, baseMsg)
	default:
		s.sendError(conn, baseMsg.RequestID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello handles the hello handshake message.
func (s *Server) handleHello(conn *hub.Connection, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	if s.cfg.APIKey != "" && msg.APIKey != s.cfg.APIKey {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeUnauthorized, "invalid api_key")
		return
	}

	topic := msg.AgentID
	if topic == "" {
		topic = protocol.TopicAll
	}
	s.hub.Subscribe(conn, topic)

	ack := protocol.HelloAckMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeHelloAck,
			Ts:        time.Now().UnixMilli(),
			RequestID: msg.RequestID,
			AgentID:   msg.AgentID,
		},
		ConnectionID: conn.ID,
		Topic:        topic,
	}
	s.hub.SendJSONToConnection(conn, ack)

	log.Printf("Hello handshake completed: connection=%s topic=%s", conn.ID, topic)
}

func (s *Server) handleSendMessage(conn *hub.Connection, data []byte) {
	var msg protocol.SendMessageMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid send_message message")
		return
	}
	if msg.AgentID == "" {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeInvalidMessage, "agent_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.agents.SendMessage(ctx, msg.AgentID, msg.Text); err != nil {
		s.sendFailure(conn, msg.RequestID, err)
		return
	}
	s.agents.CollectResponse(msg.AgentID)
	s.sendAck(conn, msg.RequestID, msg.AgentID, "")
}

func (s *Server) handleSubmitChoice(conn *hub.Connection, data []byte) {
	var msg protocol.SubmitChoiceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid submit_choice message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.agents.SubmitChoice(ctx, msg.AgentID, msg.Number); err != nil {
		s.sendFailure(conn, msg.RequestID, err)
		return
	}
	s.sendAck(conn, msg.RequestID, msg.AgentID, "")
}

func (s *Server) handleInterrupt(conn *hub.Connection, msg protocol.BaseMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.agents.Interrupt(ctx, msg.AgentID); err != nil {
		s.sendFailure(conn, msg.RequestID, err)
		return
	}
	s.sendAck(conn, msg.RequestID, msg.AgentID, "")
}

func (s *Server) handleDiscussionStart(conn *hub.Connection, data []byte) {
	var msg protocol.DiscussionStartMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid discussion_start message")
		return
	}

	participants := msg.Participants
	if len(participants) == 0 {
		participants = s.agents.RunningAgentIDs()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run, err := s.discussions.Start(ctx, msg.Question, participants)
	if err != nil {
		s.sendFailure(conn, msg.RequestID, err)
		return
	}
	s.sendAck(conn, msg.RequestID, "", run.RunID)
}

func (s *Server) handleDiscussionCancel(conn *hub.Connection, msg protocol.BaseMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.discussions.Cancel(ctx); err != nil {
		s.sendFailure(conn, msg.RequestID, err)
		return
	}
	s.sendAck(conn, msg.RequestID, "", "")
}

func (s *Server) sendAck(conn *hub.Connection, requestID, agentID, runID string) {
	s.hub.SendJSONToConnection(conn, protocol.AckMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeAck,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
			AgentID:   agentID,
		},
		RunID: runID,
	})
}

// sendFailure reports err with its domain code.
func (s *Server) sendFailure(conn *hub.Connection, requestID string, err error) {
	code := string(domain.CodeOf(err))
	if code == "" {
		code = protocol.ErrorCodeInternalError
	}
	s.sendError(conn, requestID, code, err.Error())
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, requestID, code, message string) {
	errMsg := protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeError,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}
