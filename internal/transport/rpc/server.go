// Package rpc exposes a JSON-RPC relay endpoint so another agentmux instance can forward
// its events to this instance's WebSocket subscribers.
package rpc

import (
	"context"
	"errors"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/xiaot623/agentmux/internal/adapter/ingress"
)

// Broadcaster delivers a JSON message to a topic's subscribers.
type Broadcaster interface {
	BroadcastJSON(topic string, v interface{}) error
	HasSubscribers(topic string) bool
}

// Server exposes relay RPC endpoints.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
}

// NewServer creates a new relay RPC server.
func NewServer(b Broadcaster) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{hub: b}
	if err := rpcServer.RegisterName("Relay", handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
	}, nil
}

// Listen binds addr. It is separate from Serve so callers learn the bound address.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Serve accepts connections until Shutdown.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			log.Printf("RPC accept error: %v", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Start binds addr and serves.
func (s *Server) Start(addr string) error {
	if _, err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements relay RPC methods.
type Handler struct {
	hub Broadcaster
}

// PushEvent forwards a relayed event to WebSocket clients.
func (h *Handler) PushEvent(req *ingress.PushRequest, resp *ingress.PushResponse) error {
	if req == nil {
		return errors.New("push request is required")
	}
	if req.Topic == "" {
		return errors.New("topic is required")
	}
	if req.Event == nil {
		return errors.New("event is required")
	}

	if _, ok := req.Event["ts"]; !ok {
		req.Event["ts"] = time.Now().UnixMilli()
	}
	req.Event["relayed"] = true

	delivered := h.hub.HasSubscribers(req.Topic)
	if err := h.hub.BroadcastJSON(req.Topic, req.Event); err != nil {
		return err
	}

	log.Printf("Relayed event to topic %s: type=%v, delivered=%v", req.Topic, req.Event["event_type"], delivered)

	if resp != nil {
		resp.OK = true
		resp.Delivered = delivered
	}
	return nil
}
