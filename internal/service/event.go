package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/agentmux/internal/domain"
)

// RecordEvent persists an event and publishes it to every sink.
func (s *Service) RecordEvent(ctx context.Context, agentID string, eventType domain.EventType, payload interface{}) error {
	event, err := newEvent(agentID, eventType, payload)
	if err != nil {
		return err
	}

	if err := s.store.CreateEvent(ctx, event); err != nil {
		log.Printf("ERROR: failed to persist event %s: %v", eventType, err)
	}
	s.publish(event)
	return nil
}

// publishEvent sends an event to the sinks without persisting it.
func (s *Service) publishEvent(agentID string, eventType domain.EventType, payload interface{}) {
	event, err := newEvent(agentID, eventType, payload)
	if err != nil {
		log.Printf("WARN: %v", err)
		return
	}
	s.publish(event)
}

func (s *Service) publish(event *domain.Event) {
	for _, sink := range s.sinks {
		sink.Publish(event)
	}
}

func newEvent(agentID string, eventType domain.EventType, payload interface{}) (*domain.Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return &domain.Event{
		EventID: "evt_" + uuid.New().String()[:8],
		AgentID: agentID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}, nil
}

// emitTurn stores a turn and publishes it as the matching event type.
func (s *Service) emitTurn(ctx context.Context, e *entry, role domain.Role, text string) *domain.TurnEvent {
	turn := &domain.TurnEvent{
		EventID:     "turn_" + uuid.New().String()[:8],
		AgentID:     e.spec.ID,
		Role:        role,
		DisplayName: e.spec.DisplayName(),
		Text:        text,
		Ts:          time.Now(),
	}
	if role == domain.RoleUser {
		turn.DisplayName = "You"
	}

	if err := s.store.CreateTurn(ctx, turn); err != nil {
		log.Printf("ERROR: failed to persist turn for %s: %v", e.spec.ID, err)
	}

	eventType := domain.EventTypeAgentTurn
	switch role {
	case domain.RoleUser:
		eventType = domain.EventTypeUserTurn
	case domain.RoleSystem:
		eventType = domain.EventTypeSystemMessage
	}
	_ = s.RecordEvent(ctx, e.spec.ID, eventType, turn)
	return turn
}

// SystemMessage reports a background failure or notice as a system turn of agentID.
func (s *Service) SystemMessage(ctx context.Context, agentID, text string) {
	e, err := s.entry(agentID)
	if err != nil {
		_ = s.RecordEvent(ctx, agentID, domain.EventTypeSystemMessage, map[string]string{"text": text})
		return
	}
	s.emitTurn(ctx, e, domain.RoleSystem, text)
}

// ListTurns returns stored turns of agentID in chronological order.
func (s *Service) ListTurns(ctx context.Context, agentID string, limit int, beforeTs int64) ([]domain.TurnEvent, error) {
	if _, err := s.entry(agentID); err != nil {
		return nil, err
	}
	turns, err := s.store.ListTurns(ctx, agentID, limit, beforeTs)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	return turns, nil
}

// GetEvents returns recorded events, newest last.
func (s *Service) GetEvents(ctx context.Context, agentID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	events, err := s.store.GetEvents(ctx, agentID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}
