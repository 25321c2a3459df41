package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/policy"
)

// ListSessions returns every configured agent's session in configuration order.
func (s *Service) ListSessions(ctx context.Context) []domain.AgentSession {
	sessions := make([]domain.AgentSession, 0, len(s.order))
	for _, id := range s.order {
		e, err := s.entry(id)
		if err != nil {
			continue
		}
		sessions = append(sessions, e.snapshot())
	}
	return sessions
}

// GetSession returns the session of agentID.
func (s *Service) GetSession(ctx context.Context, agentID string) (*domain.AgentSession, error) {
	e, err := s.entry(agentID)
	if err != nil {
		return nil, err
	}
	session := e.snapshot()
	return &session, nil
}

// IsRunning reports whether agentID has a running session.
func (s *Service) IsRunning(agentID string) bool {
	e, err := s.entry(agentID)
	if err != nil {
		return false
	}
	return e.running()
}

// DisplayName returns the human-facing name of agentID.
func (s *Service) DisplayName(agentID string) string {
	e, err := s.entry(agentID)
	if err != nil {
		return agentID
	}
	return e.spec.DisplayName()
}

// StartSession spawns the agent's tmux session, or adopts one that already exists.
// Concurrent starts of one agent share a single spawn and observe its result.
func (s *Service) StartSession(ctx context.Context, agentID string) (*domain.AgentSession, error) {
	e, err := s.entry(agentID)
	if err != nil {
		return nil, err
	}
	if e.running() {
		session := e.snapshot()
		return &session, nil
	}

	v, err, _ := s.starts.Do(agentID, func() (interface{}, error) {
		if e.running() {
			return e.snapshot(), nil
		}
		return s.spawn(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	session := v.(domain.AgentSession)
	return &session, nil
}

func (s *Service) spawn(ctx context.Context, e *entry) (domain.AgentSession, error) {
	if err := s.checkPolicy(ctx, policy.Input{
		Action:  "start",
		AgentID: e.spec.ID,
		Kind:    string(e.spec.Kind),
	}); err != nil {
		return domain.AgentSession{}, err
	}

	name := e.session.SessionName
	s.setState(ctx, e, domain.SessionStateStarting, "")

	exists, err := s.mux.HasSession(ctx, name)
	if err != nil {
		return domain.AgentSession{}, s.failStart(ctx, e, err)
	}

	adopted := exists
	if !exists {
		if err := s.mux.NewSession(ctx, name, e.spec.WorkDir, e.spec.Command); err != nil {
			return domain.AgentSession{}, s.failStart(ctx, e, err)
		}

		select {
		case <-ctx.Done():
			_ = s.mux.KillSession(context.Background(), name)
			return domain.AgentSession{}, s.failStart(ctx, e, ctx.Err())
		case <-time.After(s.config.SpawnGrace):
		}

		alive, err := s.mux.HasSession(ctx, name)
		if err != nil {
			return domain.AgentSession{}, s.failStart(ctx, e, err)
		}
		if !alive {
			return domain.AgentSession{}, s.failStart(ctx, e,
				domain.NewError(domain.CodeSpawnFailed, e.spec.ID, "agent process exited during startup", nil))
		}
	}

	session := s.markRunning(ctx, e, adopted)
	log.Printf("INFO: session %s running (adopted=%v)", name, adopted)
	return session, nil
}

func (s *Service) markRunning(ctx context.Context, e *entry, adopted bool) domain.AgentSession {
	now := time.Now()
	e.mu.Lock()
	e.session.State = domain.SessionStateRunning
	e.session.LastError = ""
	e.session.StartedAt = &now
	e.session.UpdatedAt = now
	e.pending = nil
	e.prompt = nil
	session := e.session
	e.mu.Unlock()

	s.persistSession(ctx, &session)
	s.startPoller(e)
	_ = s.RecordEvent(ctx, e.spec.ID, domain.EventTypeSessionStarted, map[string]interface{}{
		"session_name": session.SessionName,
		"adopted":      adopted,
	})
	return session
}

func (s *Service) failStart(ctx context.Context, e *entry, cause error) error {
	err := cause
	if domain.CodeOf(cause) != domain.CodeSpawnFailed {
		err = domain.NewError(domain.CodeSpawnFailed, e.spec.ID, "failed to start agent session", cause)
	}
	s.setState(ctx, e, domain.SessionStateError, err.Error())
	_ = s.RecordEvent(ctx, e.spec.ID, domain.EventTypeSessionFailed, map[string]string{"error": err.Error()})
	log.Printf("ERROR: start %s: %v", e.spec.ID, err)
	return err
}

// StopSession kills the agent's session. Stopping an agent that is not running is a no-op.
func (s *Service) StopSession(ctx context.Context, agentID string) error {
	e, err := s.entry(agentID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	state := e.session.State
	stopPoller := e.stopPoller
	e.stopPoller = nil
	e.poller = nil
	e.mu.Unlock()

	if state != domain.SessionStateRunning && state != domain.SessionStateError {
		return nil
	}
	if stopPoller != nil {
		stopPoller()
	}

	if err := s.mux.KillSession(ctx, e.session.SessionName); err != nil {
		return err
	}

	e.mu.Lock()
	e.pending = nil
	e.prompt = nil
	e.mu.Unlock()

	s.setState(ctx, e, domain.SessionStateStopped, "")
	_ = s.RecordEvent(ctx, agentID, domain.EventTypeSessionStopped, map[string]string{"session_name": e.session.SessionName})
	return nil
}

func (s *Service) setState(ctx context.Context, e *entry, state domain.SessionState, lastError string) {
	e.mu.Lock()
	e.session.State = state
	e.session.LastError = lastError
	e.session.UpdatedAt = time.Now()
	session := e.session
	e.mu.Unlock()

	s.persistSession(ctx, &session)
}

func (s *Service) persistSession(ctx context.Context, session *domain.AgentSession) {
	if err := s.store.UpsertSession(context.WithoutCancel(ctx), session); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("WARN: failed to persist session %s: %v", session.AgentID, err)
	}
}

// RunningAgentIDs returns the ids of running agents in configuration order.
func (s *Service) RunningAgentIDs() []string {
	var ids []string
	for _, id := range s.order {
		if s.IsRunning(id) {
			ids = append(ids, id)
		}
	}
	return ids
}
