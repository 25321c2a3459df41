package service

import (
	"context"
	"fmt"
	"log"
)

// Reconcile adopts sessions of configured agents that survived a restart of this process.
// Adopted agents have no pending turn, so their next reply is read best effort.
func (s *Service) Reconcile(ctx context.Context) error {
	names, err := s.mux.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	live := make(map[string]bool, len(names))
	for _, n := range names {
		live[n] = true
	}

	for _, id := range s.order {
		e, err := s.entry(id)
		if err != nil {
			continue
		}
		if e.running() || !live[e.session.SessionName] {
			continue
		}
		s.markRunning(ctx, e, true)
		log.Printf("INFO: adopted existing session %s", e.session.SessionName)
	}
	return nil
}
