package store

import (
	"context"
	"time"

	"github.com/xiaot623/agentmux/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	UpsertSession(ctx context.Context, session *domain.AgentSession) error
	GetSession(ctx context.Context, agentID string) (*domain.AgentSession, error)
	ListSessions(ctx context.Context) ([]domain.AgentSession, error)

	// Turn operations
	CreateTurn(ctx context.Context, turn *domain.TurnEvent) error
	ListTurns(ctx context.Context, agentID string, limit int, beforeTs int64) ([]domain.TurnEvent, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, agentID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// Discussion operations
	CreateDiscussion(ctx context.Context, run *domain.DiscussionRun) error
	UpdateDiscussion(ctx context.Context, runID string, phase domain.Phase, eliminated []string, cancelled bool, endedAt *time.Time) error
	GetDiscussion(ctx context.Context, runID string) (*domain.DiscussionRun, error)
	CreateDiscussionResponse(ctx context.Context, resp *domain.DiscussionResponse) error
	SaveScores(ctx context.Context, runID string, scores []domain.Score) error

	Close() error
}
