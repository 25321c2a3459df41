// Package service implements the agentmux session registry, message dispatch and
// response collection on top of the multiplexer, transcript and choice packages.
package service

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/xiaot623/agentmux/internal/adapter/tmux"
	"github.com/xiaot623/agentmux/internal/choice"
	"github.com/xiaot623/agentmux/internal/config"
	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/extract"
	store "github.com/xiaot623/agentmux/internal/repository"
	"github.com/xiaot623/agentmux/internal/transcript"
	"github.com/xiaot623/agentmux/policy"
)

// Multiplexer is the subset of the tmux client the service drives.
type Multiplexer interface {
	HasSession(ctx context.Context, name string) (bool, error)
	NewSession(ctx context.Context, name, workDir string, argv []string) error
	KillSession(ctx context.Context, name string) error
	ListSessions(ctx context.Context) ([]string, error)
	SendText(ctx context.Context, name, text string) error
	SendLiteral(ctx context.Context, name, text string) error
	SendKey(ctx context.Context, name, key string) error
	Capture(ctx context.Context, name string, mode tmux.CaptureMode) (string, error)
}

// EventSink receives every recorded event.
type EventSink interface {
	Publish(event *domain.Event)
}

type Service struct {
	store        store.Store
	mux          Multiplexer
	streamer     *extract.Streamer
	transcripts  *transcript.Reader
	policyEngine *policy.Engine
	config       *config.Config
	sinks        []EventSink

	// order keeps agents in configuration order for listings.
	order []string

	mu      sync.Mutex
	entries map[string]*entry

	starts singleflight.Group

	baseCtx context.Context
	cancel  context.CancelFunc
}

// entry is the registry record of one configured agent.
type entry struct {
	spec    domain.AgentSpec
	grammar extract.Grammar

	mu         sync.Mutex
	session    domain.AgentSession
	pending    *domain.PendingTurnContext
	prompt     *domain.InteractiveChoicePrompt
	stopPoller context.CancelFunc
	poller     *choice.Poller
}

func New(store store.Store, mux Multiplexer, cfg *config.Config, policyEngine *policy.Engine, sinks ...EventSink) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	streamer := extract.NewStreamer(mux, cfg.PollInterval, cfg.StableWindow, cfg.MaxWait)
	streamer.SetDebug(cfg.Debug())

	s := &Service{
		store:        store,
		mux:          mux,
		streamer:     streamer,
		transcripts:  transcript.NewReader(cfg.ClaudeProjectsDir),
		policyEngine: policyEngine,
		config:       cfg,
		sinks:        sinks,
		entries:      make(map[string]*entry),
		baseCtx:      ctx,
		cancel:       cancel,
	}

	for _, spec := range cfg.Agents {
		s.order = append(s.order, spec.ID)
		s.entries[spec.ID] = &entry{
			spec:    spec,
			grammar: extract.GrammarFor(spec.Kind),
			session: domain.AgentSession{
				AgentID:     spec.ID,
				Kind:        spec.Kind,
				DisplayName: spec.DisplayName(),
				WorkDir:     spec.WorkDir,
				SessionName: tmux.SessionName(spec.ID),
				State:       domain.SessionStateStopped,
			},
		}
	}

	return s
}

// AddSink registers another event sink. It must be called before the service is used.
func (s *Service) AddSink(sink EventSink) {
	s.sinks = append(s.sinks, sink)
}

// Close stops every background poller. Sessions are left running so they can be adopted
// by the next process.
func (s *Service) Close() {
	s.cancel()
}

func (s *Service) entry(agentID string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[agentID]
	if !ok {
		return nil, domain.NewError(domain.CodeSessionNotFound, agentID, "unknown agent", nil)
	}
	return e, nil
}

// runningEntry returns the entry for agentID when its session is running.
func (s *Service) runningEntry(agentID string) (*entry, error) {
	e, err := s.entry(agentID)
	if err != nil {
		return nil, err
	}
	if !e.running() {
		return nil, domain.NewError(domain.CodeSessionNotFound, agentID, "agent is not running", nil)
	}
	return e, nil
}

func (e *entry) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.State == domain.SessionStateRunning
}

func (e *entry) snapshot() domain.AgentSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (s *Service) checkPolicy(ctx context.Context, input policy.Input) error {
	if s.policyEngine == nil {
		return nil
	}
	decision, reason, err := s.policyEngine.Evaluate(ctx, input)
	if err != nil {
		return domain.NewError(domain.CodePolicyDenied, input.AgentID, "policy evaluation failed", err)
	}
	if decision == policy.DecisionBlock {
		if reason == "" {
			reason = "blocked by dispatch policy"
		}
		return domain.NewError(domain.CodePolicyDenied, input.AgentID, reason, nil)
	}
	return nil
}
