// Package discussion runs three-round discussions between agents: independent answers,
// scored peer critiques, then revised answers.
package discussion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/agentmux/internal/domain"
	store "github.com/xiaot623/agentmux/internal/repository"
)

// Agents is the session layer the scheduler drives.
type Agents interface {
	Ask(ctx context.Context, agentID, text string) (string, error)
	Interrupt(ctx context.Context, agentID string) error
	DiscardPending(agentID string)
	DisplayName(agentID string) string
	IsRunning(agentID string) bool
	SystemMessage(ctx context.Context, agentID, text string)
}

// Recorder persists and publishes discussion events.
type Recorder interface {
	RecordEvent(ctx context.Context, agentID string, eventType domain.EventType, payload interface{}) error
}

// Options tune a Scheduler.
type Options struct {
	// ClipChars bounds each quoted answer in round-2 and round-3 prompts.
	ClipChars int
	// Timeout bounds a whole run; zero means no limit.
	Timeout time.Duration
}

// Scheduler owns at most one active discussion run.
type Scheduler struct {
	agents   Agents
	recorder Recorder
	store    store.Store
	opts     Options

	mu     sync.Mutex
	run    *domain.DiscussionRun
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(agents Agents, recorder Recorder, st store.Store, opts Options) *Scheduler {
	if opts.ClipChars <= 0 {
		opts.ClipChars = 1500
	}
	return &Scheduler{
		agents:   agents,
		recorder: recorder,
		store:    st,
		opts:     opts,
	}
}

// Start begins a run over the running agents among participants. It is rejected while
// another run is active.
func (s *Scheduler) Start(ctx context.Context, question string, participants []string) (*domain.DiscussionRun, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.NewError(domain.CodeInvalidRequest, "", "question is required", nil)
	}

	var active []string
	seen := make(map[string]bool)
	for _, id := range participants {
		if seen[id] || !s.agents.IsRunning(id) {
			continue
		}
		seen[id] = true
		active = append(active, id)
	}
	if len(active) < 2 {
		return nil, domain.NewError(domain.CodeInvalidRequest, "", "a discussion needs at least two running agents", nil)
	}

	s.mu.Lock()
	if s.run != nil && s.run.Phase.Active() {
		s.mu.Unlock()
		return nil, domain.ErrDiscussionActive
	}
	run := &domain.DiscussionRun{
		RunID:        "disc_" + uuid.New().String()[:8],
		Question:     question,
		Phase:        domain.PhaseRound1Analyzing,
		Participants: active,
		Eliminated:   make(map[string]bool),
		Scores:       make(map[string]map[string]int),
		StartedAt:    time.Now(),
	}
	runCtx, cancel := context.WithCancel(context.Background())
	if s.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), s.opts.Timeout)
	}
	done := make(chan struct{})
	s.run, s.cancel, s.done = run, cancel, done
	snapshot := cloneRun(run)
	s.mu.Unlock()

	if err := s.store.CreateDiscussion(ctx, snapshot); err != nil {
		log.Printf("ERROR: failed to persist discussion %s: %v", run.RunID, err)
	}
	_ = s.recorder.RecordEvent(ctx, "", domain.EventTypeDiscussionStarted, map[string]interface{}{
		"run_id":       run.RunID,
		"question":     question,
		"participants": active,
	})

	go func() {
		defer close(done)
		defer cancel()
		s.execute(runCtx, run)
	}()

	return snapshot, nil
}

// Cancel abandons the active run: the phase drops to idle at once, every participant of
// the run is interrupted and its pending turn discarded.
func (s *Scheduler) Cancel(ctx context.Context) error {
	s.mu.Lock()
	run := s.run
	if run == nil || !run.Phase.Active() {
		s.mu.Unlock()
		return domain.NewError(domain.CodeInvalidRequest, "", "no discussion is running", nil)
	}
	now := time.Now()
	run.Cancelled = true
	run.Phase = domain.PhaseIdle
	run.EndedAt = &now
	cancel := s.cancel
	participants := append([]string(nil), run.Participants...)
	s.mu.Unlock()

	cancel()
	for _, id := range participants {
		if err := s.agents.Interrupt(ctx, id); err != nil {
			log.Printf("WARN: interrupt %s during cancel: %v", id, err)
		}
		s.agents.DiscardPending(id)
	}

	s.persist(ctx, run)
	_ = s.recorder.RecordEvent(ctx, "", domain.EventTypeDiscussionCancelled, map[string]string{"run_id": run.RunID})
	log.Printf("INFO: discussion %s cancelled", run.RunID)
	return nil
}

// Current returns a copy of the most recent run, or nil.
func (s *Scheduler) Current() *domain.DiscussionRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return cloneRun(s.run)
}

// Phase returns the phase of the most recent run, idle when there is none.
func (s *Scheduler) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return domain.PhaseIdle
	}
	return s.run.Phase
}

// Get returns run runID from memory or the store, or nil when it does not exist.
func (s *Scheduler) Get(ctx context.Context, runID string) (*domain.DiscussionRun, error) {
	s.mu.Lock()
	if s.run != nil && s.run.RunID == runID {
		run := cloneRun(s.run)
		s.mu.Unlock()
		return run, nil
	}
	s.mu.Unlock()

	run, err := s.store.GetDiscussion(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get discussion: %w", err)
	}
	return run, nil
}

// Wait blocks until the current run's goroutine has returned.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) execute(ctx context.Context, run *domain.DiscussionRun) {
	log.Printf("INFO: discussion %s started with %v", run.RunID, run.Participants)

	s.round(ctx, run, 1, func(string) (string, bool) {
		return run.Question, true
	}, nil)

	if !s.advance(ctx, run, domain.PhaseRound2Evaluating) {
		return
	}
	round1 := s.responses(run, 1)
	s.round(ctx, run, 2, func(id string) (string, bool) {
		peers := s.peers(id, round1)
		if len(peers) == 0 {
			return "", false
		}
		return evaluationPrompt(run.Question, peers, s.opts.ClipChars), true
	}, func(resp domain.DiscussionResponse) {
		s.scoreCritique(run, resp, round1)
	})
	s.saveScores(ctx, run)

	if !s.advance(ctx, run, domain.PhaseRound3Revising) {
		return
	}
	round2 := s.responses(run, 2)
	s.round(ctx, run, 3, func(id string) (string, bool) {
		critiques := s.peers(id, round2)
		if len(critiques) == 0 {
			return "", false
		}
		return revisionPrompt(run.Question, critiques, s.opts.ClipChars), true
	}, nil)

	s.advance(ctx, run, domain.PhaseComplete)
}

// round asks every remaining participant in parallel and returns once all have answered
// or failed. Answers are recorded in arrival order; failures eliminate the participant.
func (s *Scheduler) round(ctx context.Context, run *domain.DiscussionRun, n int, promptFor func(agentID string) (string, bool), onResponse func(domain.DiscussionResponse)) {
	var g errgroup.Group
	for _, id := range s.remaining(run) {
		prompt, ok := promptFor(id)
		if !ok {
			continue
		}
		id := id
		g.Go(func() error {
			text, err := s.agents.Ask(ctx, id, prompt)
			s.collect(ctx, run, n, id, text, err, onResponse)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) collect(ctx context.Context, run *domain.DiscussionRun, n int, agentID, text string, askErr error, onResponse func(domain.DiscussionResponse)) {
	bg := context.WithoutCancel(ctx)

	s.mu.Lock()
	if s.abandonedLocked(run) {
		s.mu.Unlock()
		return
	}
	if askErr != nil {
		run.Eliminated[agentID] = true
		s.mu.Unlock()
		log.Printf("WARN: discussion %s: %s eliminated in round %d: %v", run.RunID, agentID, n, askErr)
		s.agents.SystemMessage(bg, agentID, fmt.Sprintf("eliminated from discussion in round %d: %v", n, askErr))
		return
	}
	resp := domain.DiscussionResponse{
		RunID:   run.RunID,
		Round:   n,
		AgentID: agentID,
		Text:    text,
		At:      time.Now(),
	}
	switch n {
	case 1:
		run.Round1 = append(run.Round1, resp)
	case 2:
		run.Round2 = append(run.Round2, resp)
	default:
		run.Round3 = append(run.Round3, resp)
	}
	s.mu.Unlock()

	if onResponse != nil {
		onResponse(resp)
	}
	if err := s.store.CreateDiscussionResponse(bg, &resp); err != nil {
		log.Printf("ERROR: failed to persist discussion response: %v", err)
	}
	_ = s.recorder.RecordEvent(bg, agentID, domain.EventTypeDiscussionResponse, map[string]interface{}{
		"run_id":       run.RunID,
		"round":        n,
		"agent_id":     agentID,
		"display_name": s.agents.DisplayName(agentID),
		"text":         text,
	})
}

// advance moves run to next. It returns false when the run was cancelled or timed out.
func (s *Scheduler) advance(ctx context.Context, run *domain.DiscussionRun, next domain.Phase) bool {
	bg := context.WithoutCancel(ctx)

	s.mu.Lock()
	if s.abandonedLocked(run) {
		s.mu.Unlock()
		return false
	}
	if ctx.Err() != nil {
		log.Printf("WARN: discussion %s stopped in %s: %v", run.RunID, run.Phase, ctx.Err())
		next = domain.PhaseComplete
	}
	run.Phase = next
	if next == domain.PhaseComplete {
		now := time.Now()
		run.EndedAt = &now
	}
	s.mu.Unlock()

	s.persist(bg, run)
	if next == domain.PhaseComplete {
		_ = s.recorder.RecordEvent(bg, "", domain.EventTypeDiscussionCompleted, map[string]interface{}{
			"run_id":     run.RunID,
			"eliminated": s.eliminated(run),
		})
		log.Printf("INFO: discussion %s complete", run.RunID)
		return false
	}
	_ = s.recorder.RecordEvent(bg, "", domain.EventTypeDiscussionPhase, map[string]string{
		"run_id": run.RunID,
		"phase":  string(next),
	})
	return true
}

func (s *Scheduler) abandonedLocked(run *domain.DiscussionRun) bool {
	return run.Cancelled || s.run != run
}

func (s *Scheduler) remaining(run *domain.DiscussionRun) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, id := range run.Participants {
		if !run.Eliminated[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Scheduler) eliminated(run *domain.DiscussionRun) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, id := range run.Participants {
		if run.Eliminated[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Scheduler) responses(run *domain.DiscussionRun, n int) []domain.DiscussionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch n {
	case 1:
		return append([]domain.DiscussionResponse(nil), run.Round1...)
	case 2:
		return append([]domain.DiscussionResponse(nil), run.Round2...)
	}
	return append([]domain.DiscussionResponse(nil), run.Round3...)
}

// peers returns every response not written by agentID.
func (s *Scheduler) peers(agentID string, responses []domain.DiscussionResponse) []peerText {
	var out []peerText
	for _, r := range responses {
		if r.AgentID == agentID {
			continue
		}
		out = append(out, peerText{Name: s.agents.DisplayName(r.AgentID), Text: r.Text})
	}
	return out
}

func (s *Scheduler) scoreCritique(run *domain.DiscussionRun, critique domain.DiscussionResponse, round1 []domain.DiscussionResponse) {
	names := make(map[string]string)
	for _, r := range round1 {
		if r.AgentID != critique.AgentID {
			names[r.AgentID] = s.agents.DisplayName(r.AgentID)
		}
	}

	scores := make(map[string]int, len(names))
	for id, name := range names {
		var others []string
		for otherID, otherName := range names {
			if otherID != id {
				others = append(others, otherName)
			}
		}
		scores[id] = ExtractScore(critique.Text, name, others)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abandonedLocked(run) {
		return
	}
	for evaluated, score := range scores {
		if run.Scores[evaluated] == nil {
			run.Scores[evaluated] = make(map[string]int)
		}
		run.Scores[evaluated][critique.AgentID] = score
	}
}

func (s *Scheduler) saveScores(ctx context.Context, run *domain.DiscussionRun) {
	bg := context.WithoutCancel(ctx)

	s.mu.Lock()
	if s.abandonedLocked(run) {
		s.mu.Unlock()
		return
	}
	var scores []domain.Score
	table := make(map[string]map[string]int, len(run.Scores))
	averages := make(map[string]float64, len(run.Scores))
	for evaluated, byEvaluator := range run.Scores {
		table[evaluated] = make(map[string]int, len(byEvaluator))
		for evaluator, score := range byEvaluator {
			table[evaluated][evaluator] = score
			scores = append(scores, domain.Score{RunID: run.RunID, Evaluated: evaluated, Evaluator: evaluator, Score: score})
		}
		averages[evaluated] = run.AverageScore(evaluated)
	}
	s.mu.Unlock()

	if err := s.store.SaveScores(bg, run.RunID, scores); err != nil {
		log.Printf("ERROR: failed to persist discussion scores: %v", err)
	}
	_ = s.recorder.RecordEvent(bg, "", domain.EventTypeDiscussionScores, map[string]interface{}{
		"run_id":   run.RunID,
		"scores":   table,
		"averages": averages,
	})
}

func (s *Scheduler) persist(ctx context.Context, run *domain.DiscussionRun) {
	s.mu.Lock()
	phase, cancelled, endedAt := run.Phase, run.Cancelled, run.EndedAt
	var eliminated []string
	for _, id := range run.Participants {
		if run.Eliminated[id] {
			eliminated = append(eliminated, id)
		}
	}
	s.mu.Unlock()

	if err := s.store.UpdateDiscussion(ctx, run.RunID, phase, eliminated, cancelled, endedAt); err != nil {
		log.Printf("ERROR: failed to update discussion %s: %v", run.RunID, err)
	}
}

func cloneRun(run *domain.DiscussionRun) *domain.DiscussionRun {
	c := *run
	c.Participants = append([]string(nil), run.Participants...)
	c.Round1 = append([]domain.DiscussionResponse(nil), run.Round1...)
	c.Round2 = append([]domain.DiscussionResponse(nil), run.Round2...)
	c.Round3 = append([]domain.DiscussionResponse(nil), run.Round3...)
	c.Eliminated = make(map[string]bool, len(run.Eliminated))
	for k, v := range run.Eliminated {
		c.Eliminated[k] = v
	}
	c.Scores = make(map[string]map[string]int, len(run.Scores))
	for evaluated, byEvaluator := range run.Scores {
		c.Scores[evaluated] = make(map[string]int, len(byEvaluator))
		for evaluator, score := range byEvaluator {
			c.Scores[evaluated][evaluator] = score
		}
	}
	if run.EndedAt != nil {
		t := *run.EndedAt
		c.EndedAt = &t
	}
	return &c
}
