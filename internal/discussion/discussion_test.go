package discussion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/tests/helpers"
)

type fakeAgents struct {
	mu          sync.Mutex
	running     map[string]bool
	names       map[string]string
	block       bool
	fail        map[string]bool
	prompts     map[string][]string
	interrupted []string
	discarded   []string
	system      []string
}

func newFakeAgents(ids ...string) *fakeAgents {
	f := &fakeAgents{
		running: make(map[string]bool),
		names:   make(map[string]string),
		fail:    make(map[string]bool),
		prompts: make(map[string][]string),
	}
	for _, id := range ids {
		f.running[id] = true
		f.names[id] = strings.ToUpper(id[:1]) + id[1:]
	}
	return f
}

func (f *fakeAgents) Ask(ctx context.Context, agentID, text string) (string, error) {
	f.mu.Lock()
	f.prompts[agentID] = append(f.prompts[agentID], text)
	block, fail := f.block, f.fail[agentID]
	var others []string
	for id, name := range f.names {
		if id != agentID && f.running[id] {
			others = append(others, name)
		}
	}
	f.mu.Unlock()
	sort.Strings(others)

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if fail {
		return "", errors.New("agent crashed")
	}
	switch {
	case strings.Contains(text, "Critique each answer"):
		var lines []string
		for _, name := range others {
			lines = append(lines, name+": 8/10")
		}
		return strings.Join(lines, "\n"), nil
	case strings.Contains(text, "revised final answer"):
		return "revised by " + agentID, nil
	}
	return "answer from " + agentID + ": " + strings.Repeat("x", 40), nil
}

func (f *fakeAgents) Interrupt(ctx context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = append(f.interrupted, agentID)
	return nil
}

func (f *fakeAgents) DiscardPending(agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, agentID)
}

func (f *fakeAgents) DisplayName(agentID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[agentID]
}

func (f *fakeAgents) IsRunning(agentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[agentID]
}

func (f *fakeAgents) SystemMessage(ctx context.Context, agentID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = append(f.system, agentID+": "+text)
}

type recorder struct {
	mu    sync.Mutex
	types []domain.EventType
}

func (r *recorder) RecordEvent(ctx context.Context, agentID string, eventType domain.EventType, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	return nil
}

func (r *recorder) seen() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.EventType(nil), r.types...)
}

func waitDone(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestExtractScore(t *testing.T) {
	cases := []struct {
		text   string
		name   string
		others []string
		want   int
	}{
		{"Claude: solid reasoning, Overall: 8/10", "Claude", nil, 8},
		{"no numbers at all", "Claude", nil, DefaultScore},
		{"Gemini: 7/10", "Gemini", nil, 7},
		{"Gemini：9分", "Gemini", nil, 9},
		{"Gemini gets 12/10", "Gemini", nil, 10},
		{"Gemini: 0/10", "Gemini", nil, 1},
		{"Codex: 3/10\nGemini: 6.6/10", "Gemini", []string{"Codex"}, 7},
		{"Overall: 8/10", "Claude", nil, 8},
		{"Overall: 8/10", "Claude", []string{"Codex"}, DefaultScore},
		{"About Codex:\nweak tests.\n评分: 4分\nAbout Gemini:\ngood.\n评分: 9分", "Gemini", []string{"Codex"}, 9},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractScore(tc.text, tc.name, tc.others), tc.text)
	}
}

func TestDiscussionRunsThreeRounds(t *testing.T) {
	agents := newFakeAgents("claude", "gemini", "codex")
	rec := &recorder{}
	st := helpers.NewTestSQLiteStore(t)
	s := NewScheduler(agents, rec, st, Options{ClipChars: 20})

	run, err := s.Start(context.Background(), "What is 2+2?", []string{"claude", "gemini", "codex"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseRound1Analyzing, run.Phase)
	waitDone(t, s)

	cur := s.Current()
	require.NotNil(t, cur)
	assert.Equal(t, domain.PhaseComplete, cur.Phase)
	assert.NotNil(t, cur.EndedAt)
	assert.Len(t, cur.Round1, 3)
	assert.Len(t, cur.Round2, 3)
	assert.Len(t, cur.Round3, 3)
	assert.Equal(t, 8, cur.Scores["gemini"]["claude"])
	assert.Equal(t, 8.0, cur.AverageScore("codex"))

	// Round-2 prompts quote only the other participants, clipped.
	agents.mu.Lock()
	round2 := agents.prompts["claude"][1]
	agents.mu.Unlock()
	assert.Contains(t, round2, "[Gemini]")
	assert.Contains(t, round2, "[Codex]")
	assert.NotContains(t, round2, "[Claude]")
	assert.Contains(t, round2, "…")

	stored, err := st.GetDiscussion(context.Background(), run.RunID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.PhaseComplete, stored.Phase)
	assert.Equal(t, 8, stored.Scores["claude"]["codex"])

	types := rec.seen()
	assert.Equal(t, domain.EventTypeDiscussionStarted, types[0])
	assert.Equal(t, domain.EventTypeDiscussionCompleted, types[len(types)-1])
	assert.Contains(t, types, domain.EventTypeDiscussionScores)
	assert.Contains(t, types, domain.EventTypeDiscussionPhase)
}

func TestStartRejectedWhileActive(t *testing.T) {
	agents := newFakeAgents("claude", "gemini")
	agents.block = true
	s := NewScheduler(agents, &recorder{}, helpers.NewTestSQLiteStore(t), Options{})

	_, err := s.Start(context.Background(), "q", []string{"claude", "gemini"})
	require.NoError(t, err)

	_, err = s.Start(context.Background(), "q2", []string{"claude", "gemini"})
	assert.ErrorIs(t, err, domain.ErrDiscussionActive)

	require.NoError(t, s.Cancel(context.Background()))
	waitDone(t, s)

	agents.mu.Lock()
	agents.block = false
	agents.mu.Unlock()
	_, err = s.Start(context.Background(), "q3", []string{"claude", "gemini"})
	require.NoError(t, err)
	waitDone(t, s)
}

func TestStartNeedsTwoRunningParticipants(t *testing.T) {
	agents := newFakeAgents("claude", "gemini")
	agents.running["gemini"] = false
	s := NewScheduler(agents, &recorder{}, helpers.NewTestSQLiteStore(t), Options{})

	_, err := s.Start(context.Background(), "q", []string{"claude", "gemini"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = s.Start(context.Background(), "  ", []string{"claude"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCancelInterruptsOnlyParticipants(t *testing.T) {
	agents := newFakeAgents("claude", "gemini", "codex")
	agents.block = true
	rec := &recorder{}
	s := NewScheduler(agents, rec, helpers.NewTestSQLiteStore(t), Options{})

	_, err := s.Start(context.Background(), "q", []string{"claude", "gemini"})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background()))
	assert.Equal(t, domain.PhaseIdle, s.Phase())

	agents.mu.Lock()
	interrupted := append([]string(nil), agents.interrupted...)
	discarded := append([]string(nil), agents.discarded...)
	agents.mu.Unlock()
	sort.Strings(interrupted)
	sort.Strings(discarded)
	assert.Equal(t, []string{"claude", "gemini"}, interrupted)
	assert.Equal(t, []string{"claude", "gemini"}, discarded)

	waitDone(t, s)
	cur := s.Current()
	assert.True(t, cur.Cancelled)
	assert.Equal(t, domain.PhaseIdle, cur.Phase)
	assert.Empty(t, cur.Round1)
	assert.Contains(t, rec.seen(), domain.EventTypeDiscussionCancelled)
	assert.NotContains(t, rec.seen(), domain.EventTypeDiscussionCompleted)

	assert.ErrorIs(t, s.Cancel(context.Background()), domain.ErrInvalidRequest)
}

func TestFailedParticipantIsEliminated(t *testing.T) {
	agents := newFakeAgents("claude", "gemini", "codex")
	agents.fail["codex"] = true
	s := NewScheduler(agents, &recorder{}, helpers.NewTestSQLiteStore(t), Options{})

	_, err := s.Start(context.Background(), "q", []string{"claude", "gemini", "codex"})
	require.NoError(t, err)
	waitDone(t, s)

	cur := s.Current()
	assert.Equal(t, domain.PhaseComplete, cur.Phase)
	assert.True(t, cur.Eliminated["codex"])
	assert.Len(t, cur.Round1, 2)
	assert.Len(t, cur.Round3, 2)

	agents.mu.Lock()
	defer agents.mu.Unlock()
	assert.Len(t, agents.prompts["codex"], 1)
	require.Len(t, agents.system, 1)
	assert.True(t, strings.HasPrefix(agents.system[0], "codex: "), fmt.Sprint(agents.system))
}
