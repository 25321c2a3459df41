package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/agentmux/internal/adapter/tmux"
	"github.com/xiaot623/agentmux/internal/domain"
)

// scriptedCapturer replays a sequence of frames; the last frame repeats.
type scriptedCapturer struct {
	mu     sync.Mutex
	frames []string
	calls  int
	errs   map[tmux.CaptureMode]error
	modes  []tmux.CaptureMode
}

func (s *scriptedCapturer) Capture(ctx context.Context, session string, mode tmux.CaptureMode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = append(s.modes, mode)
	if err := s.errs[mode]; err != nil {
		return "", err
	}
	if len(s.frames) == 0 {
		return "", nil
	}
	i := s.calls
	if i >= len(s.frames) {
		i = len(s.frames) - 1
	}
	s.calls++
	return s.frames[i], nil
}

func TestStreamCompletesAfterStableWindow(t *testing.T) {
	c := &scriptedCapturer{frames: []string{
		"> hi\n⠋ Thinking...",
		"> hi\n✦ Hel",
		"> hi\n✦ Hello there",
		"> hi\n✦ Hello there",
	}}
	s := NewStreamer(c, 5*time.Millisecond, 30*time.Millisecond, 2*time.Second)

	var updates []string
	res, err := s.Stream(context.Background(), "agentmux-gemini", GrammarFor(domain.AgentKindGemini), "hi", func(text string) {
		updates = append(updates, text)
	})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, "Hello there", res.Text)
	assert.Equal(t, []string{"Hel", "Hello there"}, updates)
}

func TestStreamThinkingNeverCompletes(t *testing.T) {
	c := &scriptedCapturer{frames: []string{"> hi\n✦ ⠋ Thinking..."}}
	s := NewStreamer(c, 5*time.Millisecond, 10*time.Millisecond, 80*time.Millisecond)

	res, err := s.Stream(context.Background(), "s", GrammarFor(domain.AgentKindGemini), "hi", nil)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, "", res.Text)
}

func TestStreamContextCancelReturnsPartial(t *testing.T) {
	c := &scriptedCapturer{frames: []string{"> hi\n✦ partial"}}
	s := NewStreamer(c, 5*time.Millisecond, time.Hour, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	res, err := s.Stream(ctx, "s", GrammarFor(domain.AgentKindGemini), "hi", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "partial", res.Text)
	assert.False(t, res.Complete)
}

func TestCaptureFallsBackOnce(t *testing.T) {
	c := &scriptedCapturer{
		frames: []string{"screen"},
		errs:   map[tmux.CaptureMode]error{tmux.CaptureAlternate: errors.New("no alternate screen")},
	}
	out, err := Capture(context.Background(), c, "s", GrammarFor(domain.AgentKindCodex))
	require.NoError(t, err)
	assert.Equal(t, "screen", out)
	assert.Equal(t, []tmux.CaptureMode{tmux.CaptureAlternate, tmux.CaptureHistory}, c.modes)
}

func TestCaptureEmptyTriesOtherMode(t *testing.T) {
	c := &scriptedCapturer{}
	out, err := Capture(context.Background(), c, "s", GrammarFor(domain.AgentKindClaude))
	require.NoError(t, err)
	assert.Equal(t, "", out)
	assert.Equal(t, []tmux.CaptureMode{tmux.CaptureHistory, tmux.CaptureAlternate}, c.modes)
}

func TestCaptureBothFailIsCommandFailed(t *testing.T) {
	boom := errors.New("server exited")
	c := &scriptedCapturer{errs: map[tmux.CaptureMode]error{
		tmux.CaptureHistory:   boom,
		tmux.CaptureAlternate: boom,
	}}
	_, err := Capture(context.Background(), c, "s", GrammarFor(domain.AgentKindClaude))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCommandFailed)
	assert.ErrorIs(t, err, boom)
}
