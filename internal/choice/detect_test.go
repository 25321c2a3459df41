package choice

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/agentmux/internal/domain"
)

func TestDetectFramedPrompt(t *testing.T) {
	raw := strings.Join([]string{
		"⏺ I'll delete the build directory.",
		"",
		"╭──────────────────────────────────╮",
		"│ Bash command                     │",
		"│   rm -rf build                   │",
		"│ Do you want to proceed?          │",
		"│ ❯ 1. Yes                         │",
		"│   2. Yes, and don't ask again    │",
		"│   3. No, and tell Claude why     │",
		"╰──────────────────────────────────╯",
		"  Esc to exit",
	}, "\n")

	p := Detect(raw, 120)
	require.NotNil(t, p)
	assert.Equal(t, "Do you want to proceed?", p.Title)
	assert.Equal(t, "Bash command\nrm -rf build", p.Body)
	assert.Equal(t, "Esc to exit", p.Hint)
	assert.Equal(t, []domain.ChoiceOption{
		{Number: 1, Label: "Yes"},
		{Number: 2, Label: "Yes, and don't ask again"},
		{Number: 3, Label: "No, and tell Claude why"},
	}, p.Options)
}

func TestDetectBarePromptWithHintAbove(t *testing.T) {
	raw := strings.Join([]string{
		"Select a theme (use arrow keys, press enter to confirm)",
		"",
		"  1) Dark",
		"  2) Light",
	}, "\n")
	p := Detect(raw, 120)
	require.NotNil(t, p)
	assert.Len(t, p.Options, 2)
	assert.Equal(t, "Choose an option", p.Title)
	assert.Contains(t, p.Hint, "use arrow keys")
}

func TestDetectRejects(t *testing.T) {
	cases := map[string][]string{
		"single option": {
			"Continue?",
			"❯ 1. Yes",
			"Press enter to confirm",
		},
		"no hint": {
			"Here are the steps:",
			"1. Install",
			"2. Configure",
		},
		"stale menu with output below": {
			"Do you want to proceed?",
			"❯ 1. Yes",
			"  2. No",
			"Esc to exit",
			"⏺ Deleted build/.",
		},
		"list followed by input box": {
			"⏺ Options are:",
			"1. Retry",
			"2. Abort",
			"Press enter to send",
			"╭────╮",
			"│ >  │",
			"╰────╯",
		},
		"nothing": {"plain output"},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, Detect(strings.Join(lines, "\n"), 120))
		})
	}
}

func TestDetectOnlyLooksAtTail(t *testing.T) {
	lines := []string{"Pick one", "1. A", "2. B", "Press enter to confirm"}
	for i := 0; i < 10; i++ {
		lines = append(lines, "")
	}
	raw := strings.Join(append(lines, "later output"), "\n")
	assert.Nil(t, Detect(raw, 5))
}

func TestPollerReportsChanges(t *testing.T) {
	menu := "Trust this folder?\n❯ 1. Yes\n  2. No\nEnter to confirm · Esc to exit"
	frames := []string{menu, menu, "✦ ready"}

	var mu sync.Mutex
	idx := 0
	capture := func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		f := frames[idx]
		if idx < len(frames)-1 {
			idx++
		}
		return f, nil
	}

	changes := make(chan *domain.InteractiveChoicePrompt, 4)
	p := NewPoller("gemini", 5*time.Millisecond, 120, capture, func(prompt *domain.InteractiveChoicePrompt) {
		changes <- prompt
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	first := <-changes
	require.NotNil(t, first)
	assert.Equal(t, "gemini", first.AgentID)
	assert.Equal(t, "Trust this folder?", first.Title)

	select {
	case cleared := <-changes:
		assert.Nil(t, cleared)
	case <-time.After(time.Second):
		t.Fatalf("expected prompt to clear")
	}
}

func TestPollerReportsSameMenuAfterReset(t *testing.T) {
	menu := "Trust this folder?\n❯ 1. Yes\n  2. No\nEnter to confirm · Esc to exit"
	capture := func(ctx context.Context) (string, error) { return menu, nil }

	changes := make(chan *domain.InteractiveChoicePrompt, 4)
	p := NewPoller("gemini", 5*time.Millisecond, 120, capture, func(prompt *domain.InteractiveChoicePrompt) {
		changes <- prompt
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	first := <-changes
	require.NotNil(t, first)

	select {
	case extra := <-changes:
		t.Fatalf("unchanged menu reported twice: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	p.Reset()
	select {
	case again := <-changes:
		require.NotNil(t, again)
		assert.Equal(t, "Trust this folder?", again.Title)
	case <-time.After(time.Second):
		t.Fatalf("expected menu to be reported after reset")
	}
}
