// Package tmux wraps the tmux commands agentmux needs on an isolated server socket.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/agentmux/internal/domain"
)

// CaptureMode selects which screen buffer capture-pane reads.
type CaptureMode int

const (
	// CaptureHistory reads the normal screen plus its full scrollback.
	CaptureHistory CaptureMode = iota
	// CaptureAlternate reads the alternate screen used by full-screen programs.
	CaptureAlternate
)

func (m CaptureMode) String() string {
	if m == CaptureAlternate {
		return "alternate"
	}
	return "history"
}

// Client issues tmux commands against one isolated server.
type Client struct {
	runner       Runner
	binary       string
	socket       string
	historyLimit int
	enterDelay   time.Duration
	tempDir      string
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithEnterDelay sets the pause between injected text and the Enter key.
func WithEnterDelay(d time.Duration) Option {
	return func(c *Client) { c.enterDelay = d }
}

// WithHistoryLimit sets the scrollback size applied before sessions are created.
func WithHistoryLimit(n int) Option {
	return func(c *Client) { c.historyLimit = n }
}

// NewClient creates a client for the tmux server listening on socket.
func NewClient(binary, socket string, opts ...Option) *Client {
	if binary == "" {
		binary = "tmux"
	}
	c := &Client{
		runner:       ExecRunner{},
		binary:       binary,
		socket:       socket,
		historyLimit: 1000000,
		enterDelay:   100 * time.Millisecond,
		tempDir:      os.TempDir(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	full := make([]string, 0, len(args)+2)
	if c.socket != "" {
		full = append(full, "-L", c.socket)
	}
	full = append(full, args...)
	return c.runner.Run(ctx, c.binary, full)
}

func commandFailed(op, session string, err error) error {
	return &domain.Error{
		Code:    domain.CodeCommandFailed,
		Message: fmt.Sprintf("tmux %s failed for session %s", op, session),
		Err:     err,
	}
}

// HasSession reports whether a session with this exact name exists.
func (c *Client) HasSession(ctx context.Context, name string) (bool, error) {
	_, err := c.run(ctx, "has-session", "-t", "="+name)
	if err == nil {
		return true, nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		// has-session exits 1 for a missing session and also when no server is running.
		return false, nil
	}
	return false, commandFailed("has-session", name, err)
}

// NewSession starts a detached session whose only process is argv, running in workDir.
func (c *Client) NewSession(ctx context.Context, name, workDir string, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("new-session %s: empty command", name)
	}
	args := []string{
		"start-server", ";",
		"set-option", "-g", "history-limit", strconv.Itoa(c.historyLimit), ";",
		"new-session", "-d", "-s", name, "-x", "220", "-y", "50",
	}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	args = append(args, argv...)

	if _, err := c.run(ctx, args...); err != nil {
		return commandFailed("new-session", name, err)
	}
	return nil
}

// KillSession destroys a session. A missing session is not an error.
func (c *Client) KillSession(ctx context.Context, name string) error {
	_, err := c.run(ctx, "kill-session", "-t", "="+name)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if ok, _ := c.HasSession(ctx, name); !ok {
			return nil
		}
	}
	return commandFailed("kill-session", name, err)
}

// ListSessions returns the names of every session on the isolated server.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			// No server running.
			return nil, nil
		}
		return nil, commandFailed("list-sessions", "*", err)
	}
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// SendLiteral types text into the pane without interpreting key names.
func (c *Client) SendLiteral(ctx context.Context, name, text string) error {
	if _, err := c.run(ctx, "send-keys", "-t", name, "-l", "--", text); err != nil {
		return commandFailed("send-keys", name, err)
	}
	return nil
}

// SendKey sends a single named key such as Enter, Escape or C-c.
func (c *Client) SendKey(ctx context.Context, name, key string) error {
	if _, err := c.run(ctx, "send-keys", "-t", name, key); err != nil {
		return commandFailed("send-keys "+key, name, err)
	}
	return nil
}

// Paste loads text into a named buffer and pastes it with bracketed paste, deleting the buffer afterwards.
func (c *Client) Paste(ctx context.Context, name, text string) error {
	f, err := os.CreateTemp(c.tempDir, "agentmux-paste-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create paste file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("failed to write paste file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close paste file: %w", err)
	}

	buffer := "agentmux-" + uuid.New().String()[:8]
	if _, err := c.run(ctx, "load-buffer", "-b", buffer, path); err != nil {
		return commandFailed("load-buffer", name, err)
	}
	if _, err := c.run(ctx, "paste-buffer", "-d", "-p", "-b", buffer, "-t", name); err != nil {
		_, _ = c.run(ctx, "delete-buffer", "-b", buffer)
		return commandFailed("paste-buffer", name, err)
	}
	return nil
}

// SendText injects a user message and submits it. Single lines are typed literally;
// multi-line text goes through a paste buffer so embedded newlines do not submit early.
func (c *Client) SendText(ctx context.Context, name, text string) error {
	var err error
	if strings.ContainsAny(text, "\r\n") {
		err = c.Paste(ctx, name, text)
	} else {
		err = c.SendLiteral(ctx, name, text)
	}
	if err != nil {
		return err
	}

	if c.enterDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.enterDelay):
		}
	}
	return c.SendKey(ctx, name, "Enter")
}

// Capture returns the pane contents for mode with wrapped lines joined.
func (c *Client) Capture(ctx context.Context, name string, mode CaptureMode) (string, error) {
	args := []string{"capture-pane", "-p", "-J", "-t", name}
	if mode == CaptureAlternate {
		args = append(args, "-a")
	} else {
		args = append(args, "-S", "-", "-E", "-")
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return "", commandFailed("capture-pane ("+mode.String()+")", name, err)
	}
	return string(out), nil
}

// SessionName derives the tmux session name for an agent id.
func SessionName(agentID string) string {
	var b strings.Builder
	b.WriteString("agentmux-")
	for _, r := range agentID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
