package choice

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/xiaot623/agentmux/internal/domain"
)

// CaptureFunc reads the current pane contents.
type CaptureFunc func(ctx context.Context) (string, error)

// ChangeFunc is called when the detected prompt appears, changes or disappears (nil).
type ChangeFunc func(prompt *domain.InteractiveChoicePrompt)

// Poller periodically runs Detect against one session.
type Poller struct {
	agentID   string
	interval  time.Duration
	tailLines int
	capture   CaptureFunc
	onChange  ChangeFunc

	reset atomic.Bool
}

// NewPoller creates a Poller for agentID.
func NewPoller(agentID string, interval time.Duration, tailLines int, capture CaptureFunc, onChange ChangeFunc) *Poller {
	return &Poller{
		agentID:   agentID,
		interval:  interval,
		tailLines: tailLines,
		capture:   capture,
		onChange:  onChange,
	}
}

// Reset forgets the last reported prompt so the next detection is reported again even
// when it is unchanged.
func (p *Poller) Reset() {
	p.reset.Store(true)
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var current *domain.InteractiveChoicePrompt
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		raw, err := p.capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures == 1 || failures%50 == 0 {
				log.Printf("WARN: choice poll %s: %v", p.agentID, err)
			}
			continue
		}
		failures = 0

		if p.reset.Swap(false) {
			current = nil
		}

		next := Detect(raw, p.tailLines)
		if next != nil {
			next.AgentID = p.agentID
		}
		if current.SameAs(next) {
			continue
		}
		current = next
		p.onChange(next)
	}
}
