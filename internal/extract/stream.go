package extract

import (
	"context"
	"log"
	"time"
)

// Result is the outcome of waiting for a reply.
type Result struct {
	Text     string
	Complete bool
}

// Streamer polls a pane until the reply text stops changing.
type Streamer struct {
	capturer     Capturer
	pollInterval time.Duration
	stableWindow time.Duration
	maxWait      time.Duration
	debug        bool
}

// NewStreamer creates a Streamer.
func NewStreamer(c Capturer, pollInterval, stableWindow, maxWait time.Duration) *Streamer {
	return &Streamer{
		capturer:     c,
		pollInterval: pollInterval,
		stableWindow: stableWindow,
		maxWait:      maxWait,
	}
}

// SetDebug enables per-poll logging.
func (s *Streamer) SetDebug(debug bool) {
	s.debug = debug
}

// Stream polls session until the reply to expected has been stable for the stable window.
// onUpdate, when set, receives every distinct intermediate text. When the max wait elapses the
// last observed text is returned with Complete false.
func (s *Streamer) Stream(ctx context.Context, session string, g Grammar, expected string, onUpdate func(string)) (Result, error) {
	deadline := time.Now().Add(s.maxWait)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var (
		last      string
		changed   bool
		changedAt time.Time
	)

	for {
		raw, err := Capture(ctx, s.capturer, session, g)
		if err != nil {
			return Result{Text: last}, err
		}

		text := StripThinking(ExtractResponse(raw, g, expected))
		now := time.Now()
		if text != last {
			last = text
			changedAt = now
			if text != "" {
				changed = true
			}
			if s.debug {
				log.Printf("DEBUG: stream %s: %d chars", session, len(text))
			}
			if onUpdate != nil && text != "" {
				onUpdate(text)
			}
		} else if changed && LooksLikeResponse(text) && now.Sub(changedAt) >= s.stableWindow {
			return Result{Text: text, Complete: true}, nil
		}

		if now.After(deadline) {
			log.Printf("WARN: stream %s: no stable reply after %s", session, s.maxWait)
			return Result{Text: last}, nil
		}

		select {
		case <-ctx.Done():
			return Result{Text: last}, ctx.Err()
		case <-ticker.C:
		}
	}
}
