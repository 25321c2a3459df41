package extract

import (
	"context"
	"strings"

	"github.com/xiaot623/agentmux/internal/adapter/tmux"
	"github.com/xiaot623/agentmux/internal/domain"
)

// Capturer reads pane contents from the multiplexer.
type Capturer interface {
	Capture(ctx context.Context, session string, mode tmux.CaptureMode) (string, error)
}

// Capture reads the pane in the grammar's preferred mode, trying the other mode once
// when the first errors or comes back empty.
func Capture(ctx context.Context, c Capturer, session string, g Grammar) (string, error) {
	order := g.CaptureOrder
	if len(order) == 0 {
		order = []tmux.CaptureMode{tmux.CaptureHistory, tmux.CaptureAlternate}
	}

	var errs []error
	for _, mode := range order {
		out, err := c.Capture(ctx, session, mode)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		if strings.TrimSpace(StripANSI(out)) != "" {
			return out, nil
		}
	}
	if len(errs) == len(order) {
		return "", &domain.Error{
			Code:    domain.CodeCommandFailed,
			Message: "capture failed in every mode for session " + session,
			Err:     errs[len(errs)-1],
		}
	}
	return "", nil
}
