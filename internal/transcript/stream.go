package transcript

import (
	"context"
	"errors"
	"log"
	"os"
	"time"
)

// Request describes the reply to wait for.
type Request struct {
	// Path is the transcript file known at send time. Until the turn is found, the newest
	// transcript under WorkDir replaces it.
	Path         string
	WorkDir      string
	AfterTurnID  string
	ExpectedText string
	MinTimestamp time.Time
	StableFor    time.Duration
	MaxWait      time.Duration
	PollInterval time.Duration
}

// Result is the reply recovered from a transcript.
type Result struct {
	Text       string
	TurnID     string
	Path       string
	Complete   bool
	BestEffort bool
}

// Reader waits on transcript files.
type Reader struct {
	locator Locator
}

// NewReader creates a Reader rooted at projectsDir.
func NewReader(projectsDir string) *Reader {
	return &Reader{locator: Locator{ProjectsDir: projectsDir}}
}

// LogPath returns the current transcript for workDir.
func (r *Reader) LogPath(workDir string) (string, error) {
	return r.locator.LogPath(workDir)
}

// Baseline returns the transcript path and latest user turn id for workDir. A missing
// transcript yields empty values and no error.
func (r *Reader) Baseline(workDir string) (path, turnID string, err error) {
	path, err = r.locator.LogPath(workDir)
	if errors.Is(err, ErrNoLog) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	entries, err := ParseFile(path)
	if err != nil {
		return path, "", err
	}
	return path, LatestTurnID(entries), nil
}

// Stream polls the transcript until the reply to req has stopped growing.
// onUpdate, when set, receives every distinct intermediate text.
func (r *Reader) Stream(ctx context.Context, req Request, onUpdate func(string)) (Result, error) {
	poll := req.PollInterval
	if poll <= 0 {
		poll = 300 * time.Millisecond
	}
	deadline := time.Now().Add(req.MaxWait)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var (
		res         = Result{Path: req.Path}
		lastMod     time.Time
		lastSize    int64 = -1
		lastChange        = time.Now()
		waitingTool bool
	)

	for {
		// A restarted agent writes to a new session file, so keep following the newest
		// transcript until the turn has been found.
		if res.TurnID == "" && req.WorkDir != "" {
			if p, err := r.locator.LogPath(req.WorkDir); err == nil && p != res.Path {
				if res.Path != "" {
					log.Printf("INFO: transcript moved from %s to %s", res.Path, p)
				}
				res.Path = p
				lastMod, lastSize = time.Time{}, -1
			}
		}

		if res.Path != "" {
			fi, err := os.Stat(res.Path)
			switch {
			case err == nil && (fi.ModTime() != lastMod || fi.Size() != lastSize):
				lastMod, lastSize = fi.ModTime(), fi.Size()
				lastChange = time.Now()

				entries, perr := ParseFile(res.Path)
				if perr != nil {
					log.Printf("WARN: transcript %s: %v", res.Path, perr)
				}
				idx := FindTurn(entries, req.AfterTurnID, req.ExpectedText, req.MinTimestamp)
				if idx >= 0 {
					chain := Chain(entries, idx)
					text := ResponseText(chain)
					waitingTool = AwaitingTool(chain)
					res.TurnID = entries[idx].UUID
					if text != res.Text {
						res.Text = text
						if onUpdate != nil && text != "" {
							onUpdate(text)
						}
					}
				}
			case err != nil && !os.IsNotExist(err):
				log.Printf("WARN: transcript stat %s: %v", res.Path, err)
			}
		}

		now := time.Now()
		if res.Text != "" && !waitingTool && now.Sub(lastChange) >= req.StableFor {
			res.Complete = true
			return res, nil
		}
		if now.After(deadline) {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Latest returns the reply to the most recent user turn without any baseline. The
// result is marked best effort because it may belong to a different exchange.
func (r *Reader) Latest(path string) (Result, error) {
	entries, err := ParseFile(path)
	if err != nil {
		return Result{Path: path, BestEffort: true}, err
	}
	res := Result{Path: path, BestEffort: true}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsUserTurn() {
			chain := Chain(entries, i)
			res.TurnID = entries[i].UUID
			res.Text = ResponseText(chain)
			res.Complete = res.Text != "" && !AwaitingTool(chain)
			break
		}
	}
	return res, nil
}
