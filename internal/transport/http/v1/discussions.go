package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// StartDiscussionRequest is the body of POST /v1/discussions.
type StartDiscussionRequest struct {
	Question     string   `json:"question"`
	Participants []string `json:"participants,omitempty"`
}

// StartDiscussion starts a discussion among the given (default: all running) agents.
// POST /v1/discussions
func (h *Handler) StartDiscussion(c echo.Context) error {
	ctx := c.Request().Context()

	var req StartDiscussionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	participants := req.Participants
	if len(participants) == 0 {
		participants = h.service.RunningAgentIDs()
	}

	run, err := h.discussions.Start(ctx, req.Question, participants)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusAccepted, run)
}

// CancelDiscussion cancels the active discussion.
// POST /v1/discussions/cancel
func (h *Handler) CancelDiscussion(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.discussions.Cancel(ctx); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// CurrentDiscussion returns the most recent discussion run.
// GET /v1/discussions/current
func (h *Handler) CurrentDiscussion(c echo.Context) error {
	run := h.discussions.Current()
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no discussion"})
	}
	return c.JSON(http.StatusOK, run)
}

// GetScores returns the peer score table and per-agent averages of a run.
// GET /v1/discussions/:run_id/scores
func (h *Handler) GetScores(c echo.Context) error {
	ctx := c.Request().Context()

	run, err := h.discussions.Get(ctx, c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "discussion not found"})
	}

	averages := make(map[string]float64, len(run.Scores))
	for evaluated := range run.Scores {
		averages[evaluated] = run.AverageScore(evaluated)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":   run.RunID,
		"phase":    run.Phase,
		"scores":   run.Scores,
		"averages": averages,
	})
}
