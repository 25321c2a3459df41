package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListAgents lists every configured agent with its session state.
// GET /v1/agents
func (h *Handler) ListAgents(c echo.Context) error {
	ctx := c.Request().Context()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"agents": h.service.ListSessions(ctx),
	})
}

// GetAgent gets a specific agent's session.
// GET /v1/agents/:agent_id
func (h *Handler) GetAgent(c echo.Context) error {
	ctx := c.Request().Context()
	agentID := c.Param("agent_id")

	session, err := h.service.GetSession(ctx, agentID)
	if err != nil {
		return errorJSON(c, err)
	}

	prompt, _ := h.service.GetPrompt(agentID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session": session,
		"pending": h.service.Pending(agentID),
		"prompt":  prompt,
	})
}

// StartAgent starts or adopts the agent's session.
// POST /v1/agents/:agent_id/start
func (h *Handler) StartAgent(c echo.Context) error {
	ctx := c.Request().Context()

	session, err := h.service.StartSession(ctx, c.Param("agent_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// StopAgent kills the agent's session.
// POST /v1/agents/:agent_id/stop
func (h *Handler) StopAgent(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.service.StopSession(ctx, c.Param("agent_id")); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Capture returns the agent's scrollback without escape sequences.
// GET /v1/agents/:agent_id/capture
func (h *Handler) Capture(c echo.Context) error {
	ctx := c.Request().Context()

	text, err := h.service.Capture(ctx, c.Param("agent_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}
