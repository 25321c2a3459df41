package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentmux/internal/domain"
)

// SendMessageRequest is the body of POST /v1/agents/:agent_id/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
	Wait bool   `json:"wait"`
}

// SendMessage types text into the agent. With wait the reply is returned; otherwise it
// is collected in the background and published as an event.
// POST /v1/agents/:agent_id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	ctx := c.Request().Context()
	agentID := c.Param("agent_id")

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text is required"})
	}

	if !req.Wait {
		if err := h.service.SendMessage(ctx, agentID, req.Text); err != nil {
			return errorJSON(c, err)
		}
		h.service.CollectResponse(agentID)
		return c.JSON(http.StatusAccepted, map[string]bool{"ok": true})
	}

	text, err := h.service.Ask(ctx, agentID, req.Text)
	if err != nil {
		if domain.CodeOf(err) == domain.CodeTimeout {
			return c.JSON(http.StatusGatewayTimeout, map[string]interface{}{
				"error":    err.Error(),
				"code":     string(domain.CodeTimeout),
				"text":     text,
				"complete": false,
			})
		}
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"text":     text,
		"complete": true,
	})
}

// GetPrompt returns the pending interactive choice prompt, if any.
// GET /v1/agents/:agent_id/prompt
func (h *Handler) GetPrompt(c echo.Context) error {
	prompt, err := h.service.GetPrompt(c.Param("agent_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"prompt": prompt})
}

// SubmitChoiceRequest is the body of POST /v1/agents/:agent_id/choice.
type SubmitChoiceRequest struct {
	Number int `json:"number"`
}

// SubmitChoice answers the interactive choice prompt.
// POST /v1/agents/:agent_id/choice
func (h *Handler) SubmitChoice(c echo.Context) error {
	ctx := c.Request().Context()

	var req SubmitChoiceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if err := h.service.SubmitChoice(ctx, c.Param("agent_id"), req.Number); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Interrupt sends the agent's interrupt key.
// POST /v1/agents/:agent_id/interrupt
func (h *Handler) Interrupt(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.service.Interrupt(ctx, c.Param("agent_id")); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// ListTurns lists stored turns of an agent.
// GET /v1/agents/:agent_id/turns?limit=50&before=<unix ms>
func (h *Handler) ListTurns(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	var before int64
	if b := c.QueryParam("before"); b != "" {
		if n, err := strconv.ParseInt(b, 10, 64); err == nil {
			before = n
		}
	}

	turns, err := h.service.ListTurns(ctx, c.Param("agent_id"), limit, before)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"turns": turns})
}
