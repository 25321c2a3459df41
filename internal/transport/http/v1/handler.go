// Package v1 provides the v1 HTTP control API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentmux/internal/discussion"
	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service     *service.Service
	discussions *discussion.Scheduler
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, discussions *discussion.Scheduler) *Handler {
	return &Handler{
		service:     service,
		discussions: discussions,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Agent sessions
	e.GET("/v1/agents", h.ListAgents)
	e.GET("/v1/agents/:agent_id", h.GetAgent)
	e.POST("/v1/agents/:agent_id/start", h.StartAgent)
	e.POST("/v1/agents/:agent_id/stop", h.StopAgent)

	// Messages and prompts
	e.POST("/v1/agents/:agent_id/messages", h.SendMessage)
	e.GET("/v1/agents/:agent_id/prompt", h.GetPrompt)
	e.POST("/v1/agents/:agent_id/choice", h.SubmitChoice)
	e.POST("/v1/agents/:agent_id/interrupt", h.Interrupt)
	e.GET("/v1/agents/:agent_id/turns", h.ListTurns)
	e.GET("/v1/agents/:agent_id/capture", h.Capture)

	// Discussions
	e.POST("/v1/discussions", h.StartDiscussion)
	e.POST("/v1/discussions/cancel", h.CancelDiscussion)
	e.GET("/v1/discussions/current", h.CurrentDiscussion)
	e.GET("/v1/discussions/:run_id/scores", h.GetScores)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": "0.1.0",
		"running": len(h.service.RunningAgentIDs()),
	})
}

// statusFor maps a domain error code to an HTTP status.
func statusFor(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeSessionNotFound:
		return http.StatusNotFound
	case domain.CodeTurnPending, domain.CodeDiscussionActive:
		return http.StatusConflict
	case domain.CodeUserActionRequired:
		return http.StatusLocked
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeCommandFailed:
		return http.StatusBadGateway
	case domain.CodePolicyDenied:
		return http.StatusForbidden
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func errorJSON(c echo.Context, err error) error {
	body := map[string]string{"error": err.Error()}
	var de *domain.Error
	if errors.As(err, &de) {
		body["code"] = string(de.Code)
	}
	return c.JSON(statusFor(err), body)
}
