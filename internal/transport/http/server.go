// Package http provides the HTTP server implementation for agentmux.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/agentmux/internal/discussion"
	"github.com/xiaot623/agentmux/internal/service"
	v1 "github.com/xiaot623/agentmux/internal/transport/http/v1"
	"github.com/xiaot623/agentmux/internal/transport/ws"
)

// NewServer creates the HTTP server: the v1 control API and the WebSocket endpoint.
func NewServer(svc *service.Service, scheduler *discussion.Scheduler, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1Handler := v1.NewHandler(svc, scheduler)
	v1Handler.RegisterRoutes(e)

	e.GET("/ws", wsServer.HandleWebSocket)

	return e
}
