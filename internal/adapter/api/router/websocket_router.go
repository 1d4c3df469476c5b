package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
	"marketchat/internal/infrastructure/ratelimit"
)

// SetupWebSocketRouter sets up the WebSocket endpoint. Authentication happens
// inside the handler so the authenticate frame can be used as a carrier.
func SetupWebSocketRouter(e *echo.Echo, rateLimiter *ratelimit.RateLimiter) {
	wsHandler := handler.GetWebSocketHandler()
	e.GET("/ws", wsHandler.HandleWebSocket, middleware.RateLimit(rateLimiter, ratelimit.ActionConnect))
}
