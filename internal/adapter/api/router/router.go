package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/middleware"
	"marketchat/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, rateLimiter *ratelimit.RateLimiter, environment string) {
	SetupConversationRouter(e, authMiddleware)
	SetupPresenceRouter(e, authMiddleware)
	SetupWebSocketRouter(e, rateLimiter)
	SetupHealthRouter(e)
	SetupDevRouter(e, environment)
}
