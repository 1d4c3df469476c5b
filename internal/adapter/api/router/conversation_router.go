package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
	"marketchat/internal/domain/entity"
)

// SetupConversationRouter sets up the REST surface for clients that are not
// connected over WebSocket.
func SetupConversationRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	conversationHandler := handler.GetConversationHandler()

	group := e.Group("/v1/conversations")
	group.Use(authMiddleware.Authenticate)

	group.POST("", conversationHandler.CreateConversation, middleware.RequireRole(entity.RoleCustomer))
	group.GET("", conversationHandler.ListConversations)
	group.GET("/:id", conversationHandler.GetConversation)
	group.PUT("/:id/read", conversationHandler.MarkRead)

	group.GET("/:id/messages", conversationHandler.ListMessages)
	group.POST("/:id/messages", conversationHandler.SendMessage)
	group.PATCH("/:id/messages/:messageId", conversationHandler.EditMessage)
	group.DELETE("/:id/messages/:messageId", conversationHandler.DeleteMessage)
}

func SetupPresenceRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	presenceHandler := handler.GetPresenceHandler()
	e.GET("/v1/presence/:participantId", presenceHandler.GetPresence, authMiddleware.Authenticate)
}
