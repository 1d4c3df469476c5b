package handler

import (
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
)

var (
	conversationHandler *ConversationHandler
	presenceHandler     *PresenceHandler
	webSocketHandler    *WebSocketHandler
	healthHandler       *HealthHandler
	devTokenHandler     *DevTokenHandler
)

type Dependencies struct {
	Delivery    *usecase.DeliveryUseCase
	Gateway     *usecase.GatewayUseCase
	Manager     *ws.Manager
	WebSocket   WebSocketConfig
	InstanceID  string
	StorageName string
	// DevTokenSecret enables the development token endpoint when set.
	DevTokenSecret string
	DevTokenIssuer string
}

func Setup(deps Dependencies) {
	conversationHandler = NewConversationHandler(deps.Delivery)
	presenceHandler = NewPresenceHandler(deps.Gateway)
	webSocketHandler = NewWebSocketHandler(deps.Manager, deps.Gateway, deps.WebSocket)
	healthHandler = NewHealthHandler(deps.Manager, deps.InstanceID, deps.StorageName)
	devTokenHandler = nil
	if deps.DevTokenSecret != "" {
		devTokenHandler = NewDevTokenHandler(deps.DevTokenSecret, deps.DevTokenIssuer)
	}
}

func GetConversationHandler() *ConversationHandler {
	return conversationHandler
}

func GetPresenceHandler() *PresenceHandler {
	return presenceHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

// GetDevTokenHandler is nil unless a development token secret was configured.
func GetDevTokenHandler() *DevTokenHandler {
	return devTokenHandler
}
