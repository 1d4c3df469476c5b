package handler

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/usecase"
	"marketchat/pkg/response"
)

type PresenceHandler struct {
	gateway *usecase.GatewayUseCase
}

func NewPresenceHandler(gateway *usecase.GatewayUseCase) *PresenceHandler {
	return &PresenceHandler{gateway: gateway}
}

// GetPresence reports whether a participant is online, or when it was last seen.
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	return response.Success(c, h.gateway.Presence(c.Param("participantId")))
}
