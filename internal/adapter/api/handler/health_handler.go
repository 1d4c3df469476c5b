package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ConnectionCounter reports how many WebSocket connections are live.
type ConnectionCounter interface {
	Count() int
}

type HealthHandler struct {
	connections ConnectionCounter
	instanceID  string
	storage     string
}

func NewHealthHandler(connections ConnectionCounter, instanceID, storage string) *HealthHandler {
	return &HealthHandler{
		connections: connections,
		instanceID:  instanceID,
		storage:     storage,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "Server is running",
		"time":        time.Now().Format(time.RFC3339),
		"instance":    h.instanceID,
		"storage":     h.storage,
		"connections": h.connections.Count(),
	})
}
