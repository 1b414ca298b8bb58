package handlers

import (
	"net/http"

	"flowdesk/internal/services"

	"github.com/gin-gonic/gin"
)

type ExecutionFeedHandler struct {
	hub *services.ExecutionEventHub
}

func NewExecutionFeedHandler(hub *services.ExecutionEventHub) *ExecutionFeedHandler {
	return &ExecutionFeedHandler{hub: hub}
}

func (h *ExecutionFeedHandler) HandleWebSocket(c *gin.Context) {
	h.hub.HandleWebSocket(c)
}

func (h *ExecutionFeedHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": h.hub.ClientCount(),
		"status":            "running",
	})
}

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}
