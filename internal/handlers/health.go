package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"companion/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	conversation *services.ConversationService
	startedAt    time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(conversation *services.ConversationService) *HealthHandler {
	return &HealthHandler{
		conversation: conversation,
		startedAt:    time.Now(),
	}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"messages":  h.conversation.MessageCount(),
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
