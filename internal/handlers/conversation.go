package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"companion/internal/services"
)

// ConversationHandler handles conversation-related HTTP requests
type ConversationHandler struct {
	conversation *services.ConversationService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversation *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversation: conversation}
}

// Get returns the recent message window plus the current summary.
// GET /api/conversation?limit=N
func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be positive",
		})
	}

	return c.JSON(fiber.Map{
		"messages":     h.conversation.Recent(limit),
		"summary":      h.conversation.Summary(),
		"total":        h.conversation.MessageCount(),
		"last_updated": h.conversation.LastUpdated(),
	})
}

// Clear wipes the conversation: messages and summary both.
// DELETE /api/conversation
func (h *ConversationHandler) Clear(c *fiber.Ctx) error {
	h.conversation.Clear()
	if err := h.conversation.Persist(); err != nil {
		log.Printf("⚠️ [CONVERSATION] Failed to persist after clear: %v", err)
	}

	return c.JSON(fiber.Map{
		"status": "cleared",
	})
}
