package handlers

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"companion/internal/services"
)

// MemoryHandler exposes the memory segment manager over HTTP.
type MemoryHandler struct {
	memory *services.MemoryService
}

// NewMemoryHandler creates a new memory handler
func NewMemoryHandler(memory *services.MemoryService) *MemoryHandler {
	return &MemoryHandler{memory: memory}
}

// Stats returns per-tier counts, average importance, and access totals.
// GET /api/memory/stats
func (h *MemoryHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.memory.Metrics())
}

// Search ranks segments against a query.
// GET /api/memory/search?q=...&limit=N
func (h *MemoryHandler) Search(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query parameter q is required",
		})
	}

	limit := c.QueryInt("limit", services.MaxRelevantMemories)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be positive",
		})
	}

	segments := h.memory.RelevantTo(query, limit)
	return c.JSON(fiber.Map{
		"query":    query,
		"segments": segments,
	})
}

// Wipe removes all memory segments.
// DELETE /api/memory
func (h *MemoryHandler) Wipe(c *fiber.Ctx) error {
	h.memory.Wipe()
	if err := h.memory.Persist(); err != nil {
		log.Printf("⚠️ [MEMORY] Failed to persist after wipe: %v", err)
	}

	return c.JSON(fiber.Map{
		"status": "wiped",
	})
}
