package handlers

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"companion/internal/services"
)

// contextWindow is how many recent turns accompany a chat request.
const contextWindow = 20

const defaultPersona = "You are a warm, attentive personal AI companion. Remember what the user tells you and refer back to it naturally."

// ChatHandler handles chat message exchanges.
type ChatHandler struct {
	conversation *services.ConversationService
	client       *services.CompletionClient
	policy       *services.TriggerPolicy
	memory       *services.MemoryService
	metrics      *services.Metrics
}

// NewChatHandler creates a new chat handler. memory and metrics may be nil.
func NewChatHandler(
	conversation *services.ConversationService,
	client *services.CompletionClient,
	policy *services.TriggerPolicy,
	memory *services.MemoryService,
	metrics *services.Metrics,
) *ChatHandler {
	return &ChatHandler{
		conversation: conversation,
		client:       client,
		policy:       policy,
		memory:       memory,
		metrics:      metrics,
	}
}

// Handle processes one chat turn: append the user message, get the
// assistant reply, persist, and notify the trigger policy. Background
// summarization failures never interrupt the turn.
// POST /api/chat
func (h *ChatHandler) Handle(c *fiber.Ctx) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(body.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	start := time.Now()
	if h.metrics != nil {
		h.metrics.ChatRequests.Inc()
	}

	userMsg := h.conversation.Append(body.Message, true)

	reply, err := h.client.Complete(c.Context(), h.buildContext())
	if err != nil {
		return h.completionError(c, err)
	}

	assistantMsg := h.conversation.Append(reply, false)

	// Persistence failures never block the turn; in-memory state stays
	// authoritative and the next successful write carries it all.
	if err := h.conversation.Persist(); err != nil {
		log.Printf("⚠️ [CHAT] Failed to persist conversation: %v", err)
	}

	h.policy.NotifyMessage()

	if h.metrics != nil {
		h.metrics.ChatRequestLatency.Observe(time.Since(start).Seconds())
	}

	return c.JSON(fiber.Map{
		"user":      userMsg,
		"assistant": assistantMsg,
	})
}

// buildContext assembles the provider messages: persona plus rolling
// summary plus relevant memory segments, then the recent window. The
// just-appended user message is the window's tail.
func (h *ChatHandler) buildContext() []map[string]interface{} {
	var system strings.Builder

	persona := h.client.Provider().SystemPrompt
	if persona == "" {
		persona = defaultPersona
	}
	system.WriteString(persona)

	if summary := h.conversation.Summary(); summary != "" {
		system.WriteString("\n\nCONVERSATION SUMMARY:\n")
		system.WriteString(summary)
	}

	recent := h.conversation.Recent(contextWindow)

	if h.memory != nil && len(recent) > 0 {
		latest := recent[len(recent)-1]
		if memories := h.memory.RelevantTo(latest.Text, services.MaxRelevantMemories); len(memories) > 0 {
			system.WriteString("\n\nTHINGS YOU REMEMBER ABOUT THE USER:\n")
			for _, seg := range memories {
				system.WriteString(fmt.Sprintf("- [%s] %s\n", seg.Type, seg.Content))
			}
		}
	}

	messages := make([]map[string]interface{}, 0, len(recent)+1)
	messages = append(messages, map[string]interface{}{
		"role":    "system",
		"content": system.String(),
	})
	for _, m := range recent {
		messages = append(messages, map[string]interface{}{
			"role":    m.Role(),
			"content": m.Text,
		})
	}
	return messages
}

// completionError maps the provider error taxonomy onto HTTP statuses
// with distinguishable messages.
func (h *ChatHandler) completionError(c *fiber.Ctx, err error) error {
	errType := "transient"
	status := fiber.StatusBadGateway
	message := "The companion is unreachable right now, please try again"

	switch {
	case errors.Is(err, services.ErrQuotaExceeded):
		errType = "quota"
		status = fiber.StatusTooManyRequests
		message = "Hourly usage limit reached, please wait a little while"
	case errors.Is(err, services.ErrMissingAPIKey):
		errType = "config"
		status = fiber.StatusServiceUnavailable
		message = "Completion provider is not configured"
	case errors.Is(err, services.ErrMalformedResponse):
		errType = "malformed"
	}

	log.Printf("⚠️ [CHAT] Completion failed (%s): %v", errType, err)
	if h.metrics != nil {
		h.metrics.ChatErrors.WithLabelValues(errType).Inc()
	}

	return c.Status(status).JSON(fiber.Map{
		"error":      message,
		"error_type": errType,
	})
}
