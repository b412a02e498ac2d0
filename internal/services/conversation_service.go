package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"companion/internal/models"
	"companion/internal/storage"
)

// ConversationService owns the canonical ordered message log and the
// current summary. Mutations never persist automatically; callers run
// Persist explicitly so writes can be batched.
type ConversationService struct {
	mu    sync.RWMutex
	store storage.BlobStore
	ctx   *models.ConversationContext
}

// NewConversationService creates a service over an empty context.
// Call Load to restore persisted state.
func NewConversationService(store storage.BlobStore) *ConversationService {
	return &ConversationService{
		store: store,
		ctx:   models.NewConversationContext(),
	}
}

// Load restores the conversation from the blob store. A missing or
// unparseable document falls back to an empty context rather than
// erroring.
func (s *ConversationService) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var loaded models.ConversationContext
	err := s.store.ReadJSON(storage.KeyConversationContext, &loaded)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("⚠️ [CONVERSATION] Failed to load context, starting empty: %v", err)
		}
		s.ctx = models.NewConversationContext()
		return
	}

	if loaded.Messages == nil {
		loaded.Messages = []models.Message{}
	}
	s.ctx = &loaded
	log.Printf("📖 [CONVERSATION] Loaded %d messages (summary: %d chars)", len(loaded.Messages), len(loaded.Summary))
}

// Persist writes the full context to the blob store. Errors are
// reported but the in-memory state remains authoritative; the next
// successful write carries the complete state.
func (s *ConversationService) Persist() error {
	s.mu.RLock()
	snapshot := *s.ctx
	snapshot.Messages = append([]models.Message(nil), s.ctx.Messages...)
	s.mu.RUnlock()

	if err := s.store.WriteJSON(storage.KeyConversationContext, &snapshot); err != nil {
		return fmt.Errorf("failed to persist conversation: %w", err)
	}
	return nil
}

// Append adds a turn to the tail of the log. Always succeeds; never
// reorders or dedups.
func (s *ConversationService) Append(text string, isUser bool) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := models.Message{
		Text:      text,
		IsUser:    isUser,
		Timestamp: time.Now(),
	}
	s.ctx.Messages = append(s.ctx.Messages, msg)
	s.ctx.LastUpdated = msg.Timestamp
	return msg
}

// Recent returns the last limit messages in original order, or all
// messages when fewer exist. No side effects.
func (s *ConversationService) Recent(limit int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []models.Message{}
	}
	n := len(s.ctx.Messages)
	if limit > n {
		limit = n
	}
	out := make([]models.Message, limit)
	copy(out, s.ctx.Messages[n-limit:])
	return out
}

// Slice returns the messages in the half-open index range [from, to).
// The log is append-only, so indices are stable once assigned; a range
// captured under lock stays valid however many messages arrive later.
func (s *ConversationService) Slice(from, to int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.ctx.Messages)
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if from >= to {
		return []models.Message{}
	}
	out := make([]models.Message, to-from)
	copy(out, s.ctx.Messages[from:to])
	return out
}

// ReplaceSummary wholesale-replaces the rolling summary after a
// successful summarization.
func (s *ConversationService) ReplaceSummary(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx.Summary = text
	s.ctx.LastUpdated = time.Now()
}

// Summary returns the current rolling summary ("" when none exists).
func (s *ConversationService) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.Summary
}

// MessageCount returns the total number of stored messages.
func (s *ConversationService) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ctx.Messages)
}

// LastUpdated returns the context's last modification time.
func (s *ConversationService) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.LastUpdated
}

// Clear empties messages and summary. Explicit user-initiated wipe.
func (s *ConversationService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = models.NewConversationContext()
	log.Printf("🗑️ [CONVERSATION] Context cleared")
}
