package models

import "time"

// Message represents a single conversation turn. Messages are immutable
// once created and only ever appended to the conversation log.
type Message struct {
	Text      string    `json:"text"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}

// Role returns the completion-provider role for this message.
func (m Message) Role() string {
	if m.IsUser {
		return "user"
	}
	return "assistant"
}

// ConversationContext is the aggregate root of stored conversation state:
// the append-only message log plus the current rolling summary.
type ConversationContext struct {
	Messages    []Message `json:"messages"`
	Summary     string    `json:"summary"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// NewConversationContext returns an empty context (first launch).
func NewConversationContext() *ConversationContext {
	return &ConversationContext{
		Messages:    []Message{},
		LastUpdated: time.Now(),
	}
}
