package services

import "companion/internal/models"

// EstimateTokens returns an approximate token count using the ~4 chars/token heuristic.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateTranscriptTokens estimates the total token count for a batch
// of conversation turns. Accounts for speaker-label overhead (~4 tokens
// per message).
func EstimateTranscriptTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += 4 // speaker label + separators overhead per message
		total += EstimateTokens(msg.Text)
	}
	return total
}
