package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"companion/internal/models"
)

const (
	// MinSummarizableLength drops near-empty messages before formatting.
	MinSummarizableLength = 3

	// greetingMaxLength is the cutoff under which greeting/ack
	// boilerplate is dropped as token cost without information.
	greetingMaxLength = 12

	// TranscriptCharBudget caps the rendered transcript size.
	TranscriptCharBudget = 4000

	// compressedCharBudget is used by the token-efficient preset.
	compressedCharBudget = 2000

	// TruncationMarker tells the model (and downstream consumers) that
	// transcript content was cut.
	TruncationMarker = "\n[... transcript truncated ...]"

	// MaxRelevantMemories caps memory segments folded into a request.
	MaxRelevantMemories = 5
)

// Short greeting/acknowledgment boilerplate skipped during filtering.
var boilerplate = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {},
	"thanks": {}, "thank you": {}, "thx": {},
	"ok": {}, "okay": {}, "k": {}, "sure": {},
	"yes": {}, "no": {}, "yep": {}, "nope": {},
	"bye": {}, "goodbye": {}, "good night": {},
	"lol": {}, "haha": {}, "cool": {}, "nice": {}, "great": {},
}

const summarizerSystemPrompt = `You are the conversation memory system for a personal AI companion. Produce a concise digest of the conversation that preserves everything needed to continue it naturally later.

WHAT TO CAPTURE:
1. Key topics discussed
2. Important facts the user shared
3. User preferences and how they want to be treated
4. Goals and ongoing plans
5. Recurring themes and emotional context

RULES:
- Be concise and factual
- Write in third person about the user
- Never invent details that were not said
- The "summary" field is mandatory prose; the other fields are supporting structure

Return JSON with the summary and supporting fields.`

// summarySchema defines structured output for summarization.
var summarySchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"summary": map[string]interface{}{
			"type":        "string",
			"description": "Prose summary of the conversation",
		},
		"key_topics": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"important_facts": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"user_preferences": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"goals": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"recurring_themes": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
	},
	"required":             []string{"summary"},
	"additionalProperties": false,
}

// SummarizeRequest carries a message batch plus optional incremental
// and memory-aware context. The flavors compose; they are not
// exclusive states.
type SummarizeRequest struct {
	Messages         []models.Message
	PreviousSummary  string
	RelevantMemories []models.MemorySegment
}

// SummarizerService produces a digest of a message batch via the
// completion provider, with read-through caching and an hourly rate
// cap so trigger bursts can never hammer the API.
type SummarizerService struct {
	client  *CompletionClient
	cache   *SummaryCache
	budget  int
	limiter *rate.Limiter
	metrics *Metrics
}

// NewSummarizerService wires the summarizer. perHour caps provider
// calls (0 disables the cap); compressContext halves the transcript
// budget for the token-efficient preset.
func NewSummarizerService(client *CompletionClient, cache *SummaryCache, perHour int, compressContext bool) *SummarizerService {
	budget := TranscriptCharBudget
	if compressContext {
		budget = compressedCharBudget
	}
	var limiter *rate.Limiter
	if perHour > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour)
	}
	return &SummarizerService{
		client:  client,
		cache:   cache,
		budget:  budget,
		limiter: limiter,
	}
}

// SetMetrics attaches Prometheus counters (optional, deferred wiring).
func (s *SummarizerService) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Summarize returns a non-empty digest of the batch or a classified
// error. The cache is consulted first; a fresh result populates it.
func (s *SummarizerService) Summarize(ctx context.Context, req SummarizeRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("%w: empty message batch", ErrNothingToSummarize)
	}

	if len(req.RelevantMemories) > MaxRelevantMemories {
		req.RelevantMemories = req.RelevantMemories[:MaxRelevantMemories]
	}

	memoryIDs := make([]string, 0, len(req.RelevantMemories))
	for _, seg := range req.RelevantMemories {
		memoryIDs = append(memoryIDs, seg.ID)
	}

	key := s.cache.Fingerprint(req.Messages, memoryIDs)
	if summary, ok := s.cache.Get(key); ok {
		log.Printf("⚡ [SUMMARIZER] Cache hit for batch of %d messages", len(req.Messages))
		return summary, nil
	}

	filtered := filterMessages(req.Messages)
	if len(filtered) == 0 {
		return "", fmt.Errorf("%w: all %d messages filtered as low-value", ErrNothingToSummarize, len(req.Messages))
	}

	if s.limiter != nil && !s.limiter.Allow() {
		return "", ErrRateLimited
	}

	transcript := s.renderTranscript(filtered)
	userPrompt := buildUserPrompt(req, transcript)
	systemPrompt := buildSystemPrompt(req)

	log.Printf("📝 [SUMMARIZER] Summarizing %d messages (~%d tokens, %d memories, incremental=%t)",
		len(filtered), EstimateTranscriptTokens(filtered), len(req.RelevantMemories), req.PreviousSummary != "")

	start := time.Now()
	llmMessages := []map[string]interface{}{
		{"role": "system", "content": systemPrompt},
		{"role": "user", "content": userPrompt},
	}

	content, err := s.client.CompleteStructured(ctx, llmMessages, "conversation_summary", summarySchema)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SummarizationRuns.WithLabelValues("failure").Inc()
		}
		return "", fmt.Errorf("summarization failed: %w", err)
	}

	summary, err := parseSummary(content)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SummarizationRuns.WithLabelValues("failure").Inc()
		}
		return "", err
	}

	if s.metrics != nil {
		s.metrics.SummarizationRuns.WithLabelValues("success").Inc()
		s.metrics.SummarizationLatency.Observe(time.Since(start).Seconds())
	}

	s.cache.Put(key, summary)
	return summary, nil
}

// parseSummary is the strict parse step: a JSON envelope must carry a
// non-empty summary field; plain prose from models without structured
// output support is accepted as-is. Anything else fails closed.
func parseSummary(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("empty summary: %w", ErrMalformedResponse)
	}

	if strings.HasPrefix(trimmed, "{") {
		var parsed models.ParsedSummary
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return "", fmt.Errorf("summary envelope unparseable: %w", ErrMalformedResponse)
		}
		if strings.TrimSpace(parsed.Summary) == "" {
			return "", fmt.Errorf("summary envelope missing summary field: %w", ErrMalformedResponse)
		}
		return strings.TrimSpace(parsed.Summary), nil
	}

	return trimmed, nil
}

// filterMessages drops low-value messages: anything under the minimum
// length and short greeting/acknowledgment boilerplate.
func filterMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if len(text) < MinSummarizableLength {
			continue
		}
		if len(text) <= greetingMaxLength {
			normalized := strings.ToLower(strings.Trim(text, ".,!? "))
			if _, skip := boilerplate[normalized]; skip {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// renderTranscript formats the batch as a speaker-labeled transcript,
// truncated to the character budget with an explicit marker.
func (s *SummarizerService) renderTranscript(messages []models.Message) string {
	var builder strings.Builder
	for _, m := range messages {
		if m.IsUser {
			builder.WriteString("User: ")
		} else {
			builder.WriteString("Assistant: ")
		}
		builder.WriteString(m.Text)
		builder.WriteString("\n")
	}

	transcript := builder.String()
	if len(transcript) > s.budget {
		cut := s.budget
		for cut > 0 && !utf8.RuneStart(transcript[cut]) {
			cut--
		}
		transcript = transcript[:cut] + TruncationMarker
	}
	return transcript
}

// buildSystemPrompt composes the instruction variants: initial,
// incremental (previous summary present), memory-aware (relevant
// memories present).
func buildSystemPrompt(req SummarizeRequest) string {
	var builder strings.Builder
	builder.WriteString(summarizerSystemPrompt)

	if req.PreviousSummary != "" {
		builder.WriteString("\n\nA previous summary exists. Update it with the new messages: fold new information in, keep still-relevant facts, and drop nothing important.")
	}
	if len(req.RelevantMemories) > 0 {
		builder.WriteString("\n\nLong-term memory segments are provided for context. Use them to resolve references, but only summarize the conversation itself.")
	}
	return builder.String()
}

// buildUserPrompt renders memories and previous summary ahead of the
// transcript.
func buildUserPrompt(req SummarizeRequest, transcript string) string {
	var builder strings.Builder

	if len(req.RelevantMemories) > 0 {
		builder.WriteString("RELEVANT MEMORIES:\n")
		for i, seg := range req.RelevantMemories {
			builder.WriteString(fmt.Sprintf("%d. [%s, importance %.2f] %s\n", i+1, seg.Type, seg.Importance, seg.Content))
		}
		builder.WriteString("\n")
	}

	if req.PreviousSummary != "" {
		builder.WriteString("PREVIOUS SUMMARY:\n")
		builder.WriteString(req.PreviousSummary)
		builder.WriteString("\n\nUpdate this summary with the following new messages.\n\n")
	}

	builder.WriteString("CONVERSATION:\n")
	builder.WriteString(transcript)
	return builder.String()
}
