package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"companion/internal/models"
)

// TriggerConfig bundles the summarization trigger thresholds.
type TriggerConfig struct {
	// InitialThreshold fires the first summarization once this many
	// messages exist and no summary does.
	InitialThreshold int

	// UpdateThreshold fires again once this many unsummarized messages
	// accumulate after a summary exists. A higher bar than the initial
	// one.
	UpdateThreshold int

	// Interval fires regardless of count once this much time passed
	// since the last successful run, provided the conversation holds
	// more than MinMessages.
	Interval    time.Duration
	MinMessages int

	// Debounce coalesces rapid message bursts before evaluating.
	Debounce time.Duration
}

// DefaultTriggerConfig returns the standard thresholds.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		InitialThreshold: 10,
		UpdateThreshold:  20,
		Interval:         30 * time.Minute,
		MinMessages:      10,
		Debounce:         5 * time.Second,
	}
}

// Summarizer is the batch-digest dependency of the trigger policy.
// Satisfied by SummarizerService; substitutable in tests.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (string, error)
}

// TriggerPolicy decides when to run summarization from count and time
// signals, debounces bursts, and guarantees at most one in-flight run.
// A failed run leaves prior state intact; the next natural trigger
// point retries.
type TriggerPolicy struct {
	mu           sync.Mutex
	cfg          TriggerConfig
	conversation *ConversationService
	summarizer   Summarizer
	memory       *MemoryService // nil disables memory-segment extraction

	cursor      int       // message count at last successful run
	lastSuccess time.Time // base for the time signal
	inFlight    bool
	debounce    *time.Timer
	metrics     *Metrics
}

// NewTriggerPolicy wires the policy. memory may be nil.
func NewTriggerPolicy(cfg TriggerConfig, conversation *ConversationService, summarizer Summarizer, memory *MemoryService) *TriggerPolicy {
	return &TriggerPolicy{
		cfg:          cfg,
		conversation: conversation,
		summarizer:   summarizer,
		memory:       memory,
		cursor:       conversation.MessageCount(), // restored history counts as summarized
		lastSuccess:  time.Now(),
	}
}

// SetMetrics attaches Prometheus counters (optional, deferred wiring).
func (p *TriggerPolicy) SetMetrics(m *Metrics) {
	p.metrics = m
}

// NotifyMessage signals a new message exchange. Evaluation is deferred
// by the debounce delay; rapid successive sends collapse into one
// evaluation after quiescence.
func (p *TriggerPolicy) NotifyMessage() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.cfg.Debounce, p.Evaluate)
}

// Evaluate checks the trigger signals and, when due, launches a single
// background summarization. Safe to call from timers and schedulers;
// overlapping triggers collapse into the one in-flight run.
func (p *TriggerPolicy) Evaluate() {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return
	}

	count := p.conversation.MessageCount()
	if !p.shouldTrigger(count, p.conversation.Summary() != "", time.Now()) {
		p.mu.Unlock()
		return
	}

	p.inFlight = true
	from, to := p.cursor, count
	p.mu.Unlock()

	go p.run(from, to)
}

// shouldTrigger applies the OR-combined count and time signals against
// the "messages since last summarization" cursor. Callers hold p.mu.
func (p *TriggerPolicy) shouldTrigger(count int, hasSummary bool, now time.Time) bool {
	unsummarized := count - p.cursor
	if unsummarized <= 0 {
		return false
	}

	if !hasSummary && unsummarized >= p.cfg.InitialThreshold {
		return true
	}
	if hasSummary && unsummarized >= p.cfg.UpdateThreshold {
		return true
	}
	if now.Sub(p.lastSuccess) > p.cfg.Interval && count > p.cfg.MinMessages {
		return true
	}
	return false
}

// run performs one summarization attempt over the index range captured
// at trigger time. A message arriving meanwhile lands past the range
// and waits for the next run; it can neither enter this batch nor push
// an unsummarized message out of it.
func (p *TriggerPolicy) run(from, to int) {
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	batch := p.conversation.Slice(from, to)
	if len(batch) == 0 {
		return
	}

	req := SummarizeRequest{
		Messages:        batch,
		PreviousSummary: p.conversation.Summary(),
	}
	if p.memory != nil {
		if query := batchQuery(batch); query != "" {
			req.RelevantMemories = p.memory.RelevantTo(query, MaxRelevantMemories)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	summary, err := p.summarizer.Summarize(ctx, req)
	if err != nil {
		if errors.Is(err, ErrNothingToSummarize) {
			// A batch of pure boilerplate is a completed no-op: the
			// cursor moves past it so the time signal never retries
			// the same doomed batch.
			p.mu.Lock()
			p.cursor = to
			p.mu.Unlock()
			log.Printf("⏭️ [TRIGGER] Skipped batch of %d low-value messages", len(batch))
			return
		}
		// Prior summary stays intact; retry happens at the next
		// natural trigger point, never immediately.
		log.Printf("⚠️ [TRIGGER] Summarization failed (batch of %d): %v", len(batch), err)
		return
	}

	p.conversation.ReplaceSummary(summary)
	if err := p.conversation.Persist(); err != nil {
		log.Printf("⚠️ [TRIGGER] Failed to persist conversation: %v", err)
	}

	if p.memory != nil {
		p.memory.ProcessBatch(batch)
		if err := p.memory.Persist(); err != nil {
			log.Printf("⚠️ [TRIGGER] Failed to persist memory segments: %v", err)
		}
	}

	p.mu.Lock()
	p.cursor = to
	p.lastSuccess = time.Now()
	p.mu.Unlock()

	log.Printf("✅ [TRIGGER] Summarized %d messages (summary: %d chars)", len(batch), len(summary))
}

// Flush unconditionally runs a final best-effort summarization when
// any unsummarized messages exist. Failures are swallowed; shutdown is
// never blocked.
func (p *TriggerPolicy) Flush() {
	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	if p.inFlight {
		p.mu.Unlock()
		return
	}
	count := p.conversation.MessageCount()
	if count == 0 || count-p.cursor <= 0 {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	from, to := p.cursor, count
	p.mu.Unlock()

	log.Printf("👋 [TRIGGER] Final summarization of %d messages before shutdown", to-from)
	p.run(from, to)
}

// Stop cancels any pending debounce timer.
func (p *TriggerPolicy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
}

// batchQuery builds the memory relevance query from the batch's user
// turns.
func batchQuery(batch []models.Message) string {
	var parts []string
	for _, m := range batch {
		if m.IsUser {
			parts = append(parts, m.Text)
		}
	}
	const maxQuery = 500
	query := strings.Join(parts, " ")
	if len(query) > maxQuery {
		cut := len(query) - maxQuery
		for cut < len(query) && !utf8.RuneStart(query[cut]) {
			cut++
		}
		query = query[cut:]
	}
	return query
}
