package services

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"companion/internal/models"
	"companion/internal/storage"
)

// topicTaxonomy maps each topic category to its trigger keywords.
// Fixed taxonomy; matching is lowercase substring containment.
var topicTaxonomy = map[string][]string{
	"work":        {"work", "job", "office", "meeting", "boss", "colleague", "project", "deadline", "career", "salary"},
	"family":      {"family", "mom", "dad", "mother", "father", "sister", "brother", "wife", "husband", "kids", "children", "parents"},
	"hobbies":     {"hobby", "hobbies", "guitar", "piano", "painting", "reading", "gaming", "cooking", "hiking", "photography", "sport"},
	"goals":       {"goal", "dream", "plan", "want to", "hope to", "aspire", "ambition", "aim to", "intend"},
	"preferences": {"prefer", "favorite", "like", "love", "hate", "dislike", "enjoy", "can't stand"},
	"schedule":    {"tomorrow", "today", "tonight", "weekend", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", "appointment", "schedule"},
	"location":    {"live in", "moving to", "city", "country", "address", "neighborhood", "from", "traveling to"},
	"technical":   {"code", "programming", "software", "computer", "app", "python", "javascript", "database", "server", "bug"},
	"emotions":    {"happy", "sad", "angry", "excited", "worried", "anxious", "stressed", "depressed", "afraid", "proud", "lonely"},
	"health":      {"health", "doctor", "sick", "illness", "medicine", "exercise", "sleep", "diet", "therapy", "pain"},
}

// Keyword groups feeding the importance score.
var (
	personalInfoKeywords = []string{"my name", "i am", "i'm", "i live", "i work", "my birthday", "years old", "my job"}
	emotionalKeywords    = []string{"love", "hate", "scared", "worried", "excited", "happy", "sad", "angry", "anxious", "proud"}
)

// memoryDocument is the persisted shape of the segment collection.
type memoryDocument struct {
	Segments          []*models.MemorySegment `json:"segments"`
	LastConsolidation time.Time               `json:"lastConsolidation"`
}

// MemoryService maintains tiered, importance-weighted memory segments
// beyond the raw message log: scoring, classification, consolidation,
// expiry, and relevance queries.
type MemoryService struct {
	mu                sync.RWMutex
	cfg               models.MemoryConfig
	store             storage.BlobStore
	segments          []*models.MemorySegment
	lastConsolidation time.Time
}

// NewMemoryService creates a manager with the given config. Call Load
// to restore persisted segments.
func NewMemoryService(cfg models.MemoryConfig, store storage.BlobStore) *MemoryService {
	return &MemoryService{
		cfg:      cfg,
		store:    store,
		segments: []*models.MemorySegment{},
	}
}

// Config returns the immutable config value in use.
func (s *MemoryService) Config() models.MemoryConfig {
	return s.cfg
}

// Load restores segments from the blob store; missing or unparseable
// documents fall back to an empty collection.
func (s *MemoryService) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc memoryDocument
	err := s.store.ReadJSON(storage.KeyMemorySegments, &doc)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("⚠️ [MEMORY] Failed to load segments, starting empty: %v", err)
		}
		return
	}

	s.segments = doc.Segments
	if s.segments == nil {
		s.segments = []*models.MemorySegment{}
	}
	s.lastConsolidation = doc.LastConsolidation
	log.Printf("📖 [MEMORY] Loaded %d segments", len(s.segments))
}

// Persist writes the segment collection as one JSON document.
func (s *MemoryService) Persist() error {
	s.mu.RLock()
	doc := memoryDocument{
		Segments:          append([]*models.MemorySegment(nil), s.segments...),
		LastConsolidation: s.lastConsolidation,
	}
	s.mu.RUnlock()

	if err := s.store.WriteJSON(storage.KeyMemorySegments, &doc); err != nil {
		return fmt.Errorf("failed to persist memory segments: %w", err)
	}
	return nil
}

// Score rates a message's importance in [0,1]. Deterministic for the
// same config and input: a weighted blend of length, priority-keyword
// hits, question markers, sender, and personal/emotional signals.
func (s *MemoryService) Score(msg models.Message) float64 {
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	if text == "" {
		return 0
	}

	// Length: longer messages carry more signal, saturating at 200 chars.
	lengthScore := float64(len(text)) / 200.0
	if lengthScore > 1.0 {
		lengthScore = 1.0
	}
	score := 0.30 * lengthScore

	// Priority keywords from config.
	for _, kw := range s.cfg.PriorityKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			score += 0.20
			break
		}
	}

	// Personal information markers.
	for _, kw := range personalInfoKeywords {
		if strings.Contains(text, kw) {
			score += 0.20
			break
		}
	}

	// Emotional content.
	for _, kw := range emotionalKeywords {
		if strings.Contains(text, kw) {
			score += 0.15
			break
		}
	}

	// Questions tend to mark information the user cares about.
	if strings.Contains(text, "?") {
		score += 0.05
	}

	// User turns weigh more than assistant replies.
	if msg.IsUser {
		score += 0.10
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Classify assigns exactly one tier from an importance value. The
// thresholds are strictly descending, so raising importance never
// demotes.
func (s *MemoryService) Classify(importance float64) models.MemoryTier {
	switch {
	case importance >= s.cfg.CriticalThreshold:
		return models.TierCritical
	case importance >= s.cfg.LongTermThreshold:
		return models.TierLongTerm
	case importance >= s.cfg.MediumTermThreshold:
		return models.TierMediumTerm
	default:
		return models.TierShortTerm
	}
}

// ProcessBatch scores and classifies each qualifying message into a
// new segment with extracted topics. Returns the number created.
func (s *MemoryService) ProcessBatch(messages []models.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	created := 0
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if len(text) < s.cfg.MinMessageLength {
			continue
		}
		importance := s.Score(msg)
		if importance < s.cfg.MinMessageImportance {
			continue
		}

		segment := &models.MemorySegment{
			ID:           uuid.New().String(),
			Content:      text,
			Type:         s.Classify(importance),
			Importance:   importance,
			CreatedAt:    msg.Timestamp,
			LastAccessed: now,
			Topics:       extractTopics(text),
			Metadata: map[string]interface{}{
				"from_user": msg.IsUser,
			},
		}
		s.segments = append(s.segments, segment)
		created++
	}

	if created > 0 {
		log.Printf("🧠 [MEMORY] Created %d segments from batch of %d messages (%d total)", created, len(messages), len(s.segments))
	}
	return created
}

// extractTopics matches the text against the fixed taxonomy.
func extractTopics(text string) []string {
	lower := strings.ToLower(text)
	var topics []string
	for topic, keywords := range topicTaxonomy {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				topics = append(topics, topic)
				break
			}
		}
	}
	sort.Strings(topics)
	return topics
}

// Consolidate prunes each tier down to its configured capacity,
// keeping the highest relevance scores. Interval-gated; a no-op when
// auto-consolidation is disabled. Returns the number pruned.
func (s *MemoryService) Consolidate(now time.Time) int {
	if !s.cfg.AutoConsolidate {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastConsolidation.IsZero() && now.Sub(s.lastConsolidation) < s.cfg.ConsolidationInterval {
		return 0
	}
	s.lastConsolidation = now

	capacities := map[models.MemoryTier]int{
		models.TierShortTerm:  s.cfg.MaxShortTerm,
		models.TierMediumTerm: s.cfg.MaxMediumTerm,
		models.TierLongTerm:   s.cfg.MaxLongTerm,
		models.TierCritical:   s.cfg.MaxCritical,
	}

	byTier := make(map[models.MemoryTier][]*models.MemorySegment)
	for _, seg := range s.segments {
		byTier[seg.Type] = append(byTier[seg.Type], seg)
	}

	pruned := 0
	kept := make([]*models.MemorySegment, 0, len(s.segments))
	for tier, segs := range byTier {
		capacity := capacities[tier]
		if capacity > 0 && len(segs) > capacity {
			sort.Slice(segs, func(i, j int) bool {
				return segs[i].RelevanceScore(now) > segs[j].RelevanceScore(now)
			})
			pruned += len(segs) - capacity
			segs = segs[:capacity]
		}
		kept = append(kept, segs...)
	}
	s.segments = kept

	if pruned > 0 {
		log.Printf("📦 [MEMORY] Consolidation pruned %d segments (%d remain)", pruned, len(s.segments))
	}
	return pruned
}

// Expire removes segments past their tier's retention age. Critical
// segments are exempt. Returns the number removed.
func (s *MemoryService) Expire(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.segments[:0]
	expired := 0
	for _, seg := range s.segments {
		if seg.IsExpired(now) {
			expired++
			continue
		}
		kept = append(kept, seg)
	}
	s.segments = kept

	if expired > 0 {
		log.Printf("⏳ [MEMORY] Expired %d segments (%d remain)", expired, len(s.segments))
	}
	return expired
}

// RelevantTo ranks non-expired segments against the query by topic
// overlap and keyword containment, weighted by relevance score, and
// returns the top limit. Returned segments get their access tracking
// updated; a hot short-term segment is promoted one tier.
func (s *MemoryService) RelevantTo(query string, limit int) []models.MemorySegment {
	if limit <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	queryLower := strings.ToLower(query)
	queryTopics := extractTopics(query)
	queryWords := significantWords(queryLower)

	type scored struct {
		seg   *models.MemorySegment
		score float64
	}
	var candidates []scored

	for _, seg := range s.segments {
		if seg.IsExpired(now) {
			continue
		}
		match := matchScore(seg, queryTopics, queryWords)
		if match == 0 {
			continue
		}
		candidates = append(candidates, scored{seg, match * (0.5 + seg.RelevanceScore(now))})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]models.MemorySegment, 0, len(candidates))
	for _, c := range candidates {
		c.seg.AccessCount++
		c.seg.LastAccessed = now
		if c.seg.Type == models.TierShortTerm && c.seg.AccessCount >= 5 {
			c.seg.Type = models.TierMediumTerm
		}
		out = append(out, *c.seg)
	}
	return out
}

// matchScore combines topic overlap with keyword containment.
func matchScore(seg *models.MemorySegment, queryTopics, queryWords []string) float64 {
	score := 0.0

	for _, qt := range queryTopics {
		for _, st := range seg.Topics {
			if qt == st {
				score += 0.5
				break
			}
		}
	}

	contentLower := strings.ToLower(seg.Content)
	for _, w := range queryWords {
		if strings.Contains(contentLower, w) {
			score += 0.25
		}
	}

	return score
}

// significantWords keeps query words long enough to be meaningful.
func significantWords(query string) []string {
	var out []string
	for _, w := range strings.Fields(query) {
		w = strings.Trim(w, ".,!?\"'")
		if len(w) >= 4 {
			out = append(out, w)
		}
	}
	return out
}

// Metrics derives per-tier counts, average importance, and total
// access count on demand. Never persisted separately.
func (s *MemoryService) Metrics() models.MemoryMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := models.MemoryMetrics{
		TotalSegments: len(s.segments),
		CountsByTier: map[models.MemoryTier]int{
			models.TierShortTerm:  0,
			models.TierMediumTerm: 0,
			models.TierLongTerm:   0,
			models.TierCritical:   0,
		},
	}

	totalImportance := 0.0
	for _, seg := range s.segments {
		m.CountsByTier[seg.Type]++
		totalImportance += seg.Importance
		m.TotalAccessCount += seg.AccessCount
	}
	if len(s.segments) > 0 {
		m.AverageImportance = totalImportance / float64(len(s.segments))
	}
	return m
}

// Wipe removes every segment. Explicit user-initiated action.
func (s *MemoryService) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = []*models.MemorySegment{}
	log.Printf("🗑️ [MEMORY] All segments wiped")
}
