package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"companion/internal/models"
)

const (
	// SummaryCacheTTL is how long a computed summary stays valid.
	SummaryCacheTTL = time.Hour

	// summaryCacheSweepThreshold triggers a passive sweep of expired
	// entries before a Put. Never a scheduled job.
	summaryCacheSweepThreshold = 10
)

// SummaryCache avoids redundant completion-provider calls for an
// identical message batch. Pure read-through: a miss is a cost, never
// an error. Entries expire lazily; expired entries stay physically
// present until the next amortized sweep.
type SummaryCache struct {
	cache   *cache.Cache
	metrics *Metrics
}

// NewSummaryCache creates a cache with the standard 1 hour TTL.
func NewSummaryCache() *SummaryCache {
	return NewSummaryCacheWithTTL(SummaryCacheTTL)
}

// NewSummaryCacheWithTTL creates a cache with a custom TTL. The
// cleanup interval is 0 so no janitor runs; cleanup is amortized into
// Put instead.
func NewSummaryCacheWithTTL(ttl time.Duration) *SummaryCache {
	return &SummaryCache{
		cache: cache.New(ttl, 0),
	}
}

// SetMetrics attaches Prometheus counters (optional, deferred wiring).
func (s *SummaryCache) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Fingerprint derives a stable cache key from a message batch and the
// relevant memory-segment IDs included in the request. IDs are sorted
// before hashing so their ordering never changes the key.
func (s *SummaryCache) Fingerprint(messages []models.Message, memoryIDs []string) string {
	h := sha256.New()
	totalChars := 0

	for _, m := range messages {
		role := byte('a')
		if m.IsUser {
			role = 'u'
		}
		h.Write([]byte{role, ':'})
		h.Write([]byte(m.Text))
		h.Write([]byte{0})
		totalChars += len(m.Text)
	}

	if len(memoryIDs) > 0 {
		sorted := append([]string(nil), memoryIDs...)
		sort.Strings(sorted)
		for _, id := range sorted {
			h.Write([]byte(id))
			h.Write([]byte{0})
		}
	}

	return fmt.Sprintf("%d:%d:%s", len(messages), totalChars, hex.EncodeToString(h.Sum(nil)))
}

// Get returns the cached summary for key. An entry past its TTL is a
// miss; it is evicted by the next sweep, not here.
func (s *SummaryCache) Get(key string) (string, bool) {
	value, found := s.cache.Get(key)
	if !found {
		if s.metrics != nil {
			s.metrics.CacheMisses.Inc()
		}
		return "", false
	}
	summary, ok := value.(string)
	if !ok {
		return "", false
	}
	if s.metrics != nil {
		s.metrics.CacheHits.Inc()
	}
	return summary, true
}

// Put stores a freshly computed summary, sweeping expired entries
// first once the cache has grown past the threshold.
func (s *SummaryCache) Put(key, summary string) {
	if s.cache.ItemCount() > summaryCacheSweepThreshold {
		before := s.cache.ItemCount()
		s.cache.DeleteExpired()
		if removed := before - s.cache.ItemCount(); removed > 0 {
			log.Printf("🧹 [SUMMARY-CACHE] Swept %d expired entries (%d remain)", removed, s.cache.ItemCount())
		}
	}
	s.cache.Set(key, summary, cache.DefaultExpiration)
}

// Len counts stored entries, including expired ones not yet swept.
func (s *SummaryCache) Len() int {
	return s.cache.ItemCount()
}
