package models

import (
	"math"
	"time"
)

// MemoryTier classifies how long a memory segment is retained.
type MemoryTier string

const (
	TierShortTerm  MemoryTier = "short_term"
	TierMediumTerm MemoryTier = "medium_term"
	TierLongTerm   MemoryTier = "long_term"
	TierCritical   MemoryTier = "critical"
)

// Per-tier retention ages. Critical segments never expire.
const (
	ShortTermMaxAge  = 24 * time.Hour
	MediumTermMaxAge = 7 * 24 * time.Hour
	LongTermMaxAge   = 30 * 24 * time.Hour
)

// Relevance decay parameters. Decay follows exp(-rate × days since last
// access); access frequency adds up to a 1x boost on top of importance.
const (
	RelevanceDecayRate = 0.05
	AccessBoostMax     = 20
)

// MemorySegment is a single scored, tiered memory extracted from the
// conversation. Mutated only on retrieval (access tracking, promotion)
// and consolidation; destroyed by the expiry sweep or explicit wipe.
type MemorySegment struct {
	ID           string                 `json:"id"`
	Content      string                 `json:"content"`
	Type         MemoryTier             `json:"type"`
	Importance   float64                `json:"importance"`
	CreatedAt    time.Time              `json:"created"`
	LastAccessed time.Time              `json:"lastAccessed"`
	AccessCount  int64                  `json:"accessCount"`
	Topics       []string               `json:"topics,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// MaxAge returns the retention age for the segment's tier, or zero for
// critical segments (no expiry).
func (s *MemorySegment) MaxAge() time.Duration {
	switch s.Type {
	case TierShortTerm:
		return ShortTermMaxAge
	case TierMediumTerm:
		return MediumTermMaxAge
	case TierLongTerm:
		return LongTermMaxAge
	default:
		return 0
	}
}

// IsExpired reports whether the segment has outlived its tier's
// retention age. Critical segments never expire.
func (s *MemorySegment) IsExpired(now time.Time) bool {
	if s.Type == TierCritical {
		return false
	}
	return now.Sub(s.CreatedAt) > s.MaxAge()
}

// RelevanceScore is the derived ranking value:
// importance × timeDecay(lastAccessed) × (1 + accessBoost(accessCount)).
// Never persisted; recomputed on demand.
func (s *MemorySegment) RelevanceScore(now time.Time) float64 {
	reference := s.LastAccessed
	if reference.IsZero() {
		reference = s.CreatedAt
	}
	daysSince := now.Sub(reference).Hours() / 24.0
	if daysSince < 0 {
		daysSince = 0
	}
	decay := math.Exp(-RelevanceDecayRate * daysSince)

	boost := float64(s.AccessCount) / float64(AccessBoostMax)
	if boost > 1.0 {
		boost = 1.0
	}

	return s.Importance * decay * (1.0 + boost)
}

// MemoryConfig is an immutable bundle of memory-management thresholds.
// "Updates" produce a new value via the With... helpers; a config is
// never mutated in place.
type MemoryConfig struct {
	Preset string `json:"preset"`

	// Tier capacities enforced during consolidation.
	MaxShortTerm  int `json:"maxShortTerm"`
	MaxMediumTerm int `json:"maxMediumTerm"`
	MaxLongTerm   int `json:"maxLongTerm"`
	MaxCritical   int `json:"maxCritical"`

	// Importance cutoffs, strictly descending:
	// critical > long-term > medium-term > minimum.
	CriticalThreshold    float64 `json:"criticalThreshold"`
	LongTermThreshold    float64 `json:"longTermThreshold"`
	MediumTermThreshold  float64 `json:"mediumTermThreshold"`
	MinMessageImportance float64 `json:"minMessageImportance"`

	// Messages shorter than this are never persisted as segments.
	MinMessageLength int `json:"minMessageLength"`

	ConsolidationInterval time.Duration `json:"consolidationInterval"`
	AutoConsolidate       bool          `json:"autoConsolidate"`

	// CompressContext trims the summarizer transcript budget to save
	// provider tokens.
	CompressContext bool `json:"compressContext"`

	// Extra keywords that raise a message's importance score.
	PriorityKeywords []string `json:"priorityKeywords,omitempty"`
}

// StandardMemoryConfig is the default preset.
func StandardMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Preset:                "standard",
		MaxShortTerm:          50,
		MaxMediumTerm:         30,
		MaxLongTerm:           20,
		MaxCritical:           10,
		CriticalThreshold:     0.9,
		LongTermThreshold:     0.7,
		MediumTermThreshold:   0.4,
		MinMessageImportance:  0.2,
		MinMessageLength:      10,
		ConsolidationInterval: 6 * time.Hour,
		AutoConsolidate:       true,
		CompressContext:       false,
	}
}

// MinimalMemoryConfig keeps only a small set of high-importance segments.
func MinimalMemoryConfig() MemoryConfig {
	cfg := StandardMemoryConfig()
	cfg.Preset = "minimal"
	cfg.MaxShortTerm = 20
	cfg.MaxMediumTerm = 10
	cfg.MaxLongTerm = 5
	cfg.MaxCritical = 5
	cfg.MinMessageImportance = 0.4
	cfg.MinMessageLength = 20
	return cfg
}

// ComprehensiveMemoryConfig retains far more segments with lower cutoffs.
func ComprehensiveMemoryConfig() MemoryConfig {
	cfg := StandardMemoryConfig()
	cfg.Preset = "comprehensive"
	cfg.MaxShortTerm = 100
	cfg.MaxMediumTerm = 60
	cfg.MaxLongTerm = 40
	cfg.MaxCritical = 20
	cfg.MediumTermThreshold = 0.3
	cfg.MinMessageImportance = 0.1
	cfg.MinMessageLength = 5
	cfg.ConsolidationInterval = 12 * time.Hour
	return cfg
}

// TokenEfficientMemoryConfig mirrors the standard preset but compresses
// the summarizer context to reduce provider token spend.
func TokenEfficientMemoryConfig() MemoryConfig {
	cfg := StandardMemoryConfig()
	cfg.Preset = "token_efficient"
	cfg.MaxShortTerm = 30
	cfg.MaxMediumTerm = 20
	cfg.MaxLongTerm = 15
	cfg.CompressContext = true
	return cfg
}

// MemoryConfigPreset resolves a preset by name, falling back to standard.
func MemoryConfigPreset(name string) MemoryConfig {
	switch name {
	case "minimal":
		return MinimalMemoryConfig()
	case "comprehensive":
		return ComprehensiveMemoryConfig()
	case "token_efficient", "token-efficient":
		return TokenEfficientMemoryConfig()
	default:
		return StandardMemoryConfig()
	}
}

// WithPriorityKeywords returns a copy of the config with the given
// priority keywords set.
func (c MemoryConfig) WithPriorityKeywords(keywords []string) MemoryConfig {
	c.PriorityKeywords = append([]string(nil), keywords...)
	return c
}

// WithAutoConsolidate returns a copy with auto-consolidation toggled.
func (c MemoryConfig) WithAutoConsolidate(enabled bool) MemoryConfig {
	c.AutoConsolidate = enabled
	return c
}

// MemoryMetrics is a read-only, derived view over the segment
// collection, exposed for observability.
type MemoryMetrics struct {
	TotalSegments     int                `json:"total_segments"`
	CountsByTier      map[MemoryTier]int `json:"counts_by_tier"`
	AverageImportance float64            `json:"average_importance"`
	TotalAccessCount  int64              `json:"total_access_count"`
}
