package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"companion/internal/models"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Chat metrics
	ChatRequests       prometheus.Counter
	ChatRequestLatency prometheus.Histogram
	ChatErrors         *prometheus.CounterVec

	// Summarization metrics
	SummarizationRuns    *prometheus.CounterVec
	SummarizationLatency prometheus.Histogram

	// Summary cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics. memory may be nil;
// when present, per-tier segment gauges are registered against it.
func InitMetrics(memory *MemoryService) *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	metrics := &Metrics{
		ChatRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_chat_requests_total",
			Help: "Total number of chat requests processed",
		}),

		ChatRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_chat_request_duration_seconds",
			Help:    "Chat request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for LLM responses
		}),

		ChatErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_chat_errors_total",
			Help: "Total number of chat errors by type",
		}, []string{"error_type"}),

		SummarizationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_summarization_runs_total",
			Help: "Total number of summarization runs by result",
		}, []string{"result"}), // result: "success" or "failure"

		SummarizationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_summarization_duration_seconds",
			Help:    "Summarization latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),

		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_summary_cache_hits_total",
			Help: "Total number of summary cache hits",
		}),

		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_summary_cache_misses_total",
			Help: "Total number of summary cache misses",
		}),
	}

	if memory != nil {
		for _, tier := range []models.MemoryTier{models.TierShortTerm, models.TierMediumTerm, models.TierLongTerm, models.TierCritical} {
			tier := tier
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name:        "companion_memory_segments",
					Help:        "Current number of memory segments by tier",
					ConstLabels: prometheus.Labels{"tier": string(tier)},
				},
				func() float64 {
					return float64(memory.Metrics().CountsByTier[tier])
				},
			))
		}
	}

	globalMetrics = metrics
	return metrics
}
