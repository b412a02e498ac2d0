package services

import "errors"

// Error kinds surfaced by the completion client and summarizer. Callers
// distinguish them with errors.Is.
var (
	// ErrMissingAPIKey means the provider credential is absent or a
	// placeholder. Fatal for any completion call; never retried.
	ErrMissingAPIKey = errors.New("completion provider API key missing or placeholder")

	// ErrQuotaExceeded is the provider's distinct quota/hourly-limit
	// status, kept separate so callers can show a specific message.
	ErrQuotaExceeded = errors.New("completion provider quota exceeded")

	// ErrRateLimited means the local summarization rate cap was hit.
	ErrRateLimited = errors.New("summarization rate limit reached")

	// ErrMalformedResponse means the provider answered but the expected
	// fields were missing or unparseable. Treated as failure, never as
	// partial success.
	ErrMalformedResponse = errors.New("malformed completion provider response")

	// ErrNothingToSummarize means the batch held no summarizable
	// content. Callers treat it as a completed no-op, not a failure.
	ErrNothingToSummarize = errors.New("nothing to summarize")
)
