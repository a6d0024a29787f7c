package llm

import (
	"math/rand/v2"
	"time"
)

// RetryConfig holds transport-level retry settings for provider requests.
// Stage-level retries (whole evaluate attempts) are the orchestrator's job;
// this layer only smooths over brief network blips.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per request.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible retry defaults for provider requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        15 * time.Second,
	}
}

// Backoff computes the exponential backoff for a 1-based attempt number,
// with +/-25% jitter to avoid synchronized retries.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.BackoffBase) * multiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
