package orchestrator

import (
	"math/rand/v2"
	"time"

	"github.com/c360studio/sieve/artifact"
)

// RetryPolicy governs how failed attempts are rescheduled.
type RetryPolicy struct {
	BackoffBase time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration
}

// NextRetryAt computes when the given attempt should be requeued, with
// ±25% jitter so a burst of failures does not requeue in lockstep.
func (p RetryPolicy) NextRetryAt(now time.Time, attempt int) time.Time {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= p.Multiplier
	}

	backoff := time.Duration(float64(p.BackoffBase) * multiplier)
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return now.Add(backoff + time.Duration(jitter))
}

// failurePlan is the decided outcome of a failed attempt.
type failurePlan struct {
	Status      artifact.JobStatus
	NextRetryAt time.Time
}

// planFailure decides whether a failed attempt retries or terminates.
// Structurally non-retryable reason codes fail immediately regardless of
// remaining attempts; exhausting the ceiling records it in the error code.
func planFailure(j *artifact.Job, errorCode string, policy RetryPolicy, now time.Time) failurePlan {
	if artifact.RetryableReason(errorCode) && j.AttemptsRemain() {
		return failurePlan{
			Status:      artifact.JobStatusRetrying,
			NextRetryAt: policy.NextRetryAt(now, j.Attempt),
		}
	}
	return failurePlan{Status: artifact.JobStatusFailed}
}

// nextStage returns the job type that follows a succeeded stage, if any.
func nextStage(t artifact.JobType) (artifact.JobType, bool) {
	if t == artifact.JobTypeNormalize {
		return artifact.JobTypeEvaluate, true
	}
	return "", false
}
