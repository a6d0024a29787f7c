package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360studio/sieve/artifact"
)

func TestNextRetryAtGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{BackoffBase: time.Second, Multiplier: 2, MaxBackoff: 4 * time.Second}
	now := time.Now()

	for attempt, base := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		5: 4 * time.Second, // capped
	} {
		at := p.NextRetryAt(now, attempt)
		delay := at.Sub(now)
		assert.GreaterOrEqual(t, delay, base*3/4, "attempt %d", attempt)
		assert.LessOrEqual(t, delay, base*5/4, "attempt %d", attempt)
	}
}

func TestPlanFailure(t *testing.T) {
	policy := RetryPolicy{BackoffBase: time.Second, Multiplier: 2, MaxBackoff: time.Minute}
	now := time.Now()

	tests := []struct {
		name    string
		attempt int
		max     int
		code    string
		want    artifact.JobStatus
	}{
		{"retryable with attempts left", 1, 3, artifact.ReasonStorageError, artifact.JobStatusRetrying},
		{"retryable at ceiling", 3, 3, artifact.ReasonStorageError, artifact.JobStatusFailed},
		{"invalid target never retries", 1, 3, artifact.ReasonInvalidTarget, artifact.JobStatusFailed},
		{"cancelled never retries", 1, 3, artifact.ReasonCancelled, artifact.JobStatusFailed},
		{"unsupported format never retries", 1, 3, artifact.ReasonUnsupportedFormat, artifact.JobStatusFailed},
		{"hard timeout retries", 2, 3, artifact.ReasonHardTimeout, artifact.JobStatusRetrying},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &artifact.Job{Attempt: tt.attempt, MaxAttempts: tt.max}
			plan := planFailure(j, tt.code, policy, now)
			assert.Equal(t, tt.want, plan.Status)
			if tt.want == artifact.JobStatusRetrying {
				assert.True(t, plan.NextRetryAt.After(now))
			}
		})
	}
}

func TestNextStage(t *testing.T) {
	next, ok := nextStage(artifact.JobTypeNormalize)
	assert.True(t, ok)
	assert.Equal(t, artifact.JobTypeEvaluate, next)

	_, ok = nextStage(artifact.JobTypeEvaluate)
	assert.False(t, ok)
}
