package artifact

import "time"

// JobType identifies the pipeline stage a job executes.
type JobType string

const (
	JobTypeIngest    JobType = "ingest"
	JobTypeNormalize JobType = "normalize"
	JobTypeEvaluate  JobType = "evaluate"
)

// Valid reports whether the job type is one of the known stages.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeIngest, JobTypeNormalize, JobTypeEvaluate:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// CanTransition reports whether the state machine permits from -> to.
// Legal transitions: queued->running, queued->failed (cancel),
// running->succeeded, running->failed, running->retrying, retrying->queued.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusFailed
	case JobStatusRunning:
		return to == JobStatusSucceeded || to == JobStatusFailed || to == JobStatusRetrying
	case JobStatusRetrying:
		return to == JobStatusQueued
	}
	return false
}

// Reason codes recorded on failed or rejected work. User-visible failures
// always carry one of these plus the attempt count, never a bare "failed".
const (
	ReasonInvalidTarget         = "invalid-target"
	ReasonNotReady              = "not-ready"
	ReasonCancelled             = "cancelled"
	ReasonTransientProvider     = "transient-provider-error"
	ReasonMalformedLLMOutput    = "malformed-llm-output"
	ReasonMissingCategoryScore  = "missing-category-score"
	ReasonStorageFailure        = "storage-failure"
	ReasonUnsupportedFormat     = "unsupported-format"
	ReasonConversionTimeout     = "conversion-timeout"
	ReasonStorageError          = "storage-error"
	ReasonHardTimeout           = "hard-timeout"
	ReasonAttemptCeilingReached = "attempt-ceiling-reached"
)

// RetryableReason reports whether a failure reason is worth another attempt.
// Structurally non-retryable reasons fail the job immediately regardless of
// the remaining attempt budget.
func RetryableReason(reason string) bool {
	switch reason {
	case ReasonInvalidTarget, ReasonNotReady, ReasonCancelled, ReasonUnsupportedFormat:
		return false
	}
	return true
}

// Job is one tracked unit of asynchronous work within the
// ingest/normalize/evaluate lifecycle. Jobs are owned exclusively by the
// orchestrator; workers report outcomes but never mutate job identity.
type Job struct {
	ID         string  `json:"id"`
	Type       JobType `json:"type"`
	ArtifactID string  `json:"artifact_id"`
	SourceID   string  `json:"source_id,omitempty"`

	Status JobStatus `json:"status"`

	// Attempt is 1-based and increments each time the task is handed to a
	// worker. Results reported against a stale attempt are ignored.
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"`

	// RubricVersion pins evaluate jobs to the rubric they were gated against.
	RubricVersion string `json:"rubric_version,omitempty"`

	// ErrorCode and ErrorDetail describe the most recent failure.
	ErrorCode   string `json:"error_code,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// AttemptsRemain reports whether the job may be retried after a failure.
func (j *Job) AttemptsRemain() bool {
	return j.Attempt < j.MaxAttempts
}
