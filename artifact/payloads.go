package artifact

import (
	"encoding/json"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

// Message types for pipeline payloads.
var (
	CreatedType = message.Type{Domain: "sieve", Category: "artifact-created", Version: "v1"}
	TaskType    = message.Type{Domain: "sieve", Category: "task", Version: "v1"}
	ResultType  = message.Type{Domain: "sieve", Category: "job-result", Version: "v1"}
	CancelType  = message.Type{Domain: "sieve", Category: "job-cancel", Version: "v1"}
	RequestType = message.Type{Domain: "sieve", Category: "evaluate-request", Version: "v1"}
)

func init() {
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "sieve",
		Category:    "artifact-created",
		Version:     "v1",
		Description: "Artifact created event from the ingestion collaborator",
		Factory:     func() any { return &CreatedPayload{} },
	})
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "sieve",
		Category:    "task",
		Version:     "v1",
		Description: "Stage task handed to a worker pool",
		Factory:     func() any { return &TaskPayload{} },
	})
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "sieve",
		Category:    "job-result",
		Version:     "v1",
		Description: "Worker completion or failure report",
		Factory:     func() any { return &ResultPayload{} },
	})
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "sieve",
		Category:    "job-cancel",
		Version:     "v1",
		Description: "Operator cancellation request for a queued job",
		Factory:     func() any { return &CancelPayload{} },
	})
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "sieve",
		Category:    "evaluate-request",
		Version:     "v1",
		Description: "Explicit operator request to evaluate one artifact",
		Factory:     func() any { return &EvaluateRequestPayload{} },
	})
}

// CreatedPayload announces a freshly ingested artifact.
type CreatedPayload struct {
	ArtifactID string `json:"artifact_id"`
	SourceID   string `json:"source_id,omitempty"`
}

// Schema returns the message type for CreatedPayload.
func (p *CreatedPayload) Schema() message.Type { return CreatedType }

// Validate validates the payload.
func (p *CreatedPayload) Validate() error {
	if p.ArtifactID == "" {
		return &ValidationError{Field: "artifact_id", Message: "artifact_id is required"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *CreatedPayload) MarshalJSON() ([]byte, error) {
	type Alias CreatedPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *CreatedPayload) UnmarshalJSON(data []byte) error {
	type Alias CreatedPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// TaskPayload is a stage task published to a worker queue. Attempt is echoed
// back in the result so the orchestrator can discard stale reports.
type TaskPayload struct {
	JobID      string  `json:"job_id"`
	JobType    JobType `json:"job_type"`
	ArtifactID string  `json:"artifact_id"`
	Attempt    int     `json:"attempt"`

	// RubricVersion pins evaluate tasks to the version the gate approved.
	RubricVersion string `json:"rubric_version,omitempty"`

	// SoftLimitMs is the stage soft time limit. Workers run the task under a
	// deadline of this duration and report conversion-timeout on expiry; the
	// orchestrator's hard-limit sweeper is the backstop for dead workers.
	SoftLimitMs int64 `json:"soft_limit_ms,omitempty"`
}

// Schema returns the message type for TaskPayload.
func (p *TaskPayload) Schema() message.Type { return TaskType }

// Validate validates the payload.
func (p *TaskPayload) Validate() error {
	if p.JobID == "" {
		return &ValidationError{Field: "job_id", Message: "job_id is required"}
	}
	if !p.JobType.Valid() {
		return &ValidationError{Field: "job_type", Message: "unknown job type"}
	}
	if p.ArtifactID == "" {
		return &ValidationError{Field: "artifact_id", Message: "artifact_id is required"}
	}
	if p.Attempt < 1 {
		return &ValidationError{Field: "attempt", Message: "attempt must be >= 1"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *TaskPayload) MarshalJSON() ([]byte, error) {
	type Alias TaskPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *TaskPayload) UnmarshalJSON(data []byte) error {
	type Alias TaskPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// Result outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// ResultPayload is a worker's report back to the orchestrator. It must be
// safe under at-least-once delivery: the orchestrator treats a report for an
// already-terminal attempt as a no-op.
type ResultPayload struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt"`
	Outcome string `json:"outcome"`

	// NormalizedRef carries the normalize stage side effect.
	NormalizedRef string `json:"normalized_ref,omitempty"`

	// Title is set when normalization recovered a better document title.
	Title string `json:"title,omitempty"`

	// Evaluation carries the evaluate stage side effect.
	Evaluation *Evaluation `json:"evaluation,omitempty"`

	// ErrorCode and Detail describe a failure outcome.
	ErrorCode string `json:"error_code,omitempty"`
	Detail    string `json:"detail,omitempty"`

	// Worker identifies the reporting worker pool, for diagnostics only.
	Worker string `json:"worker,omitempty"`
}

// Schema returns the message type for ResultPayload.
func (p *ResultPayload) Schema() message.Type { return ResultType }

// Validate validates the payload.
func (p *ResultPayload) Validate() error {
	if p.JobID == "" {
		return &ValidationError{Field: "job_id", Message: "job_id is required"}
	}
	if p.Attempt < 1 {
		return &ValidationError{Field: "attempt", Message: "attempt must be >= 1"}
	}
	if p.Outcome != OutcomeSuccess && p.Outcome != OutcomeFailure {
		return &ValidationError{Field: "outcome", Message: "outcome must be success or failure"}
	}
	if p.Outcome == OutcomeFailure && p.ErrorCode == "" {
		return &ValidationError{Field: "error_code", Message: "failure reports require an error code"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *ResultPayload) MarshalJSON() ([]byte, error) {
	type Alias ResultPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *ResultPayload) UnmarshalJSON(data []byte) error {
	type Alias ResultPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// CancelPayload asks the orchestrator to cancel a queued job. Running jobs
// finish naturally; there is no hard cancellation primitive for workers.
type CancelPayload struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

// Schema returns the message type for CancelPayload.
func (p *CancelPayload) Schema() message.Type { return CancelType }

// Validate validates the payload.
func (p *CancelPayload) Validate() error {
	if p.JobID == "" {
		return &ValidationError{Field: "job_id", Message: "job_id is required"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *CancelPayload) MarshalJSON() ([]byte, error) {
	type Alias CancelPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *CancelPayload) UnmarshalJSON(data []byte) error {
	type Alias CancelPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// EvaluateRequestPayload is an explicit operator request to evaluate one
// artifact, optionally under a specific rubric version.
type EvaluateRequestPayload struct {
	ArtifactID    string `json:"artifact_id"`
	RubricVersion string `json:"rubric_version,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// Schema returns the message type for EvaluateRequestPayload.
func (p *EvaluateRequestPayload) Schema() message.Type { return RequestType }

// Validate validates the payload.
func (p *EvaluateRequestPayload) Validate() error {
	if p.ArtifactID == "" {
		return &ValidationError{Field: "artifact_id", Message: "artifact_id is required"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *EvaluateRequestPayload) MarshalJSON() ([]byte, error) {
	type Alias EvaluateRequestPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *EvaluateRequestPayload) UnmarshalJSON(data []byte) error {
	type Alias EvaluateRequestPayload
	return json.Unmarshal(data, (*Alias)(p))
}
