// Package artifact defines the domain types and wire payloads for the
// harvest-normalize-evaluate pipeline: artifacts, jobs, and the NATS
// messages that move them between components.
package artifact

import (
	"time"
)

// Artifact is one harvested unit of content, the unit of processing.
type Artifact struct {
	// ID uniquely identifies the artifact (entity ID string).
	ID string `json:"id"`

	// SourceID identifies the harvesting source that produced this artifact.
	SourceID string `json:"source_id"`

	// URI is the location the artifact was captured from.
	URI string `json:"uri"`

	// MimeType is the declared content type of the raw capture.
	MimeType string `json:"mime_type"`

	// Title is the human-readable title, if known at capture time.
	Title string `json:"title,omitempty"`

	// RawRef is the opaque blob key of the raw captured content.
	RawRef string `json:"raw_ref"`

	// NormalizedRef is the opaque blob key of the normalized text.
	// Empty until normalization succeeds; set exactly once.
	NormalizedRef string `json:"normalized_ref,omitempty"`

	// EvaluatedAt is when the artifact's evaluation was persisted.
	// Nil until evaluation succeeds; re-evaluation is an explicit user action.
	EvaluatedAt *time.Time `json:"evaluated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Normalized reports whether the artifact has normalized content available.
func (a *Artifact) Normalized() bool {
	return a.NormalizedRef != ""
}

// Evaluation is the durable verdict for one artifact under one rubric version.
type Evaluation struct {
	ArtifactID    string `json:"artifact_id"`
	RubricVersion string `json:"rubric_version"`

	// Label is the triage outcome: Signal, Review, or Noise.
	Label string `json:"label"`

	// TotalScore is the weighted category score in [0, 5].
	TotalScore float64 `json:"total_score"`

	// Confidence is in [0, 1]; either model-reported or variance-derived.
	Confidence float64 `json:"confidence"`

	// CategoryScores holds the raw per-category scores from the model.
	CategoryScores map[string]float64 `json:"category_scores"`

	// Signals is free-text evidence the model cited for its scores.
	Signals []string `json:"signals,omitempty"`

	// Model and Provider record which backend produced the scores,
	// so verdicts stay auditable after provider configuration changes.
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ValidationError represents a payload validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
