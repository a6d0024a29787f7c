// Package gate decides whether an artifact is ready for evaluation. A
// negative decision is a reportable state with reasons, never an error;
// errors are reserved for the store itself misbehaving.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/llm"
	"github.com/c360studio/sieve/rubric"
	"github.com/c360studio/sieve/storage"
)

// Readiness reasons reported on a negative decision.
const (
	ReasonArtifactNotFound   = "artifact not found"
	ReasonNotNormalized      = "artifact not normalized"
	ReasonNoActiveRubric     = "no active rubric"
	ReasonNoActiveProvider   = "no active provider"
	ReasonEvaluationInflight = "evaluation already in flight"
)

// ArtifactGetter loads artifact records.
type ArtifactGetter interface {
	GetArtifact(ctx context.Context, id storage.EntityID) (*artifact.Artifact, error)
}

// RubricSource resolves the active rubric.
type RubricSource interface {
	ActiveRubric(ctx context.Context) (*rubric.Rubric, error)
}

// ProviderSource resolves the active provider config.
type ProviderSource interface {
	ActiveProvider(ctx context.Context) (*llm.ProviderConfig, error)
}

// InflightChecker reports whether an evaluation is already claimed for an
// (artifact, rubric version) pair.
type InflightChecker interface {
	GetInflightClaim(ctx context.Context, artifactID, rubricVersion string) (*storage.InflightClaim, error)
}

// Decision is the outcome of a readiness check. When Ready is false,
// Reasons lists every failed precondition, not just the first.
type Decision struct {
	Ready         bool     `json:"ready"`
	Reasons       []string `json:"reasons,omitempty"`
	RubricVersion string   `json:"rubric_version,omitempty"`
	ProviderName  string   `json:"provider_name,omitempty"`
}

// Gate evaluates readiness preconditions against the store.
type Gate struct {
	artifacts ArtifactGetter
	rubrics   RubricSource
	providers ProviderSource
	inflight  InflightChecker
}

// New creates a gate over the given sources. A *storage.Store satisfies
// all four.
func New(artifacts ArtifactGetter, rubrics RubricSource, providers ProviderSource, inflight InflightChecker) *Gate {
	return &Gate{
		artifacts: artifacts,
		rubrics:   rubrics,
		providers: providers,
		inflight:  inflight,
	}
}

// Check reports whether the artifact can be evaluated right now. All
// preconditions are checked so the caller sees the complete picture in one
// pass. A non-empty rubricVersion pins the check to that version; otherwise
// the active rubric's version applies. The in-flight precondition is scoped
// to the (artifact, rubric version) pair, so a request pinned to a different
// version is not blocked by an evaluation running under the active one.
func (g *Gate) Check(ctx context.Context, artifactID, rubricVersion string) (*Decision, error) {
	d := &Decision{}

	id, idErr := storage.ParseEntityID(artifactID)
	if idErr != nil {
		d.Reasons = append(d.Reasons, ReasonArtifactNotFound)
	} else {
		a, err := g.artifacts.GetArtifact(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			d.Reasons = append(d.Reasons, ReasonArtifactNotFound)
		case err != nil:
			return nil, fmt.Errorf("load artifact: %w", err)
		case !a.Normalized():
			d.Reasons = append(d.Reasons, ReasonNotNormalized)
		}
	}

	r, err := g.rubrics.ActiveRubric(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		d.Reasons = append(d.Reasons, ReasonNoActiveRubric)
	case err != nil:
		return nil, fmt.Errorf("resolve active rubric: %w", err)
	default:
		d.RubricVersion = r.Version
	}

	p, err := g.providers.ActiveProvider(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		d.Reasons = append(d.Reasons, ReasonNoActiveProvider)
	case err != nil:
		return nil, fmt.Errorf("resolve active provider: %w", err)
	case !p.Enabled:
		d.Reasons = append(d.Reasons, ReasonNoActiveProvider)
	default:
		d.ProviderName = p.Name
	}

	version := rubricVersion
	if version == "" {
		version = d.RubricVersion
	}
	if idErr == nil && version != "" {
		_, err := g.inflight.GetInflightClaim(ctx, artifactID, version)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// slot is free
		case err != nil:
			return nil, fmt.Errorf("check inflight claim: %w", err)
		default:
			d.Reasons = append(d.Reasons, ReasonEvaluationInflight)
		}
	}

	d.Ready = len(d.Reasons) == 0
	return d, nil
}
