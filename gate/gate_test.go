package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/llm"
	"github.com/c360studio/sieve/rubric"
	"github.com/c360studio/sieve/storage"
)

type fakeStore struct {
	artifacts map[string]*artifact.Artifact
	rubric    *rubric.Rubric
	provider  *llm.ProviderConfig
	inflight  map[string]*storage.InflightClaim
}

func (f *fakeStore) GetArtifact(_ context.Context, id storage.EntityID) (*artifact.Artifact, error) {
	a, ok := f.artifacts[id.String()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) ActiveRubric(context.Context) (*rubric.Rubric, error) {
	if f.rubric == nil {
		return nil, storage.ErrNotFound
	}
	return f.rubric, nil
}

func (f *fakeStore) ActiveProvider(context.Context) (*llm.ProviderConfig, error) {
	if f.provider == nil {
		return nil, storage.ErrNotFound
	}
	return f.provider, nil
}

func (f *fakeStore) GetInflightClaim(_ context.Context, artifactID, rubricVersion string) (*storage.InflightClaim, error) {
	claim, ok := f.inflight[artifactID+"."+rubricVersion]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return claim, nil
}

func readyStore() *fakeStore {
	now := time.Now()
	return &fakeStore{
		artifacts: map[string]*artifact.Artifact{
			"artifact:a1": {
				ID:            "artifact:a1",
				NormalizedRef: "blob:a1/normalized",
				CreatedAt:     now,
				UpdatedAt:     now,
			},
		},
		rubric: &rubric.Rubric{
			Version:    "v3",
			Categories: map[string]rubric.Category{"relevance": {Weight: 1.0}},
		},
		provider: &llm.ProviderConfig{
			Name:     "local",
			Provider: "ollama",
			Model:    "qwen3",
			Enabled:  true,
		},
		inflight: map[string]*storage.InflightClaim{},
	}
}

func newGate(f *fakeStore) *Gate {
	return New(f, f, f, f)
}

func TestCheckReady(t *testing.T) {
	d, err := newGate(readyStore()).Check(context.Background(), "artifact:a1", "")
	require.NoError(t, err)

	assert.True(t, d.Ready)
	assert.Empty(t, d.Reasons)
	assert.Equal(t, "v3", d.RubricVersion)
	assert.Equal(t, "local", d.ProviderName)
}

func TestCheckReportsAllFailedPreconditions(t *testing.T) {
	f := readyStore()
	f.rubric = nil
	f.provider = nil

	d, err := newGate(f).Check(context.Background(), "artifact:missing", "")
	require.NoError(t, err)

	assert.False(t, d.Ready)
	assert.ElementsMatch(t, []string{
		ReasonArtifactNotFound,
		ReasonNoActiveRubric,
		ReasonNoActiveProvider,
	}, d.Reasons)
}

func TestCheckNotNormalized(t *testing.T) {
	f := readyStore()
	f.artifacts["artifact:a1"].NormalizedRef = ""

	d, err := newGate(f).Check(context.Background(), "artifact:a1", "")
	require.NoError(t, err)

	assert.False(t, d.Ready)
	assert.Equal(t, []string{ReasonNotNormalized}, d.Reasons)
	assert.Equal(t, "v3", d.RubricVersion, "rubric still resolved on a not-ready decision")
}

func TestCheckDisabledProviderNotActive(t *testing.T) {
	f := readyStore()
	f.provider.Enabled = false

	d, err := newGate(f).Check(context.Background(), "artifact:a1", "")
	require.NoError(t, err)

	assert.False(t, d.Ready)
	assert.Equal(t, []string{ReasonNoActiveProvider}, d.Reasons)
	assert.Empty(t, d.ProviderName)
}

func TestCheckEvaluationInflight(t *testing.T) {
	f := readyStore()
	f.inflight["artifact:a1.v3"] = &storage.InflightClaim{JobID: "job:j1", RubricVersion: "v3", ClaimedAt: time.Now()}

	d, err := newGate(f).Check(context.Background(), "artifact:a1", "")
	require.NoError(t, err)

	assert.False(t, d.Ready)
	assert.Equal(t, []string{ReasonEvaluationInflight}, d.Reasons)
}

func TestCheckInflightScopedToRubricVersion(t *testing.T) {
	f := readyStore()
	f.inflight["artifact:a1.v3"] = &storage.InflightClaim{JobID: "job:j1", RubricVersion: "v3", ClaimedAt: time.Now()}

	// A request pinned to a different version is not blocked by the
	// evaluation running under the active rubric.
	d, err := newGate(f).Check(context.Background(), "artifact:a1", "v2")
	require.NoError(t, err)

	assert.True(t, d.Ready)
	assert.Empty(t, d.Reasons)

	// Pinning the in-flight version coalesces as before.
	d, err = newGate(f).Check(context.Background(), "artifact:a1", "v3")
	require.NoError(t, err)

	assert.False(t, d.Ready)
	assert.Equal(t, []string{ReasonEvaluationInflight}, d.Reasons)
}

func TestCheckMalformedArtifactID(t *testing.T) {
	d, err := newGate(readyStore()).Check(context.Background(), "not-an-id", "")
	require.NoError(t, err)

	assert.False(t, d.Ready)
	assert.Contains(t, d.Reasons, ReasonArtifactNotFound)
}
