package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/sieve/artifact"
)

// evaluationKey builds the KV key for one (artifact, rubric version) pair.
// Artifact IDs carry a "artifact:" prefix whose colon is not a legal KV key
// character, so only the raw ID part is used.
func evaluationKey(artifactID, rubricVersion string) (string, error) {
	id, err := ParseEntityID(artifactID)
	if err != nil {
		return "", fmt.Errorf("parse artifact ID: %w", err)
	}
	if rubricVersion == "" {
		return "", fmt.Errorf("rubric version required")
	}
	return id.ID + "." + rubricVersion, nil
}

// PutEvaluation stores an evaluation, keyed by artifact and rubric version.
// Re-evaluating under the same rubric version overwrites the prior record.
func (s *Store) PutEvaluation(ctx context.Context, e *artifact.Evaluation) error {
	key, err := evaluationKey(e.ArtifactID, e.RubricVersion)
	if err != nil {
		return err
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}

	if _, err := s.evaluations.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store evaluation: %w", err)
	}

	return nil
}

// GetEvaluation retrieves the evaluation of an artifact under a specific
// rubric version.
func (s *Store) GetEvaluation(ctx context.Context, artifactID, rubricVersion string) (*artifact.Evaluation, error) {
	key, err := evaluationKey(artifactID, rubricVersion)
	if err != nil {
		return nil, err
	}

	entry, err := s.evaluations.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get evaluation: %w", err)
	}

	var e artifact.Evaluation
	if err := json.Unmarshal(entry.Value(), &e); err != nil {
		return nil, fmt.Errorf("unmarshal evaluation: %w", err)
	}

	return &e, nil
}

// ListEvaluations returns all evaluations for an artifact, one per rubric
// version it was scored under.
func (s *Store) ListEvaluations(ctx context.Context, artifactID string) ([]*artifact.Evaluation, error) {
	id, err := ParseEntityID(artifactID)
	if err != nil {
		return nil, fmt.Errorf("parse artifact ID: %w", err)
	}

	keys, err := s.evaluations.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list evaluation keys: %w", err)
	}

	evals := make([]*artifact.Evaluation, 0)
	for _, key := range keys {
		if !strings.HasPrefix(key, id.ID+".") {
			continue
		}
		entry, err := s.evaluations.Get(ctx, key)
		if err != nil {
			continue
		}
		var e artifact.Evaluation
		if err := json.Unmarshal(entry.Value(), &e); err != nil {
			continue
		}
		evals = append(evals, &e)
	}

	return evals, nil
}
