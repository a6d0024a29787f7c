package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// InflightClaim marks one evaluation in progress for an (artifact, rubric
// version) pair.
type InflightClaim struct {
	JobID         string    `json:"job_id"`
	RubricVersion string    `json:"rubric_version"`
	ClaimedAt     time.Time `json:"claimed_at"`
}

// inflightKey builds the KV key for one (artifact, rubric version) pair,
// mirroring the evaluation key so a claim guards exactly the evaluation
// record it would produce.
func inflightKey(artifactID, rubricVersion string) (string, error) {
	id, err := ParseEntityID(artifactID)
	if err != nil {
		return "", fmt.Errorf("parse artifact ID: %w", err)
	}
	if rubricVersion == "" {
		return "", fmt.Errorf("rubric version required")
	}
	return id.ID + "." + rubricVersion, nil
}

// AcquireInflight claims the evaluation slot for an (artifact, rubric
// version) pair on behalf of a job. The claim is a KV create, so when two
// evaluators race for the same pair exactly one wins; the loser gets
// ErrAlreadyExists and drops the work.
func (s *Store) AcquireInflight(ctx context.Context, artifactID, rubricVersion, jobID string) error {
	key, err := inflightKey(artifactID, rubricVersion)
	if err != nil {
		return err
	}

	data, err := json.Marshal(InflightClaim{JobID: jobID, RubricVersion: rubricVersion, ClaimedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal inflight claim: %w", err)
	}

	if _, err := s.inflight.Create(ctx, key, data); err != nil {
		if isAlreadyExists(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("acquire inflight claim: %w", err)
	}

	return nil
}

// ReleaseInflight frees the pair's evaluation slot, but only when jobID
// still owns it. A job that lost the acquire race must not be able to free
// the winner's claim, so release reads the claim and deletes at the read
// revision. Releasing an unclaimed slot or one owned by another job is a
// no-op.
func (s *Store) ReleaseInflight(ctx context.Context, artifactID, rubricVersion, jobID string) error {
	key, err := inflightKey(artifactID, rubricVersion)
	if err != nil {
		return err
	}

	entry, err := s.inflight.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("read inflight claim: %w", err)
	}

	var claim InflightClaim
	if err := json.Unmarshal(entry.Value(), &claim); err != nil {
		return fmt.Errorf("unmarshal inflight claim: %w", err)
	}
	if claim.JobID != jobID {
		return nil
	}

	err = s.inflight.Delete(ctx, key, jetstream.LastRevision(entry.Revision()))
	if err != nil && !isNotFound(err) && !isRevisionConflict(err) {
		return fmt.Errorf("release inflight claim: %w", err)
	}

	return nil
}

// GetInflightClaim returns the active claim on an (artifact, rubric version)
// pair, or ErrNotFound when no evaluation is in flight for it.
func (s *Store) GetInflightClaim(ctx context.Context, artifactID, rubricVersion string) (*InflightClaim, error) {
	key, err := inflightKey(artifactID, rubricVersion)
	if err != nil {
		return nil, err
	}

	entry, err := s.inflight.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get inflight claim: %w", err)
	}

	var claim InflightClaim
	if err := json.Unmarshal(entry.Value(), &claim); err != nil {
		return nil, fmt.Errorf("unmarshal inflight claim: %w", err)
	}

	return &claim, nil
}
