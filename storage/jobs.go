package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/sieve/artifact"
)

// CreateJob stores a new job and returns its ID. The job's ID, Status and
// EnqueuedAt are assigned here.
func (s *Store) CreateJob(ctx context.Context, j *artifact.Job) (EntityID, error) {
	id := NewEntityID(EntityTypeJob)
	j.ID = id.String()
	j.Status = artifact.JobStatusQueued
	j.EnqueuedAt = time.Now()
	j.UpdatedAt = j.EnqueuedAt

	data, err := json.Marshal(j)
	if err != nil {
		return EntityID{}, fmt.Errorf("marshal job: %w", err)
	}

	if _, err := s.jobs.Create(ctx, id.ID, data); err != nil {
		return EntityID{}, fmt.Errorf("store job: %w", err)
	}

	return id, nil
}

// GetJob retrieves a job along with its KV revision. The revision feeds
// UpdateJob's compare-and-swap, so concurrent transitions on the same job
// cannot silently overwrite each other.
func (s *Store) GetJob(ctx context.Context, id EntityID) (*artifact.Job, uint64, error) {
	if id.Type != EntityTypeJob {
		return nil, 0, fmt.Errorf("invalid entity type: expected job, got %s", id.Type)
	}

	entry, err := s.jobs.Get(ctx, id.ID)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("get job: %w", err)
	}

	var j artifact.Job
	if err := json.Unmarshal(entry.Value(), &j); err != nil {
		return nil, 0, fmt.Errorf("unmarshal job: %w", err)
	}

	return &j, entry.Revision(), nil
}

// UpdateJob writes a job back at the given revision. Returns
// ErrRevisionConflict when another writer got there first; callers re-read
// and re-decide instead of retrying the same write.
func (s *Store) UpdateJob(ctx context.Context, j *artifact.Job, revision uint64) error {
	id, err := ParseEntityID(j.ID)
	if err != nil {
		return fmt.Errorf("parse job ID: %w", err)
	}

	j.UpdatedAt = time.Now()

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if _, err := s.jobs.Update(ctx, id.ID, data, revision); err != nil {
		if isRevisionConflict(err) {
			return ErrRevisionConflict
		}
		return fmt.Errorf("update job: %w", err)
	}

	return nil
}

// ListJobs returns all stored jobs.
func (s *Store) ListJobs(ctx context.Context) ([]*artifact.Job, error) {
	keys, err := s.jobs.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list job keys: %w", err)
	}

	jobs := make([]*artifact.Job, 0, len(keys))
	for _, key := range keys {
		entry, err := s.jobs.Get(ctx, key)
		if err != nil {
			continue
		}
		var j artifact.Job
		if err := json.Unmarshal(entry.Value(), &j); err != nil {
			continue
		}
		jobs = append(jobs, &j)
	}

	return jobs, nil
}

// ListJobsByArtifact returns all jobs targeting the given artifact.
func (s *Store) ListJobsByArtifact(ctx context.Context, artifactID string) ([]*artifact.Job, error) {
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	matched := jobs[:0]
	for _, j := range jobs {
		if j.ArtifactID == artifactID {
			matched = append(matched, j)
		}
	}
	return matched, nil
}
