package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/sieve/artifact"
)

// CreateArtifact stores a new artifact and returns its ID. The artifact's
// ID, CreatedAt and UpdatedAt are assigned here.
func (s *Store) CreateArtifact(ctx context.Context, a *artifact.Artifact) (EntityID, error) {
	id := NewEntityID(EntityTypeArtifact)
	a.ID = id.String()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt

	data, err := json.Marshal(a)
	if err != nil {
		return EntityID{}, fmt.Errorf("marshal artifact: %w", err)
	}

	if _, err := s.artifacts.Create(ctx, id.ID, data); err != nil {
		if isAlreadyExists(err) {
			return EntityID{}, ErrAlreadyExists
		}
		return EntityID{}, fmt.Errorf("store artifact: %w", err)
	}

	return id, nil
}

// GetArtifact retrieves an artifact by ID.
func (s *Store) GetArtifact(ctx context.Context, id EntityID) (*artifact.Artifact, error) {
	if id.Type != EntityTypeArtifact {
		return nil, fmt.Errorf("invalid entity type: expected artifact, got %s", id.Type)
	}

	entry, err := s.artifacts.Get(ctx, id.ID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}

	var a artifact.Artifact
	if err := json.Unmarshal(entry.Value(), &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}

	return &a, nil
}

// UpdateArtifact overwrites an existing artifact, refreshing UpdatedAt.
func (s *Store) UpdateArtifact(ctx context.Context, a *artifact.Artifact) error {
	id, err := ParseEntityID(a.ID)
	if err != nil {
		return fmt.Errorf("parse artifact ID: %w", err)
	}

	a.UpdatedAt = time.Now()

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	if _, err := s.artifacts.Put(ctx, id.ID, data); err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}

	return nil
}

// ListArtifacts returns all stored artifacts.
func (s *Store) ListArtifacts(ctx context.Context) ([]*artifact.Artifact, error) {
	keys, err := s.artifacts.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list artifact keys: %w", err)
	}

	artifacts := make([]*artifact.Artifact, 0, len(keys))
	for _, key := range keys {
		entry, err := s.artifacts.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var a artifact.Artifact
		if err := json.Unmarshal(entry.Value(), &a); err != nil {
			continue
		}
		artifacts = append(artifacts, &a)
	}

	return artifacts, nil
}
