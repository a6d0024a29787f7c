// Package storage persists triage entities in NATS JetStream: KV buckets
// for structured records, an object store for raw and normalized content.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// EntityType represents the type of entity stored in KV.
type EntityType string

const (
	EntityTypeArtifact   EntityType = "artifact"
	EntityTypeJob        EntityType = "job"
	EntityTypeEvaluation EntityType = "evaluation"
)

// Bucket names for each store.
const (
	BucketArtifacts   = "SIEVE_ARTIFACTS"
	BucketJobs        = "SIEVE_JOBS"
	BucketEvaluations = "SIEVE_EVALUATIONS"
	BucketRubrics     = "SIEVE_RUBRICS"
	BucketTemplates   = "SIEVE_TEMPLATES"
	BucketProviders   = "SIEVE_PROVIDERS"
	BucketPointers    = "SIEVE_POINTERS"
	BucketInflight    = "SIEVE_INFLIGHT"
)

// BucketBlobs is the object store holding raw and normalized content.
const BucketBlobs = "SIEVE_BLOBS"

// EntityID represents a typed entity identifier.
type EntityID struct {
	Type EntityType
	ID   string
}

// String returns the string representation of the entity ID.
func (e EntityID) String() string {
	return fmt.Sprintf("%s:%s", e.Type, e.ID)
}

// ParseEntityID parses an entity ID string into its components.
func ParseEntityID(s string) (EntityID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return EntityID{}, fmt.Errorf("invalid entity ID format: %s", s)
	}
	entityType := EntityType(parts[0])
	switch entityType {
	case EntityTypeArtifact, EntityTypeJob, EntityTypeEvaluation:
		return EntityID{Type: entityType, ID: parts[1]}, nil
	default:
		return EntityID{}, fmt.Errorf("unknown entity type: %s", parts[0])
	}
}

// NewEntityID generates a new unique entity ID for the given type.
func NewEntityID(t EntityType) EntityID {
	return EntityID{
		Type: t,
		ID:   uuid.New().String(),
	}
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Sieve %s storage", strings.ToLower(strings.TrimPrefix(name, "SIEVE_"))),
		History:     5, // Keep last 5 revisions
	})
}

func getOrCreateObjectStore(ctx context.Context, js jetstream.JetStream, name string) (jetstream.ObjectStore, error) {
	os, err := js.ObjectStore(ctx, name)
	if err == nil {
		return os, nil
	}
	return js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      name,
		Description: "Sieve artifact content",
	})
}
