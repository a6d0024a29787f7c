package storage

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Store provides entity storage operations backed by NATS KV and the
// object store.
type Store struct {
	artifacts   jetstream.KeyValue
	jobs        jetstream.KeyValue
	evaluations jetstream.KeyValue
	rubrics     jetstream.KeyValue
	templates   jetstream.KeyValue
	providers   jetstream.KeyValue
	pointers    jetstream.KeyValue
	inflight    jetstream.KeyValue
	blobs       jetstream.ObjectStore
}

// NewStore creates a Store with the given JetStream context, creating the
// KV buckets and the blob store if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	s := &Store{}

	buckets := []struct {
		name string
		kv   *jetstream.KeyValue
	}{
		{BucketArtifacts, &s.artifacts},
		{BucketJobs, &s.jobs},
		{BucketEvaluations, &s.evaluations},
		{BucketRubrics, &s.rubrics},
		{BucketTemplates, &s.templates},
		{BucketProviders, &s.providers},
		{BucketPointers, &s.pointers},
		{BucketInflight, &s.inflight},
	}
	for _, b := range buckets {
		kv, err := getOrCreateBucket(ctx, js, b.name)
		if err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", b.name, err)
		}
		*b.kv = kv
	}

	blobs, err := getOrCreateObjectStore(ctx, js, BucketBlobs)
	if err != nil {
		return nil, fmt.Errorf("create blob store: %w", err)
	}
	s.blobs = blobs

	return s, nil
}
