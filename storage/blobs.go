package storage

import (
	"context"
	"fmt"
	"strings"
)

// Blob name suffixes within an artifact's namespace.
const (
	BlobRaw        = "raw"
	BlobNormalized = "normalized"
)

// blobName builds the object store name for one of an artifact's blobs.
func blobName(artifactID, kind string) (string, error) {
	id, err := ParseEntityID(artifactID)
	if err != nil {
		return "", fmt.Errorf("parse artifact ID: %w", err)
	}
	if kind != BlobRaw && kind != BlobNormalized {
		return "", fmt.Errorf("unknown blob kind: %s", kind)
	}
	return id.ID + "/" + kind, nil
}

// PutBlob stores content for an artifact and returns the reference to put
// on the artifact record.
func (s *Store) PutBlob(ctx context.Context, artifactID, kind string, data []byte) (string, error) {
	name, err := blobName(artifactID, kind)
	if err != nil {
		return "", err
	}

	if _, err := s.blobs.PutBytes(ctx, name, data); err != nil {
		return "", fmt.Errorf("store blob %s: %w", name, err)
	}

	return "blob:" + name, nil
}

// GetBlob retrieves content by the reference stored on an artifact record.
func (s *Store) GetBlob(ctx context.Context, ref string) ([]byte, error) {
	name := strings.TrimPrefix(ref, "blob:")
	if name == "" {
		return nil, fmt.Errorf("empty blob reference")
	}

	data, err := s.blobs.GetBytes(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blob %s: %w", name, err)
	}

	return data, nil
}
