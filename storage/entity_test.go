package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityIDRoundTrip(t *testing.T) {
	id := NewEntityID(EntityTypeArtifact)
	assert.Equal(t, EntityTypeArtifact, id.Type)
	assert.NotEmpty(t, id.ID)

	parsed, err := ParseEntityID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseEntityID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    EntityID
		wantErr bool
	}{
		{
			name:  "artifact",
			input: "artifact:abc-123",
			want:  EntityID{Type: EntityTypeArtifact, ID: "abc-123"},
		},
		{
			name:  "job",
			input: "job:def-456",
			want:  EntityID{Type: EntityTypeJob, ID: "def-456"},
		},
		{
			name:    "missing separator",
			input:   "artifact",
			wantErr: true,
		},
		{
			name:    "empty id part",
			input:   "artifact:",
			wantErr: true,
		},
		{
			name:    "unknown type",
			input:   "widget:abc",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntityID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluationKey(t *testing.T) {
	key, err := evaluationKey("artifact:abc-123", "v2")
	require.NoError(t, err)
	assert.Equal(t, "abc-123.v2", key)

	_, err = evaluationKey("abc-123", "v2")
	require.Error(t, err, "unprefixed ID rejected")

	_, err = evaluationKey("artifact:abc-123", "")
	require.Error(t, err, "empty rubric version rejected")
}

func TestBlobName(t *testing.T) {
	name, err := blobName("artifact:abc-123", BlobRaw)
	require.NoError(t, err)
	assert.Equal(t, "abc-123/raw", name)

	_, err = blobName("artifact:abc-123", "thumbnail")
	require.Error(t, err)
}
