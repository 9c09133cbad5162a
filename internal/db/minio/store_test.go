package minio

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "metadata/42_metadata.json", ObjectKey("metadata", 42))
	assert.Equal(t, "metadata/42_metadata.json", ObjectKey("metadata/", 42))
	assert.Equal(t, "7_metadata.json", ObjectKey("", 7))
}

func TestMapErr(t *testing.T) {
	notFound := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	assert.ErrorIs(t, mapErr(notFound), db.ErrKeyNotFound)

	denied := minio.ErrorResponse{Code: "AccessDenied"}
	err := mapErr(denied)
	assert.False(t, errors.Is(err, db.ErrKeyNotFound))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(Config{Bucket: "b"})
	require.Error(t, err)
	_, err = NewStore(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
}

// TestStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestStore_Integration(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}
	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	s := NewStoreWithClient(client, "test-dicomtags", "metadata")
	require.NoError(t, s.EnsureBucket(ctx))

	data := []byte(`{"00100010":{"vr":"PN","Value":[{"Alphabetic":"Doe^John"}]}}`)
	require.NoError(t, s.PutMetadata(ctx, 11, data))

	got, err := s.GetMetadata(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, s.DeleteMetadata(ctx, 11))
	require.NoError(t, s.DeleteMetadata(ctx, 11))

	_, err = s.GetMetadata(ctx, 11)
	assert.ErrorIs(t, err, db.ErrKeyNotFound)
}
