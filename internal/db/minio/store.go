package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

// Compile-time check: Store implements db.MetadataStore.
var _ db.MetadataStore = (*Store)(nil)

// Config holds connection parameters for MinIO or any S3-compatible endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

// Store keeps instance metadata blobs in a bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a MinIO metadata store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return NewStoreWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// PutMetadata writes the metadata blob of one instance.
func (s *Store) PutMetadata(ctx context.Context, watermark int64, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(watermark), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/dicom+json"})
	return db.Wrap(db.OpPutMetadata, err)
}

// GetMetadata reads the metadata blob of one instance.
func (s *Store) GetMetadata(ctx context.Context, watermark int64) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(watermark), minio.GetObjectOptions{})
	if err != nil {
		return nil, db.Wrap(db.OpGetMetadata, mapErr(err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, db.Wrap(db.OpGetMetadata, mapErr(err))
	}
	return data, nil
}

// DeleteMetadata removes the metadata blob of one instance. Missing blobs are ignored.
func (s *Store) DeleteMetadata(ctx context.Context, watermark int64) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(watermark), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return db.Wrap(db.OpDeleteMetadata, err)
	}
	return nil
}

// ObjectKey returns the object name of an instance's metadata blob.
func ObjectKey(prefix string, watermark int64) string {
	return path.Join(prefix, strconv.FormatInt(watermark, 10)+"_metadata.json")
}

func (s *Store) key(watermark int64) string {
	return ObjectKey(s.prefix, watermark)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	default:
		return false
	}
}

func mapErr(err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %w", db.ErrKeyNotFound, err)
	}
	return err
}
