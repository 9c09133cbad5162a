package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
)

// store is the consumer interface for metadata blobs (ISP).
type store interface {
	PutMetadata(ctx context.Context, watermark int64, data []byte) error
	GetMetadata(ctx context.Context, watermark int64) ([]byte, error)
	DeleteMetadata(ctx context.Context, watermark int64) error
}

// Repo reads and writes instance metadata as DICOM JSON.
type Repo struct {
	store store
}

// New creates a metadata repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Save stores the raw DICOM JSON of an instance.
func (r *Repo) Save(ctx context.Context, watermark int64, data []byte) error {
	if err := r.store.PutMetadata(ctx, watermark, data); err != nil {
		return fmt.Errorf("save metadata %d: %w", watermark, err)
	}
	return nil
}

// Load reads and decodes the metadata of an instance.
func (r *Repo) Load(ctx context.Context, watermark int64) (*dicom.Dataset, error) {
	data, err := r.store.GetMetadata(ctx, watermark)
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("metadata %d: %w", watermark, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load metadata %d: %w", watermark, err)
	}
	ds, err := dicom.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("decode metadata %d: %w", watermark, err)
	}
	return ds, nil
}

// Delete removes the metadata of an instance.
func (r *Repo) Delete(ctx context.Context, watermark int64) error {
	if err := r.store.DeleteMetadata(ctx, watermark); err != nil {
		return fmt.Errorf("delete metadata %d: %w", watermark, err)
	}
	return nil
}
