package memory

import (
	"context"
	"sync"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

var _ db.MetadataStore = (*MetadataStore)(nil)

// MetadataStore keeps metadata blobs in process.
type MetadataStore struct {
	mu    sync.RWMutex
	blobs map[int64][]byte
}

// NewMetadataStore creates an empty blob store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{blobs: make(map[int64][]byte)}
}

// Ping always succeeds.
func (m *MetadataStore) Ping(_ context.Context) error { return nil }

// PutMetadata stores a copy of data.
func (m *MetadataStore) PutMetadata(_ context.Context, watermark int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[watermark] = append([]byte(nil), data...)
	return nil
}

// GetMetadata returns a copy of the stored blob.
func (m *MetadataStore) GetMetadata(_ context.Context, watermark int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[watermark]
	if !ok {
		return nil, db.Wrap(db.OpGetMetadata, db.ErrKeyNotFound)
	}
	return append([]byte(nil), data...), nil
}

// DeleteMetadata removes a blob if present.
func (m *MetadataStore) DeleteMetadata(_ context.Context, watermark int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, watermark)
	return nil
}
