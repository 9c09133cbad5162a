package querytag

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	addTagsFn           func(ctx context.Context, rows []db.TagRow, maxCount int) ([]db.TagRow, error)
	getTagsFn           func(ctx context.Context, q db.TagQuery) ([]db.TagRow, error)
	getTagsVersionFn    func(ctx context.Context) (int64, error)
	assignFn            func(ctx context.Context, keys []int64, opID string) ([]db.TagRow, error)
	completeFn          func(ctx context.Context, keys []int64) ([]db.TagRow, error)
	updateQueryStatusFn func(ctx context.Context, key int64, status int) (db.TagRow, error)
	beginDeleteFn       func(ctx context.Context, key, version int64) (db.TagRow, error)
	deleteEntryFn       func(ctx context.Context, key int64) error
	addTagErrorFn       func(ctx context.Context, key, watermark int64, code int) (int, bool, error)
	getTagErrorsFn      func(ctx context.Context, key int64, limit, offset int) ([]db.TagErrorRow, error)
	deleteErrorsFn      func(ctx context.Context, key int64, batchSize int) (int64, error)
}

func (m *mockStore) AddTags(ctx context.Context, rows []db.TagRow, maxCount int) ([]db.TagRow, error) {
	if m.addTagsFn != nil {
		return m.addTagsFn(ctx, rows, maxCount)
	}
	return rows, nil
}

func (m *mockStore) GetTags(ctx context.Context, q db.TagQuery) ([]db.TagRow, error) {
	if m.getTagsFn != nil {
		return m.getTagsFn(ctx, q)
	}
	return nil, nil
}

func (m *mockStore) GetTagsVersion(ctx context.Context) (int64, error) {
	if m.getTagsVersionFn != nil {
		return m.getTagsVersionFn(ctx)
	}
	return 0, nil
}

func (m *mockStore) AssignOperation(ctx context.Context, keys []int64, opID string) ([]db.TagRow, error) {
	if m.assignFn != nil {
		return m.assignFn(ctx, keys, opID)
	}
	return nil, nil
}

func (m *mockStore) CompleteOperation(ctx context.Context, keys []int64) ([]db.TagRow, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, keys)
	}
	return nil, nil
}

func (m *mockStore) UpdateQueryStatus(ctx context.Context, key int64, status int) (db.TagRow, error) {
	if m.updateQueryStatusFn != nil {
		return m.updateQueryStatusFn(ctx, key, status)
	}
	return db.TagRow{}, nil
}

func (m *mockStore) BeginDeleteTag(ctx context.Context, key, version int64) (db.TagRow, error) {
	if m.beginDeleteFn != nil {
		return m.beginDeleteFn(ctx, key, version)
	}
	return db.TagRow{}, nil
}

func (m *mockStore) DeleteTagEntry(ctx context.Context, key int64) error {
	if m.deleteEntryFn != nil {
		return m.deleteEntryFn(ctx, key)
	}
	return nil
}

func (m *mockStore) AddTagError(ctx context.Context, key, watermark int64, code int) (int, bool, error) {
	if m.addTagErrorFn != nil {
		return m.addTagErrorFn(ctx, key, watermark, code)
	}
	return 0, false, nil
}

func (m *mockStore) GetTagErrors(ctx context.Context, key int64, limit, offset int) ([]db.TagErrorRow, error) {
	if m.getTagErrorsFn != nil {
		return m.getTagErrorsFn(ctx, key, limit, offset)
	}
	return nil, nil
}

func (m *mockStore) DeleteTagErrorBatch(ctx context.Context, key int64, batchSize int) (int64, error) {
	if m.deleteErrorsFn != nil {
		return m.deleteErrorsFn(ctx, key, batchSize)
	}
	return 0, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms), ms
}

func testRow() db.TagRow {
	return db.TagRow{
		Key:         7,
		Path:        "00181000",
		VR:          "LO",
		Level:       2,
		Status:      1,
		QueryStatus: 1,
		OperationID: "5b0f6c0e-2f7b-4c44-9a4d-3f0c5d9e8a10",
		Version:     4,
		CreatedAt:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}
