package querytag

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/domain"
	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
)

// store is the consumer interface for the tag registry (ISP).
//
//nolint:interfacebloat // registry needs tag + tag error operations
type store interface {
	AddTags(ctx context.Context, rows []db.TagRow, maxAllowedCount int) ([]db.TagRow, error)
	GetTags(ctx context.Context, q db.TagQuery) ([]db.TagRow, error)
	GetTagsVersion(ctx context.Context) (int64, error)
	AssignOperation(ctx context.Context, keys []int64, operationID string) ([]db.TagRow, error)
	CompleteOperation(ctx context.Context, keys []int64) ([]db.TagRow, error)
	UpdateQueryStatus(ctx context.Context, key int64, status int) (db.TagRow, error)
	BeginDeleteTag(ctx context.Context, key, expectedVersion int64) (db.TagRow, error)
	DeleteTagEntry(ctx context.Context, key int64) error
	AddTagError(ctx context.Context, tagKey, watermark int64, code int) (int, bool, error)
	GetTagErrors(ctx context.Context, tagKey int64, limit, offset int) ([]db.TagErrorRow, error)
	DeleteTagErrorBatch(ctx context.Context, tagKey int64, batchSize int) (int64, error)
}

// Repo implements usecase/querytag.Repository.
type Repo struct {
	store store
}

// New creates a tag registry repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// mapErr translates store sentinels into domain errors.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrKeyNotFound):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case errors.Is(err, db.ErrKeyExists):
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	case errors.Is(err, db.ErrLimitExceeded):
		return fmt.Errorf("%w: %w", domain.ErrTagLimitExceeded, err)
	case errors.Is(err, db.ErrConflict):
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	case errors.Is(err, db.ErrUpgradeRequired):
		return fmt.Errorf("%w: %w", domain.ErrUpgradeRequired, err)
	default:
		return err
	}
}

// Add stores descriptors in status Adding.
func (r *Repo) Add(ctx context.Context, descs []domtag.Descriptor, maxAllowedCount int) ([]domtag.Entry, error) {
	rows := make([]db.TagRow, len(descs))
	for i, d := range descs {
		rows[i] = descriptorToRow(d)
	}
	stored, err := r.store.AddTags(ctx, rows, maxAllowedCount)
	if err != nil {
		return nil, mapErr(err)
	}
	return rowsToEntries(stored)
}

// Get returns the entry registered under path.
func (r *Repo) Get(ctx context.Context, path string) (domtag.Entry, error) {
	rows, err := r.store.GetTags(ctx, db.TagQuery{Path: path})
	if err != nil {
		return domtag.Entry{}, mapErr(err)
	}
	if len(rows) == 0 {
		return domtag.Entry{}, domain.ErrNotFound
	}
	return rowToEntry(rows[0])
}

// GetByKeys returns the entries with the given keys; unknown keys are skipped.
func (r *Repo) GetByKeys(ctx context.Context, keys []int64) ([]domtag.Entry, error) {
	if len(keys) == 0 {
		return []domtag.Entry{}, nil
	}
	rows, err := r.store.GetTags(ctx, db.TagQuery{Keys: keys})
	if err != nil {
		return nil, mapErr(err)
	}
	return rowsToEntries(rows)
}

// GetByOperation returns the entries held by a reindex operation.
func (r *Repo) GetByOperation(ctx context.Context, opID uuid.UUID) ([]domtag.Entry, error) {
	rows, err := r.store.GetTags(ctx, db.TagQuery{OperationID: opID.String()})
	if err != nil {
		return nil, mapErr(err)
	}
	return rowsToEntries(rows)
}

// List pages through every entry ordered by key. limit 0 returns all.
func (r *Repo) List(ctx context.Context, limit, offset int) ([]domtag.Entry, error) {
	rows, err := r.store.GetTags(ctx, db.TagQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, mapErr(err)
	}
	return rowsToEntries(rows)
}

// Version returns the tag set version.
func (r *Repo) Version(ctx context.Context) (int64, error) {
	v, err := r.store.GetTagsVersion(ctx)
	return v, mapErr(err)
}

// Assign moves tags to Reindexing under opID and returns those it holds.
func (r *Repo) Assign(ctx context.Context, keys []int64, opID uuid.UUID) ([]domtag.Entry, error) {
	rows, err := r.store.AssignOperation(ctx, keys, opID.String())
	if err != nil {
		return nil, mapErr(err)
	}
	return rowsToEntries(rows)
}

// Complete moves Reindexing tags to Ready.
func (r *Repo) Complete(ctx context.Context, keys []int64) ([]domtag.Entry, error) {
	rows, err := r.store.CompleteOperation(ctx, keys)
	if err != nil {
		return nil, mapErr(err)
	}
	return rowsToEntries(rows)
}

// UpdateQueryStatus sets whether a tag may be queried.
func (r *Repo) UpdateQueryStatus(ctx context.Context, key int64, status domtag.QueryStatus) (domtag.Entry, error) {
	row, err := r.store.UpdateQueryStatus(ctx, key, int(status))
	if err != nil {
		return domtag.Entry{}, mapErr(err)
	}
	return rowToEntry(row)
}

// BeginDelete moves a tag to Deleting if it is unchanged since it was read.
func (r *Repo) BeginDelete(ctx context.Context, e domtag.Entry) (domtag.Entry, error) {
	row, err := r.store.BeginDeleteTag(ctx, e.Key(), e.Version())
	if err != nil {
		return domtag.Entry{}, mapErr(err)
	}
	return rowToEntry(row)
}

// DeleteEntry removes the registry row.
func (r *Repo) DeleteEntry(ctx context.Context, key int64) error {
	return mapErr(r.store.DeleteTagEntry(ctx, key))
}

// AddError records a failed record once and returns the tag's error count.
func (r *Repo) AddError(ctx context.Context, key, watermark int64, code int) (int, bool, error) {
	n, added, err := r.store.AddTagError(ctx, key, watermark, code)
	return n, added, mapErr(err)
}

// Errors pages through a tag's failed records.
func (r *Repo) Errors(ctx context.Context, key int64, limit, offset int) ([]domtag.ErrorRecord, error) {
	rows, err := r.store.GetTagErrors(ctx, key, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]domtag.ErrorRecord, len(rows))
	for i, row := range rows {
		out[i] = domtag.ErrorRecord{TagKey: row.TagKey, Watermark: row.Watermark, Code: row.Code, CreatedAt: row.CreatedAt}
	}
	return out, nil
}

// PurgeErrors removes up to batchSize of a tag's error records.
func (r *Repo) PurgeErrors(ctx context.Context, key int64, batchSize int) (int64, error) {
	n, err := r.store.DeleteTagErrorBatch(ctx, key, batchSize)
	return n, mapErr(err)
}
