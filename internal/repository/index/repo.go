package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/domain"
	domidx "github.com/kailas-cloud/dicomtags/internal/domain/index"
	"github.com/kailas-cloud/dicomtags/internal/domain/valuetype"
)

// store is the consumer interface for index rows (ISP).
type store interface {
	InsertIndexRows(ctx context.Context, batch db.IndexBatch) error
	DeleteIndexRowBatch(ctx context.Context, tagKey int64, partition db.Partition, batchSize int) (int64, error)
}

// Repo implements the index row writer used by the indexer and the registry.
type Repo struct {
	store store
}

// New creates an index row repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Partition returns the physical partition of a category.
func Partition(c valuetype.Category) db.Partition {
	switch c {
	case valuetype.String:
		return db.PartitionString
	case valuetype.Integer:
		return db.PartitionLong
	case valuetype.Float:
		return db.PartitionDouble
	case valuetype.DateTime:
		return db.PartitionDateTime
	case valuetype.StructuredName:
		return db.PartitionPersonName
	default:
		panic(fmt.Sprintf("index: no partition for category %d", int(c)))
	}
}

func rowToDB(r domidx.Row) db.IndexRow {
	out := db.IndexRow{
		TagKey:      r.TagKey,
		Level:       int(r.Level),
		Partition:   Partition(r.Category),
		StudyKey:    r.Keys.Study,
		SeriesKey:   r.Keys.Series,
		InstanceKey: r.Keys.Instance,
		Watermark:   r.Watermark,
	}
	switch r.Category {
	case valuetype.String:
		out.Text = r.String
	case valuetype.Integer:
		out.Int = r.Int
	case valuetype.Float:
		out.Float = r.Float
	case valuetype.DateTime:
		out.Time = r.Time
	case valuetype.StructuredName:
		out.Text = r.Name
	}
	return out
}

// BatchToDB converts the rows of one instance to their stored form.
func BatchToDB(batch domidx.Batch) db.IndexBatch {
	rows := make([]db.IndexRow, len(batch.Rows))
	for i, row := range batch.Rows {
		rows[i] = rowToDB(row)
	}
	return db.IndexBatch{Watermark: batch.Watermark, TagsVersion: batch.TagsVersion, Rows: rows}
}

// Write stores every row of one instance atomically.
func (r *Repo) Write(ctx context.Context, batch domidx.Batch) error {
	err := r.store.InsertIndexRows(ctx, BatchToDB(batch))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrTagsVersionMismatch):
		return fmt.Errorf("%w: %w", domain.ErrTagsChanged, err)
	case errors.Is(err, db.ErrUpgradeRequired):
		return fmt.Errorf("%w: %w", domain.ErrUpgradeRequired, err)
	default:
		return fmt.Errorf("write index rows for watermark %d: %w", batch.Watermark, err)
	}
}

// Purge removes up to batchSize rows of a tag and returns how many were removed.
func (r *Repo) Purge(ctx context.Context, tagKey int64, c valuetype.Category, batchSize int) (int64, error) {
	n, err := r.store.DeleteIndexRowBatch(ctx, tagKey, Partition(c), batchSize)
	if err != nil {
		return 0, fmt.Errorf("purge tag %d: %w", tagKey, err)
	}
	return n, nil
}
