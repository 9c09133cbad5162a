package indexer

import (
	"context"

	domidx "github.com/kailas-cloud/dicomtags/internal/domain/index"
	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
)

// RowWriter persists the index rows of one instance in a single batch.
type RowWriter interface {
	Write(ctx context.Context, batch domidx.Batch) error
}

// SnapshotSource provides the registry state to index against.
type SnapshotSource interface {
	Snapshot(ctx context.Context, force bool) (domtag.Snapshot, error)
}

// RecordCommitter publishes the rows of a pending instance and marks it created
// in one step. It fails with domain.ErrTagsChanged when the tag set moved past
// batch.TagsVersion, in which case nothing is written.
type RecordCommitter interface {
	Commit(ctx context.Context, batch domidx.Batch) error
}
