package reindex

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	dominst "github.com/kailas-cloud/dicomtags/internal/domain/instance"
	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	domop "github.com/kailas-cloud/dicomtags/internal/domain/reindex"
	"github.com/kailas-cloud/dicomtags/internal/usecase/indexer"
)

// Registry is the part of the tag registry the orchestrator drives.
type Registry interface {
	GetByKeys(ctx context.Context, keys []int64) ([]domtag.Entry, error)
	GetByOperation(ctx context.Context, opID uuid.UUID) ([]domtag.Entry, error)
	AssignReindexOperation(ctx context.Context, keys []int64, opID uuid.UUID) ([]domtag.Entry, error)
	CompleteReindexing(ctx context.Context, keys []int64) ([]domtag.Entry, error)
	RecordError(ctx context.Context, key, watermark int64, code int) error
}

// OperationRepository persists the operation queue.
type OperationRepository interface {
	Create(ctx context.Context, op domop.Operation) (domop.Operation, error)
	Get(ctx context.Context, id uuid.UUID) (domop.Operation, error)
	List(ctx context.Context, statuses ...domop.Status) ([]domop.Operation, error)
	Update(ctx context.Context, op domop.Operation) (domop.Operation, error)
}

// InstanceSource enumerates stored instances by watermark.
type InstanceSource interface {
	AtOrBelow(ctx context.Context, watermark int64, limit int) ([]dominst.Instance, error)
	MaxWatermark(ctx context.Context) (int64, error)
}

// MetadataLoader reads the stored metadata of an instance.
type MetadataLoader interface {
	Load(ctx context.Context, watermark int64) (*dicom.Dataset, error)
}

// Indexer writes index rows for one instance.
type Indexer interface {
	Index(ctx context.Context, inst dominst.Instance, ds *dicom.Dataset, entries []domtag.Entry, mode indexer.Mode) (indexer.Result, error)
}

// Leaser grants one worker at a time the right to run an operation.
type Leaser interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}
