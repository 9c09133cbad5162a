package querytag

import (
	"context"

	"github.com/google/uuid"

	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	"github.com/kailas-cloud/dicomtags/internal/domain/valuetype"
)

// Repository defines the storage contract for the tag registry.
//
//nolint:interfacebloat // registry lifecycle + tag errors
type Repository interface {
	Add(ctx context.Context, descs []domtag.Descriptor, maxAllowedCount int) ([]domtag.Entry, error)
	Get(ctx context.Context, path string) (domtag.Entry, error)
	GetByKeys(ctx context.Context, keys []int64) ([]domtag.Entry, error)
	GetByOperation(ctx context.Context, opID uuid.UUID) ([]domtag.Entry, error)
	List(ctx context.Context, limit, offset int) ([]domtag.Entry, error)
	Version(ctx context.Context) (int64, error)
	Assign(ctx context.Context, keys []int64, opID uuid.UUID) ([]domtag.Entry, error)
	Complete(ctx context.Context, keys []int64) ([]domtag.Entry, error)
	UpdateQueryStatus(ctx context.Context, key int64, status domtag.QueryStatus) (domtag.Entry, error)
	BeginDelete(ctx context.Context, e domtag.Entry) (domtag.Entry, error)
	DeleteEntry(ctx context.Context, key int64) error
	AddError(ctx context.Context, key, watermark int64, code int) (int, bool, error)
	Errors(ctx context.Context, key int64, limit, offset int) ([]domtag.ErrorRecord, error)
	PurgeErrors(ctx context.Context, key int64, batchSize int) (int64, error)
}

// IndexPurger removes the index rows of a tag.
type IndexPurger interface {
	Purge(ctx context.Context, tagKey int64, c valuetype.Category, batchSize int) (int64, error)
}
