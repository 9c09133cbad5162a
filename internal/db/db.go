package db

import (
	"context"
	"time"
)

// Store is the persistence facade used by repositories.
//
//nolint:interfacebloat // consumers depend on the narrow sub-interfaces
type Store interface {
	Pinger
	SchemaVersioner
	TagStore
	TagErrorStore
	IndexStore
	InstanceStore
	OperationStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaVersioner reports the schema version currently applied to the database.
type SchemaVersioner interface {
	SchemaVersion(ctx context.Context) (int, error)
}

// TagRow is the stored form of an extended query tag.
type TagRow struct {
	Key            int64
	Path           string
	VR             string
	PrivateCreator string
	Level          int
	Status         int
	QueryStatus    int
	ErrorCount     int
	OperationID    string
	Version        int64
	CreatedAt      time.Time
}

// TagQuery selects tags. At most one of Path, Keys and OperationID is set;
// none selects every tag ordered by key.
type TagQuery struct {
	Path        string
	Keys        []int64
	OperationID string
	Limit       int
	Offset      int
}

// TagStore persists the tag registry. Status transitions are conditional updates;
// they are the only serialization point between registry, ingestion and backfill.
type TagStore interface {
	// AddTags inserts rows in status Adding and returns them with keys assigned.
	// Fails with ErrLimitExceeded when the registry would exceed maxAllowedCount
	// and ErrKeyExists when a path is already registered.
	AddTags(ctx context.Context, rows []TagRow, maxAllowedCount int) ([]TagRow, error)
	GetTags(ctx context.Context, q TagQuery) ([]TagRow, error)
	// GetTagsVersion returns a counter that grows on every change to the registry.
	GetTagsVersion(ctx context.Context) (int64, error)
	// AssignOperation moves Adding tags, and tags already owned by operationID, to Reindexing.
	// Tags held by another operation or in another state are left out of the result.
	AssignOperation(ctx context.Context, keys []int64, operationID string) ([]TagRow, error)
	// CompleteOperation moves Reindexing tags to Ready and clears their operation.
	CompleteOperation(ctx context.Context, keys []int64) ([]TagRow, error)
	UpdateQueryStatus(ctx context.Context, key int64, status int) (TagRow, error)
	// BeginDeleteTag moves a tag to Deleting if its version still equals expectedVersion.
	BeginDeleteTag(ctx context.Context, key, expectedVersion int64) (TagRow, error)
	DeleteTagEntry(ctx context.Context, key int64) error
}

// TagErrorRow records one record that failed indexing for a tag.
type TagErrorRow struct {
	TagKey    int64
	Watermark int64
	Code      int
	CreatedAt time.Time
}

// TagErrorStore persists per-record indexing failures.
type TagErrorStore interface {
	// AddTagError stores the failure once per (tag, watermark) and returns the tag's error count.
	AddTagError(ctx context.Context, tagKey, watermark int64, code int) (count int, added bool, err error)
	GetTagErrors(ctx context.Context, tagKey int64, limit, offset int) ([]TagErrorRow, error)
	DeleteTagErrorBatch(ctx context.Context, tagKey int64, batchSize int) (int64, error)
}

// Partition names one physical index table.
type Partition string

// Index partitions.
const (
	PartitionString     Partition = "string"
	PartitionLong       Partition = "long"
	PartitionDouble     Partition = "double"
	PartitionDateTime   Partition = "datetime"
	PartitionPersonName Partition = "person_name"
)

// Partitions lists every index partition.
var Partitions = []Partition{
	PartitionString, PartitionLong, PartitionDouble, PartitionDateTime, PartitionPersonName,
}

// IndexRow is one stored index value. Text serves the string and person name partitions.
type IndexRow struct {
	TagKey      int64
	Level       int
	Partition   Partition
	StudyKey    int64
	SeriesKey   int64
	InstanceKey int64
	Watermark   int64
	Text        string
	Int         int64
	Float       float64
	Time        time.Time
}

// IndexBatch is every row of one instance, written atomically.
type IndexBatch struct {
	Watermark   int64
	TagsVersion int64
	Rows        []IndexRow
}

// IndexStore persists index rows.
type IndexStore interface {
	// InsertIndexRows upserts rows by (tag, study, series, instance) keeping the row with the
	// highest watermark. A non-zero TagsVersion that no longer matches fails with ErrTagsVersionMismatch.
	InsertIndexRows(ctx context.Context, batch IndexBatch) error
	// DeleteIndexRowBatch removes up to batchSize rows of tagKey from partition.
	DeleteIndexRowBatch(ctx context.Context, tagKey int64, partition Partition, batchSize int) (int64, error)
}

// Instance states.
const (
	InstancePending = 0
	InstanceCreated = 1
)

// InstanceRow is one stored instance with its assigned watermark.
type InstanceRow struct {
	Watermark   int64
	StudyKey    int64
	SeriesKey   int64
	InstanceKey int64
	StudyUID    string
	SeriesUID   string
	SOPUID      string
	Status      int
	CreatedAt   time.Time
}

// InstanceStore assigns watermarks and enumerates stored instances.
type InstanceStore interface {
	// BeginInstance assigns a new watermark to a pending instance.
	BeginInstance(ctx context.Context, studyUID, seriesUID, sopUID string) (InstanceRow, error)
	// CommitInstance upserts the rows of batch and marks instance batch.Watermark
	// created in one transaction. A non-zero TagsVersion that no longer matches fails
	// with ErrTagsVersionMismatch, writes nothing and leaves the instance pending.
	CommitInstance(ctx context.Context, batch IndexBatch) error
	// AbortInstance removes a pending instance. Pending instances own no index rows.
	AbortInstance(ctx context.Context, watermark int64) error
	// InstancesAtOrBelow returns created instances with watermark <= watermark, highest first.
	InstancesAtOrBelow(ctx context.Context, watermark int64, limit int) ([]InstanceRow, error)
	MaxWatermark(ctx context.Context) (int64, error)
}

// OperationRow is the stored form of a reindex operation.
type OperationRow struct {
	ID         string
	Status     string
	Checkpoint []byte
	Attempts   int
	Failure    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    int64
}

// OperationStore persists the reindex operation queue.
type OperationStore interface {
	CreateOperation(ctx context.Context, row OperationRow) (OperationRow, error)
	GetOperation(ctx context.Context, id string) (OperationRow, error)
	// ListOperations returns operations in any of statuses, oldest first.
	ListOperations(ctx context.Context, statuses []string) ([]OperationRow, error)
	// UpdateOperation writes row if the stored version equals row.Version, else ErrConflict.
	UpdateOperation(ctx context.Context, row OperationRow) (OperationRow, error)
}

// LeaseStore grants time-limited exclusive ownership of a key.
type LeaseStore interface {
	Pinger
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
	Close()
}

// MetadataStore keeps the DICOM JSON metadata of each instance, keyed by watermark.
type MetadataStore interface {
	Pinger
	PutMetadata(ctx context.Context, watermark int64, data []byte) error
	// GetMetadata fails with ErrKeyNotFound when no blob exists for watermark.
	GetMetadata(ctx context.Context, watermark int64) ([]byte, error)
	DeleteMetadata(ctx context.Context, watermark int64) error
}
