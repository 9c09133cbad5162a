package querytag

import (
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
)

// Entry is a registered extended query tag (immutable value object).
type Entry struct {
	key            int64
	tag            dicom.Tag
	vr             dicom.VR
	privateCreator string
	level          Level
	status         Status
	queryStatus    QueryStatus
	errorCount     int
	operationID    uuid.UUID
	version        int64
	createdAt      time.Time
}

// EntryFields carries the persisted columns of an Entry.
type EntryFields struct {
	Key            int64
	Tag            dicom.Tag
	VR             dicom.VR
	PrivateCreator string
	Level          Level
	Status         Status
	QueryStatus    QueryStatus
	ErrorCount     int
	OperationID    uuid.UUID
	Version        int64
	CreatedAt      time.Time
}

// Reconstruct creates an Entry without validation (storage hydration).
func Reconstruct(f EntryFields) Entry {
	return Entry{
		key:            f.Key,
		tag:            f.Tag,
		vr:             f.VR,
		privateCreator: f.PrivateCreator,
		level:          f.Level,
		status:         f.Status,
		queryStatus:    f.QueryStatus,
		errorCount:     f.ErrorCount,
		operationID:    f.OperationID,
		version:        f.Version,
		createdAt:      f.CreatedAt,
	}
}

// Key returns the store-assigned registry key.
func (e Entry) Key() int64 { return e.key }

// Tag returns the indexed tag.
func (e Entry) Tag() dicom.Tag { return e.tag }

// Path returns the canonical tag path.
func (e Entry) Path() string { return e.tag.Path() }

// VR returns the registered value representation.
func (e Entry) VR() dicom.VR { return e.vr }

// PrivateCreator returns the private creator, empty for standard tags.
func (e Entry) PrivateCreator() string { return e.privateCreator }

// Level returns the index level.
func (e Entry) Level() Level { return e.level }

// Status returns the lifecycle status.
func (e Entry) Status() Status { return e.status }

// QueryStatus returns whether the tag may be queried.
func (e Entry) QueryStatus() QueryStatus { return e.queryStatus }

// ErrorCount returns the number of records that failed indexing for this tag.
func (e Entry) ErrorCount() int { return e.errorCount }

// OperationID returns the in-flight reindex operation, if any.
func (e Entry) OperationID() (uuid.UUID, bool) {
	return e.operationID, e.operationID != uuid.Nil
}

// Version returns the row version used for optimistic concurrency.
func (e Entry) Version() int64 { return e.version }

// CreatedAt returns the registration time.
func (e Entry) CreatedAt() time.Time { return e.createdAt }

// IsEligible reports whether new writes must index this tag.
// Reindexing tags are included so writes racing the backfill are not lost.
func (e Entry) IsEligible() bool {
	return e.status == StatusReady || e.status == StatusReindexing
}

// IsQueryable reports whether the tag can serve query results.
func (e Entry) IsQueryable() bool {
	return e.status == StatusReady && e.queryStatus == QueryEnabled
}

// Fields returns the persisted columns.
func (e Entry) Fields() EntryFields {
	return EntryFields{
		Key:            e.key,
		Tag:            e.tag,
		VR:             e.vr,
		PrivateCreator: e.privateCreator,
		Level:          e.level,
		Status:         e.status,
		QueryStatus:    e.queryStatus,
		ErrorCount:     e.errorCount,
		OperationID:    e.operationID,
		Version:        e.version,
		CreatedAt:      e.createdAt,
	}
}

// ErrorRecord is one record that failed indexing for a tag.
type ErrorRecord struct {
	TagKey    int64
	Watermark int64
	Code      int
	CreatedAt time.Time
}
