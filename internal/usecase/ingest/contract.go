package ingest

import (
	"context"

	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	dominst "github.com/kailas-cloud/dicomtags/internal/domain/instance"
)

// InstanceStore assigns watermarks and discards instances that failed to store.
type InstanceStore interface {
	Begin(ctx context.Context, ids dominst.Identifiers) (dominst.Instance, error)
	Abort(ctx context.Context, watermark int64) error
}

// MetadataStore keeps the DICOM JSON of each instance.
type MetadataStore interface {
	Save(ctx context.Context, watermark int64, data []byte) error
	Delete(ctx context.Context, watermark int64) error
}

// RecordIndexer indexes one pending instance against the current tag set and
// commits it with its rows. It reports the tag set version it committed against.
type RecordIndexer interface {
	IndexRecord(ctx context.Context, inst dominst.Instance, ds *dicom.Dataset) (int64, error)
}
