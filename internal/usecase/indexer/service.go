package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	domidx "github.com/kailas-cloud/dicomtags/internal/domain/index"
	dominst "github.com/kailas-cloud/dicomtags/internal/domain/instance"
	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	"github.com/kailas-cloud/dicomtags/internal/domain/validation"
	"github.com/kailas-cloud/dicomtags/internal/logger"
	"github.com/kailas-cloud/dicomtags/internal/metrics"
)

// Mode selects how validation failures are handled.
type Mode int

// Indexing modes.
const (
	// ModeStrict aborts on the first failure. Used by ingestion.
	ModeStrict Mode = iota
	// ModeSoft skips failing tags and reports them. Used by backfill.
	ModeSoft
)

func (m Mode) String() string {
	if m == ModeSoft {
		return "soft"
	}
	return "strict"
}

// TagError is a strict mode failure: the value of Entry could not be indexed.
type TagError struct {
	Entry domtag.Entry
	Err   *validation.Error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("index tag %s: %v", e.Entry.Path(), e.Err)
}

func (e *TagError) Unwrap() error { return e.Err }

// Failure is a soft mode failure of one tag.
type Failure struct {
	Entry domtag.Entry
	Err   *validation.Error
}

// Result reports what Index did.
type Result struct {
	Rows     int
	Failures []Failure
}

// Service extracts index rows from instances.
type Service struct {
	writer    RowWriter
	validator *validation.Validator
	snapshots SnapshotSource
	committer RecordCommitter
}

// New creates an indexer. snapshots may be nil when IndexRecord is not used.
func New(writer RowWriter, validator *validation.Validator, snapshots SnapshotSource) *Service {
	return &Service{writer: writer, validator: validator, snapshots: snapshots}
}

// WithCommitter sets where IndexRecord publishes the rows of new instances.
func (s *Service) WithCommitter(c RecordCommitter) *Service {
	s.committer = c
	return s
}

// Index writes the rows of every eligible entry present in ds, without a tag set version check.
func (s *Service) Index(
	ctx context.Context, inst dominst.Instance, ds *dicom.Dataset, entries []domtag.Entry, mode Mode,
) (Result, error) {
	return s.index(ctx, inst, ds, entries, 0, mode)
}

// IndexRecord indexes a newly stored instance strictly against the registry snapshot
// and commits it together with its rows. If the registry changed since the snapshot
// was taken, nothing is written and the commit is retried once against a refreshed
// snapshot. It returns the tag set version the instance was committed against.
func (s *Service) IndexRecord(ctx context.Context, inst dominst.Instance, ds *dicom.Dataset) (int64, error) {
	if s.snapshots == nil || s.committer == nil {
		return 0, errors.New("index record: no snapshot source or committer")
	}
	var lastErr error
	for attempt := range 2 {
		snap, err := s.snapshots.Snapshot(ctx, attempt > 0)
		if err != nil {
			return 0, fmt.Errorf("index record: %w", err)
		}
		err = s.commitRecord(ctx, inst, ds, snap)
		if err == nil {
			return snap.Version, nil
		}
		if !errors.Is(err, domain.ErrTagsChanged) {
			return 0, err
		}
		lastErr = err
		logger.FromContext(ctx).Debug("tag set changed before commit, refreshing",
			zap.Int64("watermark", inst.Watermark), zap.Int64("tags_version", snap.Version))
	}
	return 0, fmt.Errorf("index record: %w", lastErr)
}

func (s *Service) commitRecord(ctx context.Context, inst dominst.Instance, ds *dicom.Dataset, snap domtag.Snapshot) error {
	start := time.Now()
	defer func() {
		metrics.IndexDuration.WithLabelValues(ModeStrict.String()).Observe(time.Since(start).Seconds())
	}()

	rows, _, err := s.collect(inst, ds, snap.Eligible(), ModeStrict)
	if err != nil {
		return err
	}
	err = s.committer.Commit(ctx, domidx.Batch{Watermark: inst.Watermark, TagsVersion: snap.Version, Rows: rows})
	if err != nil {
		return fmt.Errorf("commit instance %d: %w", inst.Watermark, err)
	}
	countRows(rows)
	return nil
}

func (s *Service) index(
	ctx context.Context, inst dominst.Instance, ds *dicom.Dataset, entries []domtag.Entry, tagsVersion int64, mode Mode,
) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.IndexDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	}()

	rows, res, err := s.collect(inst, ds, entries, mode)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return res, nil
	}
	err = s.writer.Write(ctx, domidx.Batch{Watermark: inst.Watermark, TagsVersion: tagsVersion, Rows: rows})
	if err != nil {
		return Result{}, fmt.Errorf("index instance %d: %w", inst.Watermark, err)
	}
	countRows(rows)
	res.Rows = len(rows)
	return res, nil
}

// collect extracts the rows of every eligible entry present in ds. In strict mode the
// first validation failure is returned as a *TagError.
func (s *Service) collect(
	inst dominst.Instance, ds *dicom.Dataset, entries []domtag.Entry, mode Mode,
) ([]domidx.Row, Result, error) {
	var res Result
	rows := make([]domidx.Row, 0, len(entries))
	for _, e := range entries {
		if !e.IsEligible() {
			continue
		}
		elem, ok := ds.Find(e.Tag(), e.PrivateCreator())
		if !ok || elem.VR() != e.VR() {
			continue
		}

		row, ok, verr := s.extract(e, inst, elem)
		if verr != nil {
			metrics.ValidationFailuresTotal.WithLabelValues(verr.Code.String(), mode.String()).Inc()
			if mode == ModeStrict {
				return nil, Result{}, &TagError{Entry: e, Err: verr}
			}
			res.Failures = append(res.Failures, Failure{Entry: e, Err: verr})
			continue
		}
		if ok {
			rows = append(rows, row)
		}
	}
	return rows, res, nil
}

func countRows(rows []domidx.Row) {
	for _, r := range rows {
		metrics.IndexRowsWrittenTotal.WithLabelValues(r.Category.String()).Inc()
	}
}

// extract validates elem and converts it to a row. ok is false for empty values.
func (s *Service) extract(e domtag.Entry, inst dominst.Instance, elem dicom.Element) (domidx.Row, bool, *validation.Error) {
	if err := s.validator.Validate(elem, e.VR()); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			return domidx.Row{}, false, verr
		}
		return domidx.Row{}, false, &validation.Error{Code: validation.ValueIsInvalid, VR: e.VR(), Value: err.Error()}
	}
	if elem.IsEmpty() {
		return domidx.Row{}, false, nil
	}

	var text string
	if !elem.IsBinary() {
		v, _ := elem.FirstString()
		text = s.validator.Normalize(v)
		if text == "" {
			return domidx.Row{}, false, nil
		}
	}
	row, err := domidx.NewRow(e, inst.Keys, inst.Watermark, elem, text)
	if err != nil {
		return domidx.Row{}, false, &validation.Error{
			Code: validation.ValueIsInvalid, Name: e.Path(), VR: e.VR(), Value: text,
		}
	}
	return row, true, nil
}

// Code returns the persisted error code of a failure.
func (f Failure) Code() int { return int(f.Err.Code) }
