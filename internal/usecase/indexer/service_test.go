package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/db/memory"
	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	domidx "github.com/kailas-cloud/dicomtags/internal/domain/index"
	dominst "github.com/kailas-cloud/dicomtags/internal/domain/instance"
	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	"github.com/kailas-cloud/dicomtags/internal/domain/validation"
	idxrepo "github.com/kailas-cloud/dicomtags/internal/repository/index"
)

// --- Mocks ---

type mockWriter struct {
	batches []domidx.Batch
	writeFn func(batch domidx.Batch) error
}

func (m *mockWriter) Write(_ context.Context, batch domidx.Batch) error {
	m.batches = append(m.batches, batch)
	if m.writeFn != nil {
		return m.writeFn(batch)
	}
	return nil
}

type mockCommitter struct {
	batches  []domidx.Batch
	commitFn func(batch domidx.Batch) error
}

func (m *mockCommitter) Commit(_ context.Context, batch domidx.Batch) error {
	m.batches = append(m.batches, batch)
	if m.commitFn != nil {
		return m.commitFn(batch)
	}
	return nil
}

type mockSnapshots struct {
	snaps  []domtag.Snapshot
	forced []bool
}

func (m *mockSnapshots) Snapshot(_ context.Context, force bool) (domtag.Snapshot, error) {
	m.forced = append(m.forced, force)
	if len(m.snaps) == 0 {
		return domtag.Snapshot{}, errors.New("no snapshot")
	}
	s := m.snaps[0]
	if len(m.snaps) > 1 {
		m.snaps = m.snaps[1:]
	}
	return s, nil
}

// --- Fixtures ---

var (
	modalityTag  = dicom.NewTag(0x0018, 0x1000) // DeviceSerialNumber, LO
	ageTag       = dicom.NewTag(0x0010, 0x1010) // PatientAge, AS
	acquiredTag  = dicom.NewTag(0x0008, 0x0022) // AcquisitionDate, DA
	rowsTag      = dicom.NewTag(0x0028, 0x0010) // Rows, US
	privateTag   = dicom.NewTag(0x0009, 0x1001)
	creatorTag   = dicom.NewTag(0x0009, 0x0010)
	inst         = dominst.Instance{Watermark: 7, Keys: domidx.Keys{Study: 1, Series: 2, Instance: 3}}
	laterInst    = dominst.Instance{Watermark: 9, Keys: domidx.Keys{Study: 1, Series: 2, Instance: 4}}
	newValidator = func() *validation.Validator { return validation.New(dicom.Standard, false) }
)

func entry(key int64, tag dicom.Tag, vr dicom.VR, level domtag.Level, status domtag.Status) domtag.Entry {
	return domtag.Reconstruct(domtag.EntryFields{
		Key: key, Tag: tag, VR: vr, Level: level, Status: status, QueryStatus: domtag.QueryEnabled,
	})
}

func dataset(acquired string) *dicom.Dataset {
	return dicom.NewDataset(
		dicom.NewStringElement(modalityTag, dicom.LO, "SN-001 "),
		dicom.NewStringElement(ageTag, dicom.AS, "045Y"),
		dicom.NewStringElement(acquiredTag, dicom.DA, acquired),
		dicom.NewBinaryElement(rowsTag, dicom.US, []byte{0x00, 0x02}),
	)
}

// --- Tests ---

func TestIndex_WritesEligibleTags(t *testing.T) {
	store := memory.New()
	svc := New(idxrepo.New(store), newValidator(), nil)
	entries := []domtag.Entry{
		entry(1, modalityTag, dicom.LO, domtag.LevelSeries, domtag.StatusReady),
		entry(2, ageTag, dicom.AS, domtag.LevelStudy, domtag.StatusReindexing),
		entry(3, acquiredTag, dicom.DA, domtag.LevelInstance, domtag.StatusAdding),
		entry(4, rowsTag, dicom.US, domtag.LevelInstance, domtag.StatusReady),
		entry(5, dicom.NewTag(0x0018, 0x0015), dicom.CS, domtag.LevelSeries, domtag.StatusReady), // absent
	}

	res, err := svc.Index(context.Background(), inst, dataset("20240501"), entries, ModeStrict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rows != 3 || len(res.Failures) != 0 {
		t.Fatalf("expected 3 rows and no failures, got %+v", res)
	}

	str := store.Rows(db.PartitionString)
	if len(str) != 2 {
		t.Fatalf("expected 2 string rows, got %+v", str)
	}
	for _, r := range str {
		switch r.TagKey {
		case 1:
			if r.Text != "SN-001" || r.InstanceKey != 0 || r.SeriesKey != 2 {
				t.Errorf("series row not normalized: %+v", r)
			}
		case 2:
			if r.SeriesKey != 0 || r.StudyKey != 1 {
				t.Errorf("study row should drop series keys: %+v", r)
			}
		}
	}
	long := store.Rows(db.PartitionLong)
	if len(long) != 1 || long[0].Int != 512 || long[0].InstanceKey != 3 {
		t.Errorf("unexpected long rows %+v", long)
	}
	if dt := store.Rows(db.PartitionDateTime); len(dt) != 0 {
		t.Errorf("Adding tags must not be indexed, got %+v", dt)
	}
}

func TestIndex_VRMismatchSkipped(t *testing.T) {
	w := &mockWriter{}
	svc := New(w, newValidator(), nil)
	entries := []domtag.Entry{entry(1, ageTag, dicom.LO, domtag.LevelStudy, domtag.StatusReady)}

	res, err := svc.Index(context.Background(), inst, dataset("20240501"), entries, ModeStrict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rows != 0 || len(w.batches) != 0 {
		t.Errorf("mismatched VR should be skipped, got %+v", res)
	}
}

func TestIndex_StrictAbortsOnInvalidValue(t *testing.T) {
	w := &mockWriter{}
	svc := New(w, newValidator(), nil)
	entries := []domtag.Entry{
		entry(1, modalityTag, dicom.LO, domtag.LevelSeries, domtag.StatusReady),
		entry(3, acquiredTag, dicom.DA, domtag.LevelInstance, domtag.StatusReady),
	}

	_, err := svc.Index(context.Background(), inst, dataset("2024-13-45"), entries, ModeStrict)
	var te *TagError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TagError, got %v", err)
	}
	if te.Entry.Key() != 3 || te.Err.Code != validation.DateIsInvalid {
		t.Errorf("unexpected tag error %+v", te)
	}
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Error("tag error should match ErrValidationFailed")
	}
	if len(w.batches) != 0 {
		t.Error("nothing may be written after a strict failure")
	}
}

func TestIndex_SoftReportsFailures(t *testing.T) {
	w := &mockWriter{}
	svc := New(w, newValidator(), nil)
	entries := []domtag.Entry{
		entry(1, modalityTag, dicom.LO, domtag.LevelSeries, domtag.StatusReady),
		entry(3, acquiredTag, dicom.DA, domtag.LevelInstance, domtag.StatusReindexing),
	}

	res, err := svc.Index(context.Background(), inst, dataset("2024-13-45"), entries, ModeSoft)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rows != 1 || len(res.Failures) != 1 {
		t.Fatalf("expected 1 row and 1 failure, got %+v", res)
	}
	if f := res.Failures[0]; f.Entry.Key() != 3 || f.Code() != int(validation.DateIsInvalid) {
		t.Errorf("unexpected failure %+v", f)
	}
	if len(w.batches) != 1 || w.batches[0].Watermark != 7 || w.batches[0].TagsVersion != 0 {
		t.Errorf("expected one unchecked batch, got %+v", w.batches)
	}
}

func TestIndex_Idempotent(t *testing.T) {
	store := memory.New()
	svc := New(idxrepo.New(store), newValidator(), nil)
	entries := []domtag.Entry{entry(2, ageTag, dicom.AS, domtag.LevelStudy, domtag.StatusReady)}
	ctx := context.Background()

	newer := dicom.NewDataset(dicom.NewStringElement(ageTag, dicom.AS, "046Y"))
	if _, err := svc.Index(ctx, laterInst, newer, entries, ModeSoft); err != nil {
		t.Fatalf("index newer: %v", err)
	}
	for range 2 {
		if _, err := svc.Index(ctx, inst, dataset("20240501"), entries, ModeSoft); err != nil {
			t.Fatalf("index: %v", err)
		}
	}

	rows := store.Rows(db.PartitionString)
	if len(rows) != 1 {
		t.Fatalf("study level row must be shared, got %+v", rows)
	}
	if rows[0].Text != "046Y" || rows[0].Watermark != 9 {
		t.Errorf("older watermark must not overwrite newer row: %+v", rows[0])
	}
}

func TestIndex_PrivateCreatorMustMatch(t *testing.T) {
	w := &mockWriter{}
	svc := New(w, newValidator(), nil)
	e := domtag.Reconstruct(domtag.EntryFields{
		Key: 8, Tag: privateTag, VR: dicom.LO, PrivateCreator: "ACME", Level: domtag.LevelInstance, Status: domtag.StatusReady,
	})
	ctx := context.Background()

	other := dicom.NewDataset(
		dicom.NewStringElement(creatorTag, dicom.LO, "OTHER"),
		dicom.NewStringElement(privateTag, dicom.LO, "x"),
	)
	if res, _ := svc.Index(ctx, inst, other, []domtag.Entry{e}, ModeStrict); res.Rows != 0 {
		t.Errorf("element reserved by another creator must be skipped, got %+v", res)
	}

	acme := dicom.NewDataset(
		dicom.NewStringElement(creatorTag, dicom.LO, "ACME"),
		dicom.NewStringElement(privateTag, dicom.LO, "x"),
	)
	if res, err := svc.Index(ctx, inst, acme, []domtag.Entry{e}, ModeStrict); err != nil || res.Rows != 1 {
		t.Errorf("expected 1 row, got %+v %v", res, err)
	}
}

func TestIndex_WriteError(t *testing.T) {
	boom := errors.New("boom")
	w := &mockWriter{writeFn: func(domidx.Batch) error { return boom }}
	svc := New(w, newValidator(), nil)
	entries := []domtag.Entry{entry(1, modalityTag, dicom.LO, domtag.LevelSeries, domtag.StatusReady)}

	_, err := svc.Index(context.Background(), inst, dataset("20240501"), entries, ModeSoft)
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestIndexRecord_RetriesOnceAfterTagsChanged(t *testing.T) {
	stale := domtag.Snapshot{
		Entries: []domtag.Entry{entry(1, modalityTag, dicom.LO, domtag.LevelSeries, domtag.StatusReady)},
		Version: 4, RefreshedAt: time.Now(),
	}
	fresh := stale
	fresh.Version = 5
	fresh.Entries = append(fresh.Entries, entry(2, ageTag, dicom.AS, domtag.LevelStudy, domtag.StatusReindexing))

	snaps := &mockSnapshots{snaps: []domtag.Snapshot{stale, fresh}}
	c := &mockCommitter{commitFn: func(b domidx.Batch) error {
		if b.TagsVersion != 5 {
			return fmt.Errorf("%w: version %d", domain.ErrTagsChanged, b.TagsVersion)
		}
		return nil
	}}
	svc := New(&mockWriter{}, newValidator(), snaps).WithCommitter(c)

	version, err := svc.IndexRecord(context.Background(), inst, dataset("20240501"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 5 {
		t.Errorf("expected version 5, got %d", version)
	}
	if len(snaps.forced) != 2 || snaps.forced[0] || !snaps.forced[1] {
		t.Errorf("expected cached then forced snapshot, got %v", snaps.forced)
	}
	last := c.batches[len(c.batches)-1]
	if len(last.Rows) != 2 {
		t.Errorf("refreshed snapshot should index the new tag, got %d rows", len(last.Rows))
	}
}

func TestIndexRecord_GivesUpAfterSecondChange(t *testing.T) {
	snaps := &mockSnapshots{snaps: []domtag.Snapshot{{
		Entries: []domtag.Entry{entry(1, modalityTag, dicom.LO, domtag.LevelSeries, domtag.StatusReady)},
		Version: 4,
	}}}
	c := &mockCommitter{commitFn: func(domidx.Batch) error { return domain.ErrTagsChanged }}
	svc := New(&mockWriter{}, newValidator(), snaps).WithCommitter(c)

	_, err := svc.IndexRecord(context.Background(), inst, dataset("20240501"))
	if !errors.Is(err, domain.ErrTagsChanged) {
		t.Fatalf("expected ErrTagsChanged, got %v", err)
	}
	if len(c.batches) != 2 {
		t.Errorf("expected exactly one retry, got %d commits", len(c.batches))
	}
}

func TestIndexRecord_CommitsThroughCommitterOnly(t *testing.T) {
	snaps := &mockSnapshots{snaps: []domtag.Snapshot{{
		Entries: []domtag.Entry{entry(5, dicom.NewTag(0x0018, 0x0015), dicom.CS, domtag.LevelSeries, domtag.StatusReady)},
		Version: 2,
	}}}
	w := &mockWriter{}
	c := &mockCommitter{}
	svc := New(w, newValidator(), snaps).WithCommitter(c)

	version, err := svc.IndexRecord(context.Background(), inst, dataset("20240501"))
	if err != nil || version != 2 {
		t.Fatalf("expected version 2, got %d %v", version, err)
	}
	if len(w.batches) != 0 {
		t.Errorf("rows must not be written before commit, got %d writes", len(w.batches))
	}
	if len(c.batches) != 1 || c.batches[0].Watermark != inst.Watermark || len(c.batches[0].Rows) != 0 {
		t.Errorf("instance without indexed values must still be committed, got %+v", c.batches)
	}
}

func TestIndexRecord_RequiresCommitter(t *testing.T) {
	snaps := &mockSnapshots{snaps: []domtag.Snapshot{{Version: 1}}}
	svc := New(&mockWriter{}, newValidator(), snaps)

	if _, err := svc.IndexRecord(context.Background(), inst, dataset("20240501")); err == nil {
		t.Fatal("expected error without a committer")
	}
}

func TestIndexRecord_StrictValidation(t *testing.T) {
	snaps := &mockSnapshots{snaps: []domtag.Snapshot{{
		Entries: []domtag.Entry{entry(3, acquiredTag, dicom.DA, domtag.LevelInstance, domtag.StatusReady)},
		Version: 1,
	}}}
	c := &mockCommitter{}
	svc := New(&mockWriter{}, newValidator(), snaps).WithCommitter(c)

	_, err := svc.IndexRecord(context.Background(), inst, dataset("yesterday"))
	var te *TagError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TagError, got %v", err)
	}
	if len(snaps.forced) != 1 {
		t.Error("validation failures must not trigger a refresh")
	}
	if len(c.batches) != 0 {
		t.Error("invalid instance must not be committed")
	}
}
