package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

func addTags(t *testing.T, s *Store, paths ...string) []db.TagRow {
	t.Helper()
	rows := make([]db.TagRow, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, db.TagRow{Path: p, VR: "LO", Level: 2})
	}
	out, err := s.AddTags(context.Background(), rows, 10)
	if err != nil {
		t.Fatalf("add tags: %v", err)
	}
	return out
}

func TestAddTags_LimitAndDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	addTags(t, s, "00181000")

	if _, err := s.AddTags(ctx, []db.TagRow{{Path: "00181000"}}, 10); !errors.Is(err, db.ErrKeyExists) {
		t.Errorf("expected ErrKeyExists, got %v", err)
	}
	if _, err := s.AddTags(ctx, []db.TagRow{{Path: "00181020"}, {Path: "00181030"}}, 2); !errors.Is(err, db.ErrLimitExceeded) {
		t.Errorf("expected ErrLimitExceeded, got %v", err)
	}
	if _, err := s.AddTags(ctx, []db.TagRow{{Path: "00181000"}}, 1); !errors.Is(err, db.ErrKeyExists) {
		t.Errorf("existing path at capacity: expected ErrKeyExists, got %v", err)
	}
	all, _ := s.GetTags(ctx, db.TagQuery{})
	if len(all) != 1 {
		t.Errorf("failed adds must not persist anything, got %d tags", len(all))
	}
}

func TestTagLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	rows := addTags(t, s, "00181000", "00181020")
	v0, _ := s.GetTagsVersion(ctx)

	assigned, _ := s.AssignOperation(ctx, []int64{rows[0].Key, rows[1].Key}, "op-1")
	if len(assigned) != 2 || assigned[0].Status != statusReindexing {
		t.Fatalf("unexpected assignment %+v", assigned)
	}
	again, _ := s.AssignOperation(ctx, []int64{rows[0].Key}, "op-1")
	if len(again) != 1 {
		t.Error("assignment must be idempotent for the same operation")
	}
	other, _ := s.AssignOperation(ctx, []int64{rows[0].Key}, "op-2")
	if len(other) != 0 {
		t.Error("tag held by another operation must not be reassigned")
	}
	if v1, _ := s.GetTagsVersion(ctx); v1 <= v0 {
		t.Error("assignment must bump the tags version")
	}

	done, _ := s.CompleteOperation(ctx, []int64{rows[0].Key})
	if len(done) != 1 || done[0].Status != statusReady || done[0].OperationID != "" {
		t.Fatalf("unexpected completion %+v", done)
	}

	if _, err := s.BeginDeleteTag(ctx, rows[0].Key, rows[0].Version); !errors.Is(err, db.ErrConflict) {
		t.Errorf("stale version must conflict, got %v", err)
	}
	if _, err := s.BeginDeleteTag(ctx, rows[0].Key, done[0].Version); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := s.DeleteTagEntry(ctx, rows[0].Key); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := s.DeleteTagEntry(ctx, rows[0].Key); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestAddTagError_OncePerWatermark(t *testing.T) {
	ctx := context.Background()
	s := New()
	rows := addTags(t, s, "00181000")

	n, added, _ := s.AddTagError(ctx, rows[0].Key, 5, 2)
	if n != 1 || !added {
		t.Fatalf("expected first error to be added, got %d %v", n, added)
	}
	n, added, _ = s.AddTagError(ctx, rows[0].Key, 5, 2)
	if n != 1 || added {
		t.Errorf("duplicate error must not count twice, got %d %v", n, added)
	}
	errs, _ := s.GetTagErrors(ctx, rows[0].Key, 0, 0)
	if len(errs) != 1 || errs[0].Code != 2 {
		t.Errorf("unexpected errors %+v", errs)
	}
	if n, _ := s.DeleteTagErrorBatch(ctx, rows[0].Key, 10); n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
}

func TestInsertIndexRows_Upsert(t *testing.T) {
	ctx := context.Background()
	s := New()
	row := db.IndexRow{TagKey: 1, Partition: db.PartitionString, StudyKey: 1, Watermark: 5, Text: "new"}

	if err := s.InsertIndexRows(ctx, db.IndexBatch{Watermark: 5, Rows: []db.IndexRow{row}}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertIndexRows(ctx, db.IndexBatch{Watermark: 5, Rows: []db.IndexRow{row}}); err != nil {
		t.Fatal(err)
	}
	older := row
	older.Watermark, older.Text = 3, "old"
	if err := s.InsertIndexRows(ctx, db.IndexBatch{Watermark: 3, Rows: []db.IndexRow{older}}); err != nil {
		t.Fatal(err)
	}

	got := s.Rows(db.PartitionString)
	if len(got) != 1 || got[0].Text != "new" {
		t.Errorf("expected single newest row, got %+v", got)
	}

	if err := s.InsertIndexRows(ctx, db.IndexBatch{TagsVersion: 99, Rows: []db.IndexRow{row}}); !errors.Is(err, db.ErrTagsVersionMismatch) {
		t.Errorf("expected ErrTagsVersionMismatch, got %v", err)
	}

	if n, _ := s.DeleteIndexRowBatch(ctx, 1, db.PartitionString, 10); n != 1 {
		t.Errorf("expected 1 deleted row, got %d", n)
	}
}

func TestInstances(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, _ := s.BeginInstance(ctx, "1.1", "1.1.1", "1.1.1.1")
	b, _ := s.BeginInstance(ctx, "1.1", "1.1.1", "1.1.1.2")
	c, _ := s.BeginInstance(ctx, "1.1", "1.1.2", "1.1.2.1")
	if a.StudyKey != b.StudyKey || a.SeriesKey != b.SeriesKey || c.SeriesKey == a.SeriesKey {
		t.Fatalf("unexpected keys %+v %+v %+v", a, b, c)
	}
	if _, err := s.BeginInstance(ctx, "1.1", "1.1.1", "1.1.1.1"); !errors.Is(err, db.ErrKeyExists) {
		t.Errorf("expected ErrKeyExists, got %v", err)
	}

	_ = s.CommitInstance(ctx, db.IndexBatch{Watermark: a.Watermark})
	_ = s.CommitInstance(ctx, db.IndexBatch{Watermark: c.Watermark})

	got, _ := s.InstancesAtOrBelow(ctx, c.Watermark, 10)
	if len(got) != 2 || got[0].Watermark != c.Watermark || got[1].Watermark != a.Watermark {
		t.Errorf("expected created instances in descending order, got %+v", got)
	}
	if err := s.AbortInstance(ctx, a.Watermark); !errors.Is(err, db.ErrConflict) {
		t.Errorf("created instance cannot be aborted, got %v", err)
	}
	if err := s.AbortInstance(ctx, b.Watermark); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if top, _ := s.MaxWatermark(ctx); top != c.Watermark {
		t.Errorf("expected max %d, got %d", c.Watermark, top)
	}
}

func TestCommitInstance_PublishesRowsAtomically(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, _ := s.BeginInstance(ctx, "1.1", "1.1.1", "1.1.1.1")
	b, _ := s.BeginInstance(ctx, "1.1", "1.1.1", "1.1.1.2")
	studyRow := func(wm int64, text string) db.IndexRow {
		return db.IndexRow{TagKey: 1, Partition: db.PartitionString, StudyKey: a.StudyKey, Watermark: wm, Text: text}
	}

	if err := s.CommitInstance(ctx, db.IndexBatch{Watermark: a.Watermark, Rows: []db.IndexRow{studyRow(a.Watermark, "A")}}); err != nil {
		t.Fatalf("commit a: %v", err)
	}
	err := s.CommitInstance(ctx, db.IndexBatch{
		Watermark:   b.Watermark,
		TagsVersion: 99,
		Rows:        []db.IndexRow{studyRow(b.Watermark, "B")},
	})
	if !errors.Is(err, db.ErrTagsVersionMismatch) {
		t.Fatalf("expected ErrTagsVersionMismatch, got %v", err)
	}
	if got := s.Rows(db.PartitionString); len(got) != 1 || got[0].Text != "A" {
		t.Fatalf("failed commit must not write rows, got %+v", got)
	}
	if got, _ := s.InstancesAtOrBelow(ctx, b.Watermark, 10); len(got) != 1 {
		t.Fatalf("failed commit must leave instance pending, got %+v", got)
	}

	if err := s.AbortInstance(ctx, b.Watermark); err != nil {
		t.Fatalf("abort b: %v", err)
	}
	if got := s.Rows(db.PartitionString); len(got) != 1 || got[0].Text != "A" || got[0].Watermark != a.Watermark {
		t.Errorf("abort must keep the committed study row, got %+v", got)
	}

	c, _ := s.BeginInstance(ctx, "1.1", "1.1.1", "1.1.1.3")
	bad := db.IndexBatch{Watermark: c.Watermark, Rows: []db.IndexRow{studyRow(c.Watermark, "C"), {Partition: "blob"}}}
	if err := s.CommitInstance(ctx, bad); err == nil {
		t.Fatal("expected unknown partition error")
	}
	if got := s.Rows(db.PartitionString); len(got) != 1 || got[0].Text != "A" {
		t.Errorf("rejected batch must write nothing, got %+v", got)
	}
}

func TestOperations_OptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	row, err := s.CreateOperation(ctx, db.OperationRow{ID: "op", Status: "Queued", Checkpoint: []byte(`{}`)})
	if err != nil || row.Version != 1 {
		t.Fatalf("create: %v %+v", err, row)
	}
	row.Status = "Running"
	updated, err := s.UpdateOperation(ctx, row)
	if err != nil || updated.Version != 2 {
		t.Fatalf("update: %v %+v", err, updated)
	}
	if _, err := s.UpdateOperation(ctx, row); !errors.Is(err, db.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	running, _ := s.ListOperations(ctx, []string{"Running"})
	if len(running) != 1 {
		t.Errorf("expected 1 running operation, got %d", len(running))
	}
}
