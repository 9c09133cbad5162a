package operation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/db/memory"
	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/reindex"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := New(memory.New())
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	cp := reindex.NewCheckpoint(100, []int64{1, 2}, reindex.Batching{Size: 10, MaxParallelCount: 2}, now)
	op, err := repo.Create(ctx, reindex.New(cp, now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if op.Version() != 1 || op.Status() != reindex.StatusQueued {
		t.Fatalf("unexpected operation %+v", op.Fields())
	}

	started, _ := op.Start(now)
	started = started.Progress(started.Checkpoint().Advance(91), now)
	updated, err := repo.Update(ctx, started)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.Get(ctx, op.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version() != updated.Version() || got.Checkpoint().Next() != 90 || got.Attempts() != 1 {
		t.Errorf("unexpected operation %+v", got.Fields())
	}

	if _, err := repo.Update(ctx, started); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale update must conflict, got %v", err)
	}

	running, _ := repo.List(ctx, reindex.StatusQueued, reindex.StatusRunning)
	if len(running) != 1 {
		t.Errorf("expected 1 active operation, got %d", len(running))
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := New(memory.New())
	if _, err := repo.Get(context.Background(), uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRowToOperation_Corrupt(t *testing.T) {
	tests := []db.OperationRow{
		{ID: "x", Status: "Queued", Checkpoint: []byte(`{}`)},
		{ID: uuid.NewString(), Status: "Paused", Checkpoint: []byte(`{}`)},
		{ID: uuid.NewString(), Status: "Queued", Checkpoint: []byte(`{"completedWatermarkRange":[1]}`)},
	}
	for _, row := range tests {
		if _, err := rowToOperation(row); err == nil {
			t.Errorf("expected error for %+v", row)
		}
	}
}
