package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/db/memory"
	"github.com/kailas-cloud/dicomtags/internal/domain"
	domidx "github.com/kailas-cloud/dicomtags/internal/domain/index"
	"github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	"github.com/kailas-cloud/dicomtags/internal/domain/valuetype"
)

func TestPartition_Total(t *testing.T) {
	seen := make(map[db.Partition]bool)
	for _, c := range valuetype.Categories {
		seen[Partition(c)] = true
	}
	if len(seen) != len(db.Partitions) {
		t.Errorf("expected every category in its own partition, got %v", seen)
	}
}

func TestWrite_RoutesByCategory(t *testing.T) {
	s := memory.New()
	repo := New(s)
	keys := domidx.Keys{Study: 1, Series: 2, Instance: 3}
	when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := repo.Write(context.Background(), domidx.Batch{
		Watermark: 9,
		Rows: []domidx.Row{
			{TagKey: 1, Level: querytag.LevelInstance, Category: valuetype.String, Keys: keys, Watermark: 9, String: "CT"},
			{TagKey: 2, Level: querytag.LevelInstance, Category: valuetype.Integer, Keys: keys, Watermark: 9, Int: 42},
			{TagKey: 3, Level: querytag.LevelInstance, Category: valuetype.Float, Keys: keys, Watermark: 9, Float: 1.5},
			{TagKey: 4, Level: querytag.LevelInstance, Category: valuetype.DateTime, Keys: keys, Watermark: 9, Time: when},
			{TagKey: 5, Level: querytag.LevelStudy, Category: valuetype.StructuredName, Keys: domidx.Keys{Study: 1}, Watermark: 9, Name: "Doe^John"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rows := s.Rows(db.PartitionLong); len(rows) != 1 || rows[0].Int != 42 {
		t.Errorf("unexpected long rows %+v", rows)
	}
	if rows := s.Rows(db.PartitionDateTime); len(rows) != 1 || !rows[0].Time.Equal(when) {
		t.Errorf("unexpected datetime rows %+v", rows)
	}
	if rows := s.Rows(db.PartitionPersonName); len(rows) != 1 || rows[0].Text != "Doe^John" || rows[0].SeriesKey != 0 {
		t.Errorf("unexpected person name rows %+v", rows)
	}

	n, err := repo.Purge(context.Background(), 3, valuetype.Float, 10)
	if err != nil || n != 1 {
		t.Errorf("expected 1 purged row, got %d %v", n, err)
	}
}

func TestWrite_TagsChanged(t *testing.T) {
	repo := New(memory.New())
	err := repo.Write(context.Background(), domidx.Batch{Watermark: 1, TagsVersion: 5})
	if !errors.Is(err, domain.ErrTagsChanged) {
		t.Fatalf("expected ErrTagsChanged, got %v", err)
	}
}
