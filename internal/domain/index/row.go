package index

import (
	"time"

	"github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	"github.com/kailas-cloud/dicomtags/internal/domain/valuetype"
)

// Keys locate an instance in the study/series/instance hierarchy.
type Keys struct {
	Study    int64
	Series   int64
	Instance int64
}

// ForLevel zeroes the keys below level, so one row is shared by all instances of a study or series.
func (k Keys) ForLevel(level querytag.Level) Keys {
	switch level {
	case querytag.LevelStudy:
		return Keys{Study: k.Study}
	case querytag.LevelSeries:
		return Keys{Study: k.Study, Series: k.Series}
	default:
		return k
	}
}

// Row is one typed index value. Exactly one value field is meaningful, chosen by Category.
// Rows are identified by (TagKey, Keys): writing a row with the same identity replaces it
// unless the stored row carries a newer watermark.
type Row struct {
	TagKey    int64
	Level     querytag.Level
	Category  valuetype.Category
	Keys      Keys
	Watermark int64

	String string
	Int    int64
	Float  float64
	Time   time.Time
	Name   string
}

// Identity is the upsert key of a row.
type Identity struct {
	TagKey int64
	Keys   Keys
}

// Identity returns the upsert key.
func (r Row) Identity() Identity {
	return Identity{TagKey: r.TagKey, Keys: r.Keys}
}

// Batch is every row extracted from one instance.
// TagsVersion is the registry version the rows were extracted against; 0 skips the check.
type Batch struct {
	Watermark   int64
	TagsVersion int64
	Rows        []Row
}
