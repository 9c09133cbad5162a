package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

// Schema is the schema version the memory store reports. It supports every operation.
const Schema = 1

const (
	statusAdding     = 0
	statusReindexing = 1
	statusReady      = 2
	statusDeleting   = 3
	queryEnabled     = 1
)

var errClosed = errors.New("memory store closed")

var _ db.Store = (*Store)(nil)

type rowKey struct {
	tag, study, series, instance int64
}

// Store is an in-process db.Store for development and tests.
type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	schema int
	closed bool

	tags        map[int64]db.TagRow
	nextTagKey  int64
	tagsVersion int64
	tagErrors   map[int64]map[int64]db.TagErrorRow

	rows map[db.Partition]map[rowKey]db.IndexRow

	instances     map[int64]db.InstanceRow
	bySOP         map[string]int64
	studies       map[string]int64
	series        map[string]int64
	lastWatermark int64
	lastStudy     int64
	lastSeries    int64
	lastInstance  int64

	ops map[string]db.OperationRow
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		now:       time.Now,
		schema:    Schema,
		tags:      make(map[int64]db.TagRow),
		tagErrors: make(map[int64]map[int64]db.TagErrorRow),
		rows:      make(map[db.Partition]map[rowKey]db.IndexRow),
		instances: make(map[int64]db.InstanceRow),
		bySOP:     make(map[string]int64),
		studies:   make(map[string]int64),
		series:    make(map[string]int64),
		ops:       make(map[string]db.OperationRow),
	}
	for _, p := range db.Partitions {
		s.rows[p] = make(map[rowKey]db.IndexRow)
	}
	return s
}

// SetSchemaVersion changes the reported schema version, simulating a migration.
func (s *Store) SetSchemaVersion(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = v
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(ctx context.Context, _ time.Duration) error {
	return s.Ping(ctx)
}

// Close marks the store closed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// SchemaVersion returns the simulated schema version.
func (s *Store) SchemaVersion(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema, nil
}

func (s *Store) bump() int64 {
	s.tagsVersion++
	return s.tagsVersion
}

// --- tags ---

// AddTags inserts rows in status Adding.
func (s *Store) AddTags(_ context.Context, rows []db.TagRow, maxAllowedCount int) ([]db.TagRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		for _, existing := range s.tags {
			if existing.Path == r.Path {
				return nil, db.Wrap(db.OpAddTags, db.ErrKeyExists)
			}
		}
	}
	if len(s.tags)+len(rows) > maxAllowedCount {
		return nil, db.Wrap(db.OpAddTags, db.ErrLimitExceeded)
	}

	out := make([]db.TagRow, 0, len(rows))
	for _, r := range rows {
		s.nextTagKey++
		r.Key = s.nextTagKey
		r.Status = statusAdding
		r.QueryStatus = queryEnabled
		r.ErrorCount = 0
		r.OperationID = ""
		r.Version = s.bump()
		r.CreatedAt = s.now().UTC()
		s.tags[r.Key] = r
		out = append(out, r)
	}
	return out, nil
}

// GetTags returns tags matching q ordered by key.
func (s *Store) GetTags(_ context.Context, q db.TagQuery) ([]db.TagRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keySet map[int64]bool
	if len(q.Keys) > 0 {
		keySet = make(map[int64]bool, len(q.Keys))
		for _, k := range q.Keys {
			keySet[k] = true
		}
	}

	out := make([]db.TagRow, 0)
	for _, r := range s.tags {
		switch {
		case q.Path != "" && r.Path != q.Path:
			continue
		case keySet != nil && !keySet[r.Key]:
			continue
		case q.OperationID != "" && r.OperationID != q.OperationID:
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return page(out, q.Limit, q.Offset), nil
}

// GetTagsVersion returns the registry change counter.
func (s *Store) GetTagsVersion(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tagsVersion, nil
}

// AssignOperation moves eligible tags to Reindexing under operationID.
func (s *Store) AssignOperation(_ context.Context, keys []int64, operationID string) ([]db.TagRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.TagRow, 0, len(keys))
	for _, k := range keys {
		r, ok := s.tags[k]
		if !ok {
			continue
		}
		switch {
		case r.Status == statusAdding:
			r.Status = statusReindexing
			r.OperationID = operationID
			r.Version = s.bump()
			s.tags[k] = r
		case r.Status == statusReindexing && r.OperationID == operationID:
		default:
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// CompleteOperation moves Reindexing tags to Ready.
func (s *Store) CompleteOperation(_ context.Context, keys []int64) ([]db.TagRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.TagRow, 0, len(keys))
	for _, k := range keys {
		r, ok := s.tags[k]
		if !ok || r.Status != statusReindexing {
			continue
		}
		r.Status = statusReady
		r.OperationID = ""
		r.Version = s.bump()
		s.tags[k] = r
		out = append(out, r)
	}
	return out, nil
}

// UpdateQueryStatus sets the query status of a tag.
func (s *Store) UpdateQueryStatus(_ context.Context, key int64, status int) (db.TagRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tags[key]
	if !ok {
		return db.TagRow{}, db.Wrap(db.OpUpdateQueryStatus, db.ErrKeyNotFound)
	}
	r.QueryStatus = status
	s.tags[key] = r
	return r, nil
}

// BeginDeleteTag moves a tag to Deleting if its version is unchanged.
func (s *Store) BeginDeleteTag(_ context.Context, key, expectedVersion int64) (db.TagRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tags[key]
	if !ok {
		return db.TagRow{}, db.Wrap(db.OpBeginDeleteTag, db.ErrKeyNotFound)
	}
	if r.Version != expectedVersion {
		return db.TagRow{}, db.Wrap(db.OpBeginDeleteTag, db.ErrConflict)
	}
	r.Status = statusDeleting
	r.Version = s.bump()
	s.tags[key] = r
	return r, nil
}

// DeleteTagEntry removes a tag.
func (s *Store) DeleteTagEntry(_ context.Context, key int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[key]; !ok {
		return db.Wrap(db.OpDeleteTagEntry, db.ErrKeyNotFound)
	}
	delete(s.tags, key)
	return nil
}

// --- tag errors ---

// AddTagError records a failure once per (tag, watermark).
func (s *Store) AddTagError(_ context.Context, tagKey, watermark int64, code int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tags[tagKey]
	if !ok {
		return 0, false, db.Wrap(db.OpAddTagError, db.ErrKeyNotFound)
	}
	errs := s.tagErrors[tagKey]
	if errs == nil {
		errs = make(map[int64]db.TagErrorRow)
		s.tagErrors[tagKey] = errs
	}
	if _, exists := errs[watermark]; exists {
		return r.ErrorCount, false, nil
	}
	errs[watermark] = db.TagErrorRow{TagKey: tagKey, Watermark: watermark, Code: code, CreatedAt: s.now().UTC()}
	r.ErrorCount++
	s.tags[tagKey] = r
	return r.ErrorCount, true, nil
}

// GetTagErrors lists failures of a tag ordered by watermark.
func (s *Store) GetTagErrors(_ context.Context, tagKey int64, limit, offset int) ([]db.TagErrorRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.TagErrorRow, 0, len(s.tagErrors[tagKey]))
	for _, e := range s.tagErrors[tagKey] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Watermark < out[j].Watermark })
	return page(out, limit, offset), nil
}

// DeleteTagErrorBatch removes up to batchSize failures of a tag.
func (s *Store) DeleteTagErrorBatch(_ context.Context, tagKey int64, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for wm := range s.tagErrors[tagKey] {
		if n >= int64(batchSize) {
			break
		}
		delete(s.tagErrors[tagKey], wm)
		n++
	}
	if len(s.tagErrors[tagKey]) == 0 {
		delete(s.tagErrors, tagKey)
	}
	return n, nil
}

// --- index rows ---

// InsertIndexRows upserts rows keeping the newest watermark per identity.
func (s *Store) InsertIndexRows(_ context.Context, batch db.IndexBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.TagsVersion != 0 && batch.TagsVersion != s.tagsVersion {
		return db.Wrap(db.OpInsertIndexRows, db.ErrTagsVersionMismatch)
	}
	if err := s.upsertRowsLocked(batch.Rows); err != nil {
		return db.Wrap(db.OpInsertIndexRows, err)
	}
	return nil
}

// upsertRowsLocked writes all rows or none. Caller holds s.mu.
func (s *Store) upsertRowsLocked(rows []db.IndexRow) error {
	for _, r := range rows {
		if _, ok := s.rows[r.Partition]; !ok {
			return errors.New("unknown partition " + string(r.Partition))
		}
	}
	for _, r := range rows {
		part := s.rows[r.Partition]
		k := rowKey{tag: r.TagKey, study: r.StudyKey, series: r.SeriesKey, instance: r.InstanceKey}
		if existing, ok := part[k]; ok && existing.Watermark > r.Watermark {
			continue
		}
		part[k] = r
	}
	return nil
}

// DeleteIndexRowBatch removes up to batchSize rows of a tag from one partition.
func (s *Store) DeleteIndexRowBatch(_ context.Context, tagKey int64, partition db.Partition, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k := range s.rows[partition] {
		if n >= int64(batchSize) {
			break
		}
		if k.tag == tagKey {
			delete(s.rows[partition], k)
			n++
		}
	}
	return n, nil
}

// Rows returns a copy of the rows stored in a partition ordered by tag and keys.
func (s *Store) Rows(partition db.Partition) []db.IndexRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.IndexRow, 0, len(s.rows[partition]))
	for _, r := range s.rows[partition] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TagKey != b.TagKey {
			return a.TagKey < b.TagKey
		}
		if a.StudyKey != b.StudyKey {
			return a.StudyKey < b.StudyKey
		}
		if a.SeriesKey != b.SeriesKey {
			return a.SeriesKey < b.SeriesKey
		}
		return a.InstanceKey < b.InstanceKey
	})
	return out
}

// --- instances ---

// BeginInstance assigns the next watermark to a pending instance.
func (s *Store) BeginInstance(_ context.Context, studyUID, seriesUID, sopUID string) (db.InstanceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bySOP[sopUID]; ok {
		return db.InstanceRow{}, db.Wrap(db.OpBeginInstance, db.ErrKeyExists)
	}
	studyKey, ok := s.studies[studyUID]
	if !ok {
		s.lastStudy++
		studyKey = s.lastStudy
		s.studies[studyUID] = studyKey
	}
	seriesID := studyUID + "/" + seriesUID
	seriesKey, ok := s.series[seriesID]
	if !ok {
		s.lastSeries++
		seriesKey = s.lastSeries
		s.series[seriesID] = seriesKey
	}
	s.lastInstance++
	s.lastWatermark++

	row := db.InstanceRow{
		Watermark:   s.lastWatermark,
		StudyKey:    studyKey,
		SeriesKey:   seriesKey,
		InstanceKey: s.lastInstance,
		StudyUID:    studyUID,
		SeriesUID:   seriesUID,
		SOPUID:      sopUID,
		Status:      db.InstancePending,
		CreatedAt:   s.now().UTC(),
	}
	s.instances[row.Watermark] = row
	s.bySOP[sopUID] = row.Watermark
	return row, nil
}

// CommitInstance writes the rows of batch and marks the pending instance created.
func (s *Store) CommitInstance(_ context.Context, batch db.IndexBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.instances[batch.Watermark]
	if !ok {
		return db.Wrap(db.OpCommitInstance, db.ErrKeyNotFound)
	}
	if batch.TagsVersion != 0 && batch.TagsVersion != s.tagsVersion {
		return db.Wrap(db.OpCommitInstance, db.ErrTagsVersionMismatch)
	}
	if err := s.upsertRowsLocked(batch.Rows); err != nil {
		return db.Wrap(db.OpCommitInstance, err)
	}
	row.Status = db.InstanceCreated
	s.instances[batch.Watermark] = row
	return nil
}

// AbortInstance removes a pending instance. Index rows sharing its watermark are left
// alone: study and series rows belong to whichever committed instance wrote them.
func (s *Store) AbortInstance(_ context.Context, watermark int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.instances[watermark]
	if !ok {
		return db.Wrap(db.OpAbortInstance, db.ErrKeyNotFound)
	}
	if row.Status != db.InstancePending {
		return db.Wrap(db.OpAbortInstance, db.ErrConflict)
	}
	delete(s.instances, watermark)
	delete(s.bySOP, row.SOPUID)
	return nil
}

// InstancesAtOrBelow returns created instances at or below watermark, highest first.
func (s *Store) InstancesAtOrBelow(_ context.Context, watermark int64, limit int) ([]db.InstanceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.InstanceRow, 0)
	for wm, r := range s.instances {
		if wm <= watermark && r.Status == db.InstanceCreated {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Watermark > out[j].Watermark })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MaxWatermark returns the highest watermark assigned so far.
func (s *Store) MaxWatermark(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWatermark, nil
}

// --- operations ---

// CreateOperation stores a new operation with version 1.
func (s *Store) CreateOperation(_ context.Context, row db.OperationRow) (db.OperationRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ops[row.ID]; ok {
		return db.OperationRow{}, db.Wrap(db.OpCreateOperation, db.ErrKeyExists)
	}
	row.Version = 1
	row.Checkpoint = append([]byte(nil), row.Checkpoint...)
	s.ops[row.ID] = row
	return row, nil
}

// GetOperation returns one operation.
func (s *Store) GetOperation(_ context.Context, id string) (db.OperationRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.ops[id]
	if !ok {
		return db.OperationRow{}, db.Wrap(db.OpGetOperation, db.ErrKeyNotFound)
	}
	return row, nil
}

// ListOperations returns operations in any of statuses, oldest first.
func (s *Store) ListOperations(_ context.Context, statuses []string) ([]db.OperationRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]db.OperationRow, 0)
	for _, r := range s.ops {
		if want[r.Status] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateOperation replaces an operation if its version is unchanged.
func (s *Store) UpdateOperation(_ context.Context, row db.OperationRow) (db.OperationRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.ops[row.ID]
	if !ok {
		return db.OperationRow{}, db.Wrap(db.OpUpdateOperation, db.ErrKeyNotFound)
	}
	if cur.Version != row.Version {
		return db.OperationRow{}, db.Wrap(db.OpUpdateOperation, db.ErrConflict)
	}
	row.Version++
	row.CreatedAt = cur.CreatedAt
	row.Checkpoint = append([]byte(nil), row.Checkpoint...)
	s.ops[row.ID] = row
	return row, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
