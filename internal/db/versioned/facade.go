package versioned

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

// Compile-time check: Facade implements db.Store.
var _ db.Store = (*Facade)(nil)

// Conn is the connection shared by every implementation.
type Conn interface {
	db.Pinger
	db.SchemaVersioner
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Implementation is a store that works against schema versions >= MinSchemaVersion.
type Implementation struct {
	MinSchemaVersion int
	Store            db.Store
}

// Facade routes every call to the newest implementation the active schema supports.
// The active version is re-read once the recheck interval has passed, or on Refresh.
type Facade struct {
	conn    Conn
	impls   []Implementation
	recheck time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.RWMutex
	active    db.Store
	version   int
	checkedAt time.Time
}

// New creates a facade. Implementations may be given in any order.
func New(conn Conn, recheck time.Duration, logger *zap.Logger, impls ...Implementation) (*Facade, error) {
	if conn == nil {
		return nil, errors.New("versioned: connection is required")
	}
	if len(impls) == 0 {
		return nil, errors.New("versioned: at least one implementation is required")
	}
	sorted := append([]Implementation(nil), impls...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinSchemaVersion > sorted[j].MinSchemaVersion })
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{conn: conn, impls: sorted, recheck: recheck, logger: logger, now: time.Now}, nil
}

// SetClock overrides the time source used for rechecks.
func (f *Facade) SetClock(now func() time.Time) { f.now = now }

// ActiveVersion returns the last schema version read.
func (f *Facade) ActiveVersion() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

// Refresh re-reads the schema version and resolves the implementation.
func (f *Facade) Refresh(ctx context.Context) error {
	v, err := f.conn.SchemaVersion(ctx)
	if err != nil {
		return db.Wrap(db.OpSchemaVersion, err)
	}
	impl := f.resolve(v)

	f.mu.Lock()
	prev := f.version
	f.version = v
	f.active = impl
	f.checkedAt = f.now()
	f.mu.Unlock()

	if impl == nil {
		return fmt.Errorf("schema version %d: %w", v, db.ErrUpgradeRequired)
	}
	if prev != v {
		f.logger.Info("schema version resolved", zap.Int("previous", prev), zap.Int("version", v))
	}
	return nil
}

func (f *Facade) resolve(version int) db.Store {
	for _, impl := range f.impls {
		if impl.MinSchemaVersion <= version {
			return impl.Store
		}
	}
	return nil
}

func (f *Facade) store(ctx context.Context) (db.Store, error) {
	f.mu.RLock()
	active, checkedAt, version := f.active, f.checkedAt, f.version
	f.mu.RUnlock()

	if !checkedAt.IsZero() && f.now().Sub(checkedAt) < f.recheck {
		if active == nil {
			return nil, fmt.Errorf("schema version %d: %w", version, db.ErrUpgradeRequired)
		}
		return active, nil
	}

	if err := f.Refresh(ctx); err != nil {
		if active != nil && !errors.Is(err, db.ErrUpgradeRequired) {
			f.logger.Warn("schema version check failed, keeping current implementation", zap.Error(err))
			return active, nil
		}
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active, nil
}

// Ping checks connectivity.
func (f *Facade) Ping(ctx context.Context) error { return f.conn.Ping(ctx) }

// Close closes the shared connection.
func (f *Facade) Close() { f.conn.Close() }

// WaitForReady waits for the connection, then resolves the implementation.
func (f *Facade) WaitForReady(ctx context.Context, timeout time.Duration) error {
	if err := f.conn.WaitForReady(ctx, timeout); err != nil {
		return err
	}
	return f.Refresh(ctx)
}

// SchemaVersion returns the version reported by the database.
func (f *Facade) SchemaVersion(ctx context.Context) (int, error) {
	return f.conn.SchemaVersion(ctx)
}

// AddTags delegates to the active implementation.
func (f *Facade) AddTags(ctx context.Context, rows []db.TagRow, maxAllowedCount int) ([]db.TagRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return nil, err
	}
	return s.AddTags(ctx, rows, maxAllowedCount)
}

// GetTags delegates to the active implementation.
func (f *Facade) GetTags(ctx context.Context, q db.TagQuery) ([]db.TagRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetTags(ctx, q)
}

// GetTagsVersion delegates to the active implementation.
func (f *Facade) GetTagsVersion(ctx context.Context) (int64, error) {
	s, err := f.store(ctx)
	if err != nil {
		return 0, err
	}
	return s.GetTagsVersion(ctx)
}

// AssignOperation delegates to the active implementation.
func (f *Facade) AssignOperation(ctx context.Context, keys []int64, operationID string) ([]db.TagRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return nil, err
	}
	return s.AssignOperation(ctx, keys, operationID)
}

// CompleteOperation delegates to the active implementation.
func (f *Facade) CompleteOperation(ctx context.Context, keys []int64) ([]db.TagRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return nil, err
	}
	return s.CompleteOperation(ctx, keys)
}

// UpdateQueryStatus delegates to the active implementation.
func (f *Facade) UpdateQueryStatus(ctx context.Context, key int64, status int) (db.TagRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return db.TagRow{}, err
	}
	return s.UpdateQueryStatus(ctx, key, status)
}

// BeginDeleteTag delegates to the active implementation.
func (f *Facade) BeginDeleteTag(ctx context.Context, key, expectedVersion int64) (db.TagRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return db.TagRow{}, err
	}
	return s.BeginDeleteTag(ctx, key, expectedVersion)
}

// DeleteTagEntry delegates to the active implementation.
func (f *Facade) DeleteTagEntry(ctx context.Context, key int64) error {
	s, err := f.store(ctx)
	if err != nil {
		return err
	}
	return s.DeleteTagEntry(ctx, key)
}

// AddTagError delegates to the active implementation.
func (f *Facade) AddTagError(ctx context.Context, tagKey, watermark int64, code int) (int, bool, error) {
	s, err := f.store(ctx)
	if err != nil {
		return 0, false, err
	}
	return s.AddTagError(ctx, tagKey, watermark, code)
}

// GetTagErrors delegates to the active implementation.
func (f *Facade) GetTagErrors(ctx context.Context, tagKey int64, limit, offset int) ([]db.TagErrorRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetTagErrors(ctx, tagKey, limit, offset)
}

// DeleteTagErrorBatch delegates to the active implementation.
func (f *Facade) DeleteTagErrorBatch(ctx context.Context, tagKey int64, batchSize int) (int64, error) {
	s, err := f.store(ctx)
	if err != nil {
		return 0, err
	}
	return s.DeleteTagErrorBatch(ctx, tagKey, batchSize)
}

// InsertIndexRows delegates to the active implementation.
func (f *Facade) InsertIndexRows(ctx context.Context, batch db.IndexBatch) error {
	s, err := f.store(ctx)
	if err != nil {
		return err
	}
	return s.InsertIndexRows(ctx, batch)
}

// DeleteIndexRowBatch delegates to the active implementation.
func (f *Facade) DeleteIndexRowBatch(ctx context.Context, tagKey int64, partition db.Partition, batchSize int) (int64, error) {
	s, err := f.store(ctx)
	if err != nil {
		return 0, err
	}
	return s.DeleteIndexRowBatch(ctx, tagKey, partition, batchSize)
}

// BeginInstance delegates to the active implementation.
func (f *Facade) BeginInstance(ctx context.Context, studyUID, seriesUID, sopUID string) (db.InstanceRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return db.InstanceRow{}, err
	}
	return s.BeginInstance(ctx, studyUID, seriesUID, sopUID)
}

// CommitInstance delegates to the active implementation.
func (f *Facade) CommitInstance(ctx context.Context, batch db.IndexBatch) error {
	s, err := f.store(ctx)
	if err != nil {
		return err
	}
	return s.CommitInstance(ctx, batch)
}

// AbortInstance delegates to the active implementation.
func (f *Facade) AbortInstance(ctx context.Context, watermark int64) error {
	s, err := f.store(ctx)
	if err != nil {
		return err
	}
	return s.AbortInstance(ctx, watermark)
}

// InstancesAtOrBelow delegates to the active implementation.
func (f *Facade) InstancesAtOrBelow(ctx context.Context, watermark int64, limit int) ([]db.InstanceRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return nil, err
	}
	return s.InstancesAtOrBelow(ctx, watermark, limit)
}

// MaxWatermark delegates to the active implementation.
func (f *Facade) MaxWatermark(ctx context.Context) (int64, error) {
	s, err := f.store(ctx)
	if err != nil {
		return 0, err
	}
	return s.MaxWatermark(ctx)
}

// CreateOperation delegates to the active implementation.
func (f *Facade) CreateOperation(ctx context.Context, row db.OperationRow) (db.OperationRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return db.OperationRow{}, err
	}
	return s.CreateOperation(ctx, row)
}

// GetOperation delegates to the active implementation.
func (f *Facade) GetOperation(ctx context.Context, id string) (db.OperationRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return db.OperationRow{}, err
	}
	return s.GetOperation(ctx, id)
}

// ListOperations delegates to the active implementation.
func (f *Facade) ListOperations(ctx context.Context, statuses []string) ([]db.OperationRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListOperations(ctx, statuses)
}

// UpdateOperation delegates to the active implementation.
func (f *Facade) UpdateOperation(ctx context.Context, row db.OperationRow) (db.OperationRow, error) {
	s, err := f.store(ctx)
	if err != nil {
		return db.OperationRow{}, err
	}
	return s.UpdateOperation(ctx, row)
}
