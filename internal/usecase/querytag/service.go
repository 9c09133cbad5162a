package querytag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	"github.com/kailas-cloud/dicomtags/internal/domain/valuetype"
	"github.com/kailas-cloud/dicomtags/internal/logger"
)

// Config tunes the registry.
type Config struct {
	DeleteBatchSize int
	SnapshotMaxAge  time.Duration
	// DisableQueryAfterErrors disables querying a tag once it has this many failed records. 0 never disables.
	DisableQueryAfterErrors int
}

const (
	defaultDeleteBatchSize = 1000
	defaultSnapshotMaxAge  = 10 * time.Second
)

// Service manages the extended query tag lifecycle.
type Service struct {
	repo   Repository
	purger IndexPurger
	dict   dicom.Dictionary
	cfg    Config
	now    func() time.Time

	mu       sync.Mutex
	snapshot domtag.Snapshot
}

// New creates a registry service.
func New(repo Repository, purger IndexPurger, dict dicom.Dictionary, cfg Config) *Service {
	if cfg.DeleteBatchSize <= 0 {
		cfg.DeleteBatchSize = defaultDeleteBatchSize
	}
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = defaultSnapshotMaxAge
	}
	return &Service{repo: repo, purger: purger, dict: dict, cfg: cfg, now: time.Now}
}

// SetClock replaces the clock used for snapshot ageing.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Add validates and registers tags in status Adding.
func (s *Service) Add(ctx context.Context, reqs []domtag.AddRequest, maxAllowedCount int) ([]domtag.Entry, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("add tags: %w: no tags given", domain.ErrInvalidTag)
	}

	descs := make([]domtag.Descriptor, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		d, err := domtag.NewDescriptor(req, s.dict)
		if err != nil {
			return nil, fmt.Errorf("add tags: %w", err)
		}
		if _, dup := seen[d.Path()]; dup {
			return nil, fmt.Errorf("add tags: %w",
				domain.NewTagError(d.Path(), fmt.Errorf("%w: tag appears more than once", domain.ErrInvalidTag)))
		}
		seen[d.Path()] = struct{}{}
		descs = append(descs, d)
	}

	entries, err := s.repo.Add(ctx, descs, maxAllowedCount)
	if err != nil {
		return nil, fmt.Errorf("add tags: %w", err)
	}
	s.Invalidate()
	logger.FromContext(ctx).Info("extended query tags added", zap.Int("count", len(entries)))
	return entries, nil
}

// Get returns the tag registered under a path or keyword.
func (s *Service) Get(ctx context.Context, path string) (domtag.Entry, error) {
	tag, err := domtag.ParseTag(path, s.dict)
	if err != nil {
		return domtag.Entry{}, fmt.Errorf("get tag: %w", err)
	}
	e, err := s.repo.Get(ctx, tag.Path())
	if err != nil {
		return domtag.Entry{}, fmt.Errorf("get tag %s: %w", tag.Path(), err)
	}
	return e, nil
}

// GetByKeys returns the tags with the given keys.
func (s *Service) GetByKeys(ctx context.Context, keys []int64) ([]domtag.Entry, error) {
	entries, err := s.repo.GetByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get tags by key: %w", err)
	}
	return entries, nil
}

// GetByOperation returns the tags held by a reindex operation.
func (s *Service) GetByOperation(ctx context.Context, opID uuid.UUID) ([]domtag.Entry, error) {
	entries, err := s.repo.GetByOperation(ctx, opID)
	if err != nil {
		return nil, fmt.Errorf("get tags of operation %s: %w", opID, err)
	}
	return entries, nil
}

// List pages through every tag ordered by key.
func (s *Service) List(ctx context.Context, limit, offset int) ([]domtag.Entry, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("list tags: %w: negative limit or offset", domain.ErrInvalidTag)
	}
	entries, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return entries, nil
}

// AssignReindexOperation hands tags to opID. Calling it again with the same operation is a no-op.
func (s *Service) AssignReindexOperation(ctx context.Context, keys []int64, opID uuid.UUID) ([]domtag.Entry, error) {
	entries, err := s.repo.Assign(ctx, keys, opID)
	if err != nil {
		return nil, fmt.Errorf("assign tags to %s: %w", opID, err)
	}
	s.Invalidate()
	return entries, nil
}

// CompleteReindexing moves backfilled tags to Ready.
func (s *Service) CompleteReindexing(ctx context.Context, keys []int64) ([]domtag.Entry, error) {
	entries, err := s.repo.Complete(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("complete reindexing: %w", err)
	}
	s.Invalidate()
	return entries, nil
}

// UpdateQueryStatus enables or disables querying a tag.
func (s *Service) UpdateQueryStatus(ctx context.Context, path string, status domtag.QueryStatus) (domtag.Entry, error) {
	e, err := s.Get(ctx, path)
	if err != nil {
		return domtag.Entry{}, err
	}
	updated, err := s.repo.UpdateQueryStatus(ctx, e.Key(), status)
	if err != nil {
		return domtag.Entry{}, fmt.Errorf("update query status of %s: %w", e.Path(), err)
	}
	s.Invalidate()
	return updated, nil
}

// Delete removes a tag, its index rows and its error records.
// A tag left in Deleting by an earlier failure is purged again from where it stopped.
func (s *Service) Delete(ctx context.Context, path string) error {
	e, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := checkDeletable(e); err != nil {
		return fmt.Errorf("delete tag %s: %w", e.Path(), err)
	}

	log := logger.FromContext(ctx).With(zap.String("tag", e.Path()), zap.Int64("key", e.Key()))
	deleting := e
	if e.Status() == domtag.StatusDeleting {
		log.Info("resuming interrupted tag deletion")
	} else {
		if deleting, err = s.repo.BeginDelete(ctx, e); err != nil {
			return fmt.Errorf("delete tag %s: %w", e.Path(), err)
		}
		s.Invalidate()
	}

	removed, err := s.purgeRows(ctx, deleting)
	if err != nil {
		return fmt.Errorf("delete tag %s: %w", e.Path(), err)
	}
	if err := s.purgeErrors(ctx, deleting.Key()); err != nil {
		return fmt.Errorf("delete tag %s: %w", e.Path(), err)
	}
	if err := s.repo.DeleteEntry(ctx, deleting.Key()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete tag %s: %w", e.Path(), err)
	}
	s.Invalidate()
	log.Info("extended query tag deleted", zap.Int64("index_rows", removed))
	return nil
}

// checkDeletable refuses tags a reindex operation still writes to.
func checkDeletable(e domtag.Entry) error {
	if e.Status() != domtag.StatusReindexing {
		return nil
	}
	if op, ok := e.OperationID(); ok {
		return fmt.Errorf("%w: held by reindex operation %s", domain.ErrBusy, op)
	}
	return nil
}

func (s *Service) purgeRows(ctx context.Context, e domtag.Entry) (int64, error) {
	cat, err := valuetype.Of(e.VR())
	if err != nil {
		return 0, err
	}
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.purger.Purge(ctx, e.Key(), cat, s.cfg.DeleteBatchSize)
		if err != nil {
			return total, fmt.Errorf("purge index rows: %w", err)
		}
		total += n
		if n < int64(s.cfg.DeleteBatchSize) {
			return total, nil
		}
	}
}

func (s *Service) purgeErrors(ctx context.Context, key int64) error {
	for {
		n, err := s.repo.PurgeErrors(ctx, key, s.cfg.DeleteBatchSize)
		if errors.Is(err, domain.ErrUpgradeRequired) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("purge tag errors: %w", err)
		}
		if n < int64(s.cfg.DeleteBatchSize) {
			return nil
		}
	}
}

// GetErrors pages through the records that failed indexing for a tag.
func (s *Service) GetErrors(ctx context.Context, path string, limit, offset int) ([]domtag.ErrorRecord, error) {
	e, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	recs, err := s.repo.Errors(ctx, e.Key(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get errors of %s: %w", e.Path(), err)
	}
	return recs, nil
}

// RecordError stores a failed record for a tag. The tag's query status is disabled
// when its error count reaches the configured threshold.
func (s *Service) RecordError(ctx context.Context, key, watermark int64, code int) error {
	count, added, err := s.repo.AddError(ctx, key, watermark, code)
	if err != nil {
		return fmt.Errorf("record error for tag %d: %w", key, err)
	}
	limit := s.cfg.DisableQueryAfterErrors
	if !added || limit <= 0 || count != limit {
		return nil
	}
	if _, err := s.repo.UpdateQueryStatus(ctx, key, domtag.QueryDisabled); err != nil {
		return fmt.Errorf("disable query for tag %d: %w", key, err)
	}
	s.Invalidate()
	logger.FromContext(ctx).Warn("query disabled after indexing errors",
		zap.Int64("key", key), zap.Int("errors", count))
	return nil
}

// Snapshot returns the registry state, re-reading it when the cached copy is older
// than the configured maximum age or when force is set.
// On a schema without tag set versions Version is 0, which disables the ingestion check.
func (s *Service) Snapshot(ctx context.Context, force bool) (domtag.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !force && !s.snapshot.IsStale(now, s.cfg.SnapshotMaxAge) {
		return s.snapshot, nil
	}

	// Version before entries: a change in between fails the later version check.
	version, err := s.repo.Version(ctx)
	if errors.Is(err, domain.ErrUpgradeRequired) {
		version, err = 0, nil
	}
	if err != nil {
		return domtag.Snapshot{}, fmt.Errorf("snapshot tags: %w", err)
	}
	entries, err := s.repo.List(ctx, 0, 0)
	if err != nil {
		return domtag.Snapshot{}, fmt.Errorf("snapshot tags: %w", err)
	}
	s.snapshot = domtag.Snapshot{Entries: entries, Version: version, RefreshedAt: now}
	return s.snapshot, nil
}

// Invalidate drops the cached snapshot.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.snapshot = domtag.Snapshot{}
	s.mu.Unlock()
}
