package reindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	domop "github.com/kailas-cloud/dicomtags/internal/domain/reindex"
	"github.com/kailas-cloud/dicomtags/internal/metrics"
)

// Config tunes the orchestrator.
type Config struct {
	BatchSize               int
	MaxParallelCount        int
	MaxConcurrentOperations int
	MaxRecordRetries        int
	RetryBackoff            time.Duration
	PollInterval            time.Duration
	LeaseTTL                time.Duration
	MaxAttempts             int
	RequeueBaseDelay        time.Duration
	RequeueMaxDelay         time.Duration
	// MaxRecordsPerSec throttles backfill reads across all operations. 0 is unlimited.
	MaxRecordsPerSec float64
	// Owner identifies this worker in leases. Defaults to a random id.
	Owner string
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxParallelCount <= 0 {
		c.MaxParallelCount = 4
	}
	if c.MaxConcurrentOperations <= 0 {
		c.MaxConcurrentOperations = 1
	}
	if c.MaxRecordRetries < 0 {
		c.MaxRecordRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RequeueBaseDelay <= 0 {
		c.RequeueBaseDelay = 30 * time.Second
	}
	if c.RequeueMaxDelay <= 0 {
		c.RequeueMaxDelay = 10 * time.Minute
	}
	if c.Owner == "" {
		c.Owner = uuid.NewString()
	}
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Registry   Registry
	Operations OperationRepository
	Instances  InstanceSource
	Metadata   MetadataLoader
	Indexer    Indexer
	Leases     Leaser
}

// Service starts reindex operations and runs them in the background.
type Service struct {
	Deps
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	wake    chan struct{}

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
	wg      sync.WaitGroup
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) *Service {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		Deps:    deps,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentOperations)),
		wake:    make(chan struct{}, 1),
		running: make(map[uuid.UUID]struct{}),
	}
	if cfg.MaxRecordsPerSec > 0 {
		burst := int(cfg.MaxRecordsPerSec)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRecordsPerSec), burst)
	}
	return s
}

// SetClock replaces the clock used for operation timestamps and requeue backoff.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Start queues a backfill of keys over every instance stored so far.
func (s *Service) Start(ctx context.Context, keys []int64) (uuid.UUID, error) {
	if len(keys) == 0 {
		return uuid.Nil, fmt.Errorf("start reindex: %w: no tags given", domain.ErrInvalidTag)
	}
	now := s.now()
	batching := domop.Batching{Size: s.cfg.BatchSize, MaxParallelCount: s.cfg.MaxParallelCount}
	op, err := s.Operations.Create(ctx, domop.Reserve(keys, batching, now))
	if err != nil {
		return uuid.Nil, fmt.Errorf("start reindex: %w", err)
	}

	assigned, err := s.Registry.AssignReindexOperation(ctx, keys, op.ID())
	if err != nil {
		return uuid.Nil, errors.Join(fmt.Errorf("start reindex: %w", err), s.abandon(ctx, op, err.Error()))
	}
	if len(assigned) == 0 {
		reason := "none of the requested tags could be assigned"
		if err := s.abandon(ctx, op, reason); err != nil {
			return uuid.Nil, fmt.Errorf("start reindex: %w", err)
		}
		return uuid.Nil, fmt.Errorf("start reindex: %w: %s", domain.ErrBusy, reason)
	}

	// A failure here leaves the operation reserved with its tags; Poll releases it later.
	if op, err = s.release(ctx, op, entryKeys(assigned)); err != nil {
		return uuid.Nil, fmt.Errorf("start reindex: %w", err)
	}
	start := op.Checkpoint().StartWatermark

	s.logger.Info("reindex operation queued",
		zap.String("operation_id", op.ID().String()),
		zap.Int64s("tag_keys", op.Checkpoint().TagKeys),
		zap.Int64("start_watermark", start),
	)
	s.signal()
	return op.ID(), nil
}

// release snapshots the newest watermark and queues a reserved operation over keys.
// The snapshot must follow the assignment: an instance committed after it sees the
// tags as Reindexing, and one committed with an older tag set is reindexed on commit.
func (s *Service) release(ctx context.Context, op domop.Operation, keys []int64) (domop.Operation, error) {
	start, err := s.Instances.MaxWatermark(ctx)
	if err != nil {
		return op, fmt.Errorf("read max watermark: %w", err)
	}
	cp := op.Checkpoint()
	queued, err := op.Release(domop.NewCheckpoint(start, keys, cp.Batching, cp.CreatedTime), s.now())
	if err != nil {
		return op, err
	}
	return s.Operations.Update(ctx, queued)
}

// abandon fails an operation that never held any tag. Its attempts stay at zero so it is not requeued.
func (s *Service) abandon(ctx context.Context, op domop.Operation, reason string) error {
	if _, err := s.Operations.Update(ctx, op.Fail(reason, s.now())); err != nil {
		return fmt.Errorf("fail operation %s: %w", op.ID(), err)
	}
	return nil
}

// GetStatus reports the progress of an operation.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (domop.Summary, error) {
	op, err := s.Operations.Get(ctx, id)
	if err != nil {
		return domop.Summary{}, fmt.Errorf("get operation %s: %w", id, err)
	}
	entries, err := s.Registry.GetByKeys(ctx, op.Checkpoint().TagKeys)
	if err != nil {
		return domop.Summary{}, fmt.Errorf("get operation %s: %w", id, err)
	}
	errorCount := 0
	for _, e := range entries {
		errorCount += e.ErrorCount()
	}
	return op.Summarize(errorCount), nil
}

// Run polls the operation queue until ctx is cancelled, then waits for running operations
// to reach their next checkpoint.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	defer s.Wait()

	s.logger.Info("reindex worker started",
		zap.String("owner", s.cfg.Owner),
		zap.Int("max_concurrent_operations", s.cfg.MaxConcurrentOperations),
	)
	for {
		s.Poll(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("reindex worker stopping")
			return nil
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// Wait blocks until every operation started by Poll has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Poll requeues failed operations that are due and starts queued or orphaned running ones.
func (s *Service) Poll(ctx context.Context) {
	if err := s.requeueFailed(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("requeue failed operations", zap.Error(err))
	}
	if err := s.dispatch(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("dispatch reindex operations", zap.Error(err))
	}
}

func (s *Service) requeueFailed(ctx context.Context) error {
	failed, err := s.Operations.List(ctx, domop.StatusFailed)
	if err != nil {
		return err
	}
	now := s.now()
	for _, op := range failed {
		if op.Reserved() {
			if err := s.releaseStale(ctx, op); err != nil {
				return err
			}
			continue
		}
		if op.Attempts() == 0 || op.Attempts() >= s.cfg.MaxAttempts {
			continue
		}
		if now.Before(op.RetryAt(s.cfg.RequeueBaseDelay, s.cfg.RequeueMaxDelay)) {
			continue
		}
		held, err := s.Registry.GetByOperation(ctx, op.ID())
		if err != nil {
			return err
		}
		if len(held) == 0 {
			continue
		}
		queued, err := op.Requeue(now)
		if err != nil {
			return err
		}
		if _, err := s.Operations.Update(ctx, queued); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return err
		}
		metrics.ReindexOperationsTotal.WithLabelValues("requeued").Inc()
		s.logger.Info("reindex operation requeued",
			zap.String("operation_id", op.ID().String()), zap.Int("attempts", op.Attempts()))
	}
	return nil
}

// releaseStale finishes a Start that assigned tags but failed before queueing the operation.
// Recent reservations are left to the Start still running them.
func (s *Service) releaseStale(ctx context.Context, op domop.Operation) error {
	if s.now().Before(op.UpdatedAt().Add(s.cfg.RequeueBaseDelay)) {
		return nil
	}
	held, err := s.Registry.GetByOperation(ctx, op.ID())
	if err != nil || len(held) == 0 {
		return err
	}
	if _, err := s.release(ctx, op, entryKeys(held)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("release operation %s: %w", op.ID(), err)
	}
	s.logger.Info("reserved reindex operation released", zap.String("operation_id", op.ID().String()))
	return nil
}

func (s *Service) dispatch(ctx context.Context) error {
	pending, err := s.Operations.List(ctx, domop.StatusQueued, domop.StatusRunning)
	if err != nil {
		return err
	}
	for _, op := range pending {
		if s.isRunning(op.ID()) {
			continue
		}
		if !s.sem.TryAcquire(1) {
			return nil
		}
		ok, err := s.Leases.Acquire(ctx, leaseKey(op.ID()), s.cfg.Owner, s.cfg.LeaseTTL)
		if err != nil || !ok {
			s.sem.Release(1)
			if err != nil {
				return fmt.Errorf("acquire lease for %s: %w", op.ID(), err)
			}
			continue
		}
		s.track(op.ID())
		s.wg.Add(1)
		go s.execute(ctx, op)
	}
	return nil
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) isRunning(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

func (s *Service) track(id uuid.UUID) {
	s.mu.Lock()
	s.running[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) untrack(id uuid.UUID) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func leaseKey(id uuid.UUID) string {
	return "reindex:" + id.String()
}
