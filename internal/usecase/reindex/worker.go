package reindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	dominst "github.com/kailas-cloud/dicomtags/internal/domain/instance"
	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	domop "github.com/kailas-cloud/dicomtags/internal/domain/reindex"
	"github.com/kailas-cloud/dicomtags/internal/domain/validation"
	"github.com/kailas-cloud/dicomtags/internal/logger"
	"github.com/kailas-cloud/dicomtags/internal/metrics"
	"github.com/kailas-cloud/dicomtags/internal/usecase/indexer"
)

var (
	errLeaseLost = errors.New("operation lease lost")
	errTakenOver = errors.New("operation updated by another worker")
)

// execute runs one leased operation to completion, failure or cancellation.
func (s *Service) execute(ctx context.Context, op domop.Operation) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer s.untrack(op.ID())

	log := s.logger.With(zap.String("operation_id", op.ID().String()))
	ctx = logger.ContextWithLogger(ctx, log)
	key := leaseKey(op.ID())
	defer func() {
		if err := s.Leases.Release(context.WithoutCancel(ctx), key, s.cfg.Owner); err != nil {
			log.Warn("release lease", zap.Error(err))
		}
	}()

	opCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go s.keepLease(opCtx, cancel, key, log)

	metrics.ReindexActiveOperations.Inc()
	defer metrics.ReindexActiveOperations.Dec()

	err := s.process(opCtx, op, log)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		log.Info("reindex operation paused", zap.Error(err))
	case errors.Is(context.Cause(opCtx), errLeaseLost), errors.Is(err, errTakenOver):
		log.Warn("reindex operation abandoned to another worker", zap.Error(err))
	default:
		log.Error("reindex operation failed", zap.Error(err))
		if ferr := s.fail(ctx, op, err); ferr != nil {
			log.Error("record operation failure", zap.Error(ferr))
		}
	}
}

func (s *Service) keepLease(ctx context.Context, cancel context.CancelCauseFunc, key string, log *zap.Logger) {
	ticker := time.NewTicker(s.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := s.Leases.Renew(ctx, key, s.cfg.Owner, s.cfg.LeaseTTL)
			if err != nil {
				log.Warn("renew lease", zap.Error(err))
				continue
			}
			if !ok {
				cancel(errLeaseLost)
				return
			}
		}
	}
}

// process walks the operation's instances from its checkpoint down to the first watermark.
func (s *Service) process(ctx context.Context, op domop.Operation, log *zap.Logger) error {
	op, err := op.Start(s.now())
	if err != nil {
		return err
	}
	if op, err = s.update(ctx, op); err != nil {
		return err
	}

	entries, err := s.Registry.GetByOperation(ctx, op.ID())
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	log.Info("reindex operation running",
		zap.Int("attempt", op.Attempts()),
		zap.Int("tags", len(entries)),
		zap.Int64("next_watermark", op.Checkpoint().Next()),
	)

	for len(entries) > 0 {
		cp := op.Checkpoint()
		if cp.Done() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var page []dominst.Instance
		err := s.retry(ctx, func() error {
			var err error
			page, err = s.Instances.AtOrBelow(ctx, cp.Next(), batchSize(cp, s.cfg))
			return err
		})
		if err != nil {
			return fmt.Errorf("read instances at or below %d: %w", cp.Next(), err)
		}
		if len(page) == 0 {
			break
		}

		if err := s.processPage(ctx, cp, page, entries); err != nil {
			return err
		}
		lowest := page[len(page)-1].Watermark
		if op, err = s.update(ctx, op.Progress(cp.Advance(lowest), s.now())); err != nil {
			return err
		}
		metrics.ReindexPagesTotal.Inc()
		metrics.ReindexPercentComplete.WithLabelValues(op.ID().String()).Set(float64(op.Checkpoint().PercentComplete))
	}

	if len(entries) > 0 {
		err := s.retry(ctx, func() error {
			_, err := s.Registry.CompleteReindexing(ctx, entryKeys(entries))
			return err
		})
		if err != nil {
			return fmt.Errorf("complete tags: %w", err)
		}
	}
	if _, err := s.update(ctx, op.Complete(s.now())); err != nil {
		return err
	}

	metrics.ReindexOperationsTotal.WithLabelValues("completed").Inc()
	metrics.ReindexPercentComplete.DeleteLabelValues(op.ID().String())
	log.Info("reindex operation completed", zap.Int("tags", len(entries)))
	return nil
}

func (s *Service) processPage(ctx context.Context, cp domop.Checkpoint, page []dominst.Instance, entries []domtag.Entry) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelCount(cp, s.cfg))
	for _, inst := range page {
		g.Go(func() error {
			return s.reindexRecord(gctx, inst, entries)
		})
	}
	return g.Wait()
}

func (s *Service) reindexRecord(ctx context.Context, inst dominst.Instance, entries []domtag.Entry) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var ds *dicom.Dataset
	err := s.retry(ctx, func() error {
		var err error
		ds, err = s.Metadata.Load(ctx, inst.Watermark)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("skipping unreadable record",
			zap.Int64("watermark", inst.Watermark), zap.Error(err))
		metrics.ReindexRecordsTotal.WithLabelValues("unreadable").Inc()
		for _, e := range entries {
			if err := s.recordError(ctx, e.Key(), inst.Watermark, int(validation.RecordUnreadable)); err != nil {
				return err
			}
		}
		return nil
	}

	var res indexer.Result
	err = s.retry(ctx, func() error {
		var err error
		res, err = s.Indexer.Index(ctx, inst, ds, entries, indexer.ModeSoft)
		return err
	})
	if err != nil {
		return fmt.Errorf("index watermark %d: %w", inst.Watermark, err)
	}
	for _, f := range res.Failures {
		if err := s.recordError(ctx, f.Entry.Key(), inst.Watermark, f.Code()); err != nil {
			return err
		}
	}
	if len(res.Failures) > 0 {
		metrics.ReindexRecordsTotal.WithLabelValues("failed").Inc()
	} else {
		metrics.ReindexRecordsTotal.WithLabelValues("indexed").Inc()
	}
	return nil
}

// recordError stores a failed record. Schemas without error tracking drop it.
func (s *Service) recordError(ctx context.Context, key, watermark int64, code int) error {
	err := s.retry(ctx, func() error {
		return s.Registry.RecordError(ctx, key, watermark, code)
	})
	if errors.Is(err, domain.ErrUpgradeRequired) {
		return nil
	}
	return err
}

// update persists op. A version conflict means another worker took the operation over.
func (s *Service) update(ctx context.Context, op domop.Operation) (domop.Operation, error) {
	var updated domop.Operation
	err := s.retry(ctx, func() error {
		var err error
		updated, err = s.Operations.Update(ctx, op)
		return err
	})
	if errors.Is(err, domain.ErrConflict) {
		return domop.Operation{}, fmt.Errorf("%w: %w", errTakenOver, err)
	}
	if err != nil {
		return domop.Operation{}, fmt.Errorf("update operation: %w", err)
	}
	return updated, nil
}

// fail marks the operation Failed, reading the latest version first.
func (s *Service) fail(ctx context.Context, op domop.Operation, cause error) error {
	current, err := s.Operations.Get(ctx, op.ID())
	if err != nil {
		return err
	}
	if current.Status().IsTerminal() {
		return nil
	}
	if _, err := s.Operations.Update(ctx, current.Fail(cause.Error(), s.now())); err != nil {
		return err
	}
	metrics.ReindexOperationsTotal.WithLabelValues("failed").Inc()
	metrics.ReindexPercentComplete.DeleteLabelValues(op.ID().String())
	return nil
}

// retry runs fn until it succeeds, fails permanently or MaxRecordRetries extra attempts
// are spent, doubling the delay between attempts.
func (s *Service) retry(ctx context.Context, fn func() error) error {
	delay := s.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || attempt >= s.cfg.MaxRecordRetries || isPermanent(err) {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrUpgradeRequired) ||
		errors.Is(err, domain.ErrValidationFailed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func batchSize(cp domop.Checkpoint, cfg Config) int {
	if cp.Batching.Size > 0 {
		return cp.Batching.Size
	}
	return cfg.BatchSize
}

func parallelCount(cp domop.Checkpoint, cfg Config) int {
	if cp.Batching.MaxParallelCount > 0 {
		return cp.Batching.MaxParallelCount
	}
	return cfg.MaxParallelCount
}

func entryKeys(entries []domtag.Entry) []int64 {
	keys := make([]int64, len(entries))
	for i, e := range entries {
		keys[i] = e.Key()
	}
	return keys
}
