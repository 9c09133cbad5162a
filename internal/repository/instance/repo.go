package instance

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/index"
	dominst "github.com/kailas-cloud/dicomtags/internal/domain/instance"
	idxrepo "github.com/kailas-cloud/dicomtags/internal/repository/index"
)

// store is the consumer interface for instances (ISP).
type store interface {
	BeginInstance(ctx context.Context, studyUID, seriesUID, sopUID string) (db.InstanceRow, error)
	CommitInstance(ctx context.Context, batch db.IndexBatch) error
	AbortInstance(ctx context.Context, watermark int64) error
	InstancesAtOrBelow(ctx context.Context, watermark int64, limit int) ([]db.InstanceRow, error)
	MaxWatermark(ctx context.Context) (int64, error)
}

// Repo implements instance watermark bookkeeping.
type Repo struct {
	store store
}

// New creates an instance repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

func rowToInstance(r db.InstanceRow) dominst.Instance {
	return dominst.Instance{
		Watermark: r.Watermark,
		Keys:      index.Keys{Study: r.StudyKey, Series: r.SeriesKey, Instance: r.InstanceKey},
		Identifiers: dominst.Identifiers{
			StudyUID:  r.StudyUID,
			SeriesUID: r.SeriesUID,
			SOPUID:    r.SOPUID,
		},
		CreatedAt: r.CreatedAt,
	}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrKeyNotFound):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case errors.Is(err, db.ErrKeyExists):
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	case errors.Is(err, db.ErrConflict):
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	case errors.Is(err, db.ErrTagsVersionMismatch):
		return fmt.Errorf("%w: %w", domain.ErrTagsChanged, err)
	case errors.Is(err, db.ErrUpgradeRequired):
		return fmt.Errorf("%w: %w", domain.ErrUpgradeRequired, err)
	default:
		return err
	}
}

// Begin assigns a watermark to a new pending instance.
func (r *Repo) Begin(ctx context.Context, ids dominst.Identifiers) (dominst.Instance, error) {
	row, err := r.store.BeginInstance(ctx, ids.StudyUID, ids.SeriesUID, ids.SOPUID)
	if err != nil {
		return dominst.Instance{}, mapErr(err)
	}
	return rowToInstance(row), nil
}

// Commit publishes the index rows of a pending instance and makes it visible to
// backfill in one step. ErrTagsChanged means nothing was written.
func (r *Repo) Commit(ctx context.Context, batch index.Batch) error {
	return mapErr(r.store.CommitInstance(ctx, idxrepo.BatchToDB(batch)))
}

// Abort removes a pending instance.
func (r *Repo) Abort(ctx context.Context, watermark int64) error {
	return mapErr(r.store.AbortInstance(ctx, watermark))
}

// AtOrBelow returns up to limit created instances at or below watermark, highest first.
func (r *Repo) AtOrBelow(ctx context.Context, watermark int64, limit int) ([]dominst.Instance, error) {
	rows, err := r.store.InstancesAtOrBelow(ctx, watermark, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]dominst.Instance, len(rows))
	for i, row := range rows {
		out[i] = rowToInstance(row)
	}
	return out, nil
}

// MaxWatermark returns the highest assigned watermark.
func (r *Repo) MaxWatermark(ctx context.Context) (int64, error) {
	wm, err := r.store.MaxWatermark(ctx)
	return wm, mapErr(err)
}
