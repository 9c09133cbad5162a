package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

// BeginInstance assigns the next watermark to a pending instance.
func (s *Store) BeginInstance(ctx context.Context, studyUID, seriesUID, sopUID string) (db.InstanceRow, error) {
	row := db.InstanceRow{StudyUID: studyUID, SeriesUID: seriesUID, SOPUID: sopUID, Status: db.InstancePending}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `INSERT INTO study (study_uid) VALUES ($1)
	ON CONFLICT (study_uid) DO UPDATE SET study_uid = EXCLUDED.study_uid
	RETURNING study_key`, studyUID).Scan(&row.StudyKey)
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, `INSERT INTO series (study_key, series_uid) VALUES ($1, $2)
	ON CONFLICT (study_key, series_uid) DO UPDATE SET series_uid = EXCLUDED.series_uid
	RETURNING series_key`, row.StudyKey, seriesUID).Scan(&row.SeriesKey)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `INSERT INTO instance
	(watermark, study_key, series_key, instance_key, study_uid, series_uid, sop_uid, status)
	VALUES (nextval('watermark_seq'), $1, $2, nextval('instance_key_seq'), $3, $4, $5, $6)
	RETURNING watermark, instance_key, created_at`,
			row.StudyKey, row.SeriesKey, studyUID, seriesUID, sopUID, db.InstancePending,
		).Scan(&row.Watermark, &row.InstanceKey, &row.CreatedAt)
	})
	if isUniqueViolation(err) {
		return db.InstanceRow{}, db.Wrap(db.OpBeginInstance, fmt.Errorf("%s: %w", sopUID, db.ErrKeyExists))
	}
	if err != nil {
		return db.InstanceRow{}, db.Wrap(db.OpBeginInstance, err)
	}
	return row, nil
}

// CommitInstance writes the index rows of batch and marks the instance created
// while the tag set version still matches.
func (s *Store) CommitInstance(ctx context.Context, batch db.IndexBatch) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkTagsVersion(ctx, tx, batch.TagsVersion); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE instance SET status = $2 WHERE watermark = $1`,
			batch.Watermark, db.InstanceCreated)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return db.ErrKeyNotFound
		}
		return upsertRows(ctx, tx, batch.Rows)
	})
	return db.Wrap(db.OpCommitInstance, err)
}

// AbortInstance removes a pending instance. It owns no index rows until commit.
func (s *Store) AbortInstance(ctx context.Context, watermark int64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var status int
		err := tx.QueryRowContext(ctx, `SELECT status FROM instance WHERE watermark = $1 FOR UPDATE`, watermark).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return db.ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		if status != db.InstancePending {
			return db.ErrConflict
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM instance WHERE watermark = $1`, watermark)
		return err
	})
	return db.Wrap(db.OpAbortInstance, err)
}

// InstancesAtOrBelow returns created instances at or below watermark, highest first.
func (s *Store) InstancesAtOrBelow(ctx context.Context, watermark int64, limit int) ([]db.InstanceRow, error) {
	query := `SELECT watermark, study_key, series_key, instance_key, study_uid, series_uid, sop_uid, status, created_at
	FROM instance WHERE watermark <= $1 AND status = $2 ORDER BY watermark DESC`
	args := []any{watermark, db.InstanceCreated}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, db.Wrap(db.OpInstancesAtOrBelow, err)
	}
	defer rows.Close()

	out := make([]db.InstanceRow, 0)
	for rows.Next() {
		var r db.InstanceRow
		if err := rows.Scan(&r.Watermark, &r.StudyKey, &r.SeriesKey, &r.InstanceKey,
			&r.StudyUID, &r.SeriesUID, &r.SOPUID, &r.Status, &r.CreatedAt); err != nil {
			return nil, db.Wrap(db.OpInstancesAtOrBelow, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap(db.OpInstancesAtOrBelow, err)
	}
	return out, nil
}

// MaxWatermark returns the highest watermark stored, 0 when empty.
func (s *Store) MaxWatermark(ctx context.Context) (int64, error) {
	var wm int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(watermark), 0) FROM instance`).Scan(&wm); err != nil {
		return 0, db.Wrap(db.OpMaxWatermark, err)
	}
	return wm, nil
}
