package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

var _ db.Store = (*Store)(nil)

// Schema versions served by this package.
const (
	SchemaV1 = 1
	SchemaV2 = 2
)

const (
	statusAdding     = 0
	statusReindexing = 1
	statusReady      = 2
	statusDeleting   = 3
	queryEnabled     = 1
)

// tagSchema describes what a schema version offers.
type tagSchema struct {
	version int
	// columns selects every db.TagRow field; schema 1 substitutes constants for
	// the query status and error count it does not store.
	columns string
	// tracked reports whether query status, tag errors and the tag set version exist.
	tracked bool
}

var (
	schemaV1 = tagSchema{
		version: SchemaV1,
		columns: `tag_key, tag_path, tag_vr, COALESCE(private_creator, ''), tag_level, tag_status,
	1, 0, COALESCE(operation_id::text, ''), version, created_at`,
	}
	schemaV2 = tagSchema{
		version: SchemaV2,
		columns: `tag_key, tag_path, tag_vr, COALESCE(private_creator, ''), tag_level, tag_status,
	query_status, error_count, COALESCE(operation_id::text, ''), version, created_at`,
		tracked: true,
	}
)

// Store implements db.Store for one schema version over a shared Conn.
type Store struct {
	*Conn
	schema tagSchema
}

// NewStoreV1 serves schema 1. Query status, tag errors and tag set version checks
// report db.ErrUpgradeRequired.
func NewStoreV1(conn *Conn) *Store {
	return &Store{Conn: conn, schema: schemaV1}
}

// NewStoreV2 serves schema 2 and later.
func NewStoreV2(conn *Conn) *Store {
	return &Store{Conn: conn, schema: schemaV2}
}

// MinSchemaVersion returns the lowest schema version the store works against.
func (s *Store) MinSchemaVersion() int { return s.schema.version }

func (s *Store) requireTracked(op string) error {
	if s.schema.tracked {
		return nil
	}
	return db.Wrap(op, fmt.Errorf("schema %d: %w", s.schema.version, db.ErrUpgradeRequired))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTag(row scanner) (db.TagRow, error) {
	var r db.TagRow
	err := row.Scan(&r.Key, &r.Path, &r.VR, &r.PrivateCreator, &r.Level, &r.Status,
		&r.QueryStatus, &r.ErrorCount, &r.OperationID, &r.Version, &r.CreatedAt)
	return r, err
}

func scanTags(rows *sql.Rows) ([]db.TagRow, error) {
	defer rows.Close()
	out := make([]db.TagRow, 0)
	for rows.Next() {
		r, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// bumpTagsVersion advances the tag set version inside tx. Schema 1 has none.
func (s *Store) bumpTagsVersion(ctx context.Context, tx *sql.Tx) error {
	if !s.schema.tracked {
		return nil
	}
	_, err := tx.ExecContext(ctx, `UPDATE extended_query_tag_version SET version = version + 1 WHERE id = 1`)
	return err
}

// checkTagsVersion locks the tag set version for the rest of tx and compares it.
func (s *Store) checkTagsVersion(ctx context.Context, tx *sql.Tx, want int64) error {
	if want == 0 {
		return nil
	}
	if !s.schema.tracked {
		return fmt.Errorf("schema %d: %w", s.schema.version, db.ErrUpgradeRequired)
	}
	var got int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM extended_query_tag_version WHERE id = 1 FOR SHARE`).Scan(&got)
	if err != nil {
		return err
	}
	if got != want {
		return db.ErrTagsVersionMismatch
	}
	return nil
}

// --- tags ---

// AddTags inserts rows in status Adding under a table lock so the duplicate and count
// checks hold. A duplicate path wins over the limit.
func (s *Store) AddTags(ctx context.Context, rows []db.TagRow, maxAllowedCount int) ([]db.TagRow, error) {
	out := make([]db.TagRow, 0, len(rows))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE extended_query_tag IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		paths := make([]string, len(rows))
		for i, r := range rows {
			paths[i] = r.Path
		}
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT tag_path FROM extended_query_tag WHERE tag_path = ANY($1) LIMIT 1`,
			pq.Array(paths)).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%s: %w", existing, db.ErrKeyExists)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM extended_query_tag`).Scan(&count); err != nil {
			return err
		}
		if count+len(rows) > maxAllowedCount {
			return db.ErrLimitExceeded
		}
		insert := `INSERT INTO extended_query_tag (tag_path, tag_vr, private_creator, tag_level, tag_status)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (tag_path) DO NOTHING
	RETURNING ` + s.schema.columns
		for _, r := range rows {
			row, err := scanTag(tx.QueryRowContext(ctx, insert,
				r.Path, r.VR, nullString(r.PrivateCreator), r.Level, statusAdding))
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%s: %w", r.Path, db.ErrKeyExists)
			}
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return s.bumpTagsVersion(ctx, tx)
	})
	if err != nil {
		return nil, db.Wrap(db.OpAddTags, err)
	}
	return out, nil
}

// GetTags selects tags by path, keys, operation or all of them.
func (s *Store) GetTags(ctx context.Context, q db.TagQuery) ([]db.TagRow, error) {
	query := `SELECT ` + s.schema.columns + ` FROM extended_query_tag`
	var args []any
	switch {
	case q.Path != "":
		query += ` WHERE tag_path = $1`
		args = append(args, q.Path)
	case len(q.Keys) > 0:
		query += ` WHERE tag_key = ANY($1)`
		args = append(args, pq.Array(q.Keys))
	case q.OperationID != "":
		query += ` WHERE operation_id = $1`
		args = append(args, q.OperationID)
	}
	query += ` ORDER BY tag_key`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, db.Wrap(db.OpGetTags, err)
	}
	out, err := scanTags(rows)
	if err != nil {
		return nil, db.Wrap(db.OpGetTags, err)
	}
	return out, nil
}

// GetTagsVersion returns the tag set version.
func (s *Store) GetTagsVersion(ctx context.Context) (int64, error) {
	if err := s.requireTracked(db.OpGetTagsVersion); err != nil {
		return 0, err
	}
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM extended_query_tag_version WHERE id = 1`).Scan(&v); err != nil {
		return 0, db.Wrap(db.OpGetTagsVersion, err)
	}
	return v, nil
}

// AssignOperation moves Adding tags, and tags already owned by operationID, to Reindexing.
func (s *Store) AssignOperation(ctx context.Context, keys []int64, operationID string) ([]db.TagRow, error) {
	var out []db.TagRow
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `UPDATE extended_query_tag
	SET tag_status = $3, operation_id = $2,
		version = CASE WHEN tag_status = $4 THEN version + 1 ELSE version END
	WHERE tag_key = ANY($1)
		AND (tag_status = $4 OR (tag_status = $3 AND operation_id = $2))
	RETURNING `+s.schema.columns,
			pq.Array(keys), operationID, statusReindexing, statusAdding)
		if err != nil {
			return err
		}
		if out, err = scanTags(rows); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		return s.bumpTagsVersion(ctx, tx)
	})
	if err != nil {
		return nil, db.Wrap(db.OpAssignOperation, err)
	}
	return out, nil
}

// CompleteOperation moves Reindexing tags to Ready and clears their operation.
func (s *Store) CompleteOperation(ctx context.Context, keys []int64) ([]db.TagRow, error) {
	var out []db.TagRow
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `UPDATE extended_query_tag
	SET tag_status = $2, operation_id = NULL, version = version + 1
	WHERE tag_key = ANY($1) AND tag_status = $3
	RETURNING `+s.schema.columns,
			pq.Array(keys), statusReady, statusReindexing)
		if err != nil {
			return err
		}
		if out, err = scanTags(rows); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		return s.bumpTagsVersion(ctx, tx)
	})
	if err != nil {
		return nil, db.Wrap(db.OpCompleteOperation, err)
	}
	return out, nil
}

// UpdateQueryStatus sets the query status of a tag.
func (s *Store) UpdateQueryStatus(ctx context.Context, key int64, status int) (db.TagRow, error) {
	if err := s.requireTracked(db.OpUpdateQueryStatus); err != nil {
		return db.TagRow{}, err
	}
	row, err := scanTag(s.db.QueryRowContext(ctx,
		`UPDATE extended_query_tag SET query_status = $2 WHERE tag_key = $1 RETURNING `+s.schema.columns,
		key, status))
	if errors.Is(err, sql.ErrNoRows) {
		return db.TagRow{}, db.Wrap(db.OpUpdateQueryStatus, db.ErrKeyNotFound)
	}
	if err != nil {
		return db.TagRow{}, db.Wrap(db.OpUpdateQueryStatus, err)
	}
	return row, nil
}

// BeginDeleteTag moves a tag to Deleting if its version is unchanged.
func (s *Store) BeginDeleteTag(ctx context.Context, key, expectedVersion int64) (db.TagRow, error) {
	var out db.TagRow
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row, err := scanTag(tx.QueryRowContext(ctx, `UPDATE extended_query_tag
	SET tag_status = $3, version = version + 1
	WHERE tag_key = $1 AND version = $2
	RETURNING `+s.schema.columns,
			key, expectedVersion, statusDeleting))
		if errors.Is(err, sql.ErrNoRows) {
			return s.missingOrConflict(ctx, tx, key)
		}
		if err != nil {
			return err
		}
		out = row
		return s.bumpTagsVersion(ctx, tx)
	})
	if err != nil {
		return db.TagRow{}, db.Wrap(db.OpBeginDeleteTag, err)
	}
	return out, nil
}

func (s *Store) missingOrConflict(ctx context.Context, tx *sql.Tx, key int64) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM extended_query_tag WHERE tag_key = $1)`, key).Scan(&exists)
	switch {
	case err != nil:
		return err
	case exists:
		return db.ErrConflict
	default:
		return db.ErrKeyNotFound
	}
}

// DeleteTagEntry removes a tag.
func (s *Store) DeleteTagEntry(ctx context.Context, key int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extended_query_tag WHERE tag_key = $1`, key)
	if err != nil {
		return db.Wrap(db.OpDeleteTagEntry, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return db.Wrap(db.OpDeleteTagEntry, err)
	}
	if n == 0 {
		return db.Wrap(db.OpDeleteTagEntry, db.ErrKeyNotFound)
	}
	return nil
}

// --- tag errors ---

// AddTagError records a failure once per (tag, watermark) and returns the tag's error count.
func (s *Store) AddTagError(ctx context.Context, tagKey, watermark int64, code int) (int, bool, error) {
	if err := s.requireTracked(db.OpAddTagError); err != nil {
		return 0, false, err
	}
	var (
		count int
		added bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT error_count FROM extended_query_tag WHERE tag_key = $1 FOR UPDATE`, tagKey).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return db.ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO extended_query_tag_error (tag_key, watermark, error_code, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (tag_key, watermark) DO NOTHING`, tagKey, watermark, code, time.Now().UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		added = true
		return tx.QueryRowContext(ctx,
			`UPDATE extended_query_tag SET error_count = error_count + 1 WHERE tag_key = $1 RETURNING error_count`,
			tagKey).Scan(&count)
	})
	if err != nil {
		return 0, false, db.Wrap(db.OpAddTagError, err)
	}
	return count, added, nil
}

// GetTagErrors pages through a tag's errors ordered by watermark.
func (s *Store) GetTagErrors(ctx context.Context, tagKey int64, limit, offset int) ([]db.TagErrorRow, error) {
	if err := s.requireTracked(db.OpGetTagErrors); err != nil {
		return nil, err
	}
	query := `SELECT tag_key, watermark, error_code, created_at FROM extended_query_tag_error
	WHERE tag_key = $1 ORDER BY watermark`
	args := []any{tagKey}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, db.Wrap(db.OpGetTagErrors, err)
	}
	defer rows.Close()

	out := make([]db.TagErrorRow, 0)
	for rows.Next() {
		var r db.TagErrorRow
		if err := rows.Scan(&r.TagKey, &r.Watermark, &r.Code, &r.CreatedAt); err != nil {
			return nil, db.Wrap(db.OpGetTagErrors, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap(db.OpGetTagErrors, err)
	}
	return out, nil
}

// DeleteTagErrorBatch removes up to batchSize errors of a tag.
func (s *Store) DeleteTagErrorBatch(ctx context.Context, tagKey int64, batchSize int) (int64, error) {
	if err := s.requireTracked(db.OpDeleteTagErrorBatch); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM extended_query_tag_error WHERE ctid IN (
	SELECT ctid FROM extended_query_tag_error WHERE tag_key = $1 LIMIT $2)`, tagKey, batchSize)
	if err != nil {
		return 0, db.Wrap(db.OpDeleteTagErrorBatch, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, db.Wrap(db.OpDeleteTagErrorBatch, err)
	}
	return n, nil
}
