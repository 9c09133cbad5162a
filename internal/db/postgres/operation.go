package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

const operationColumns = `operation_id::text, status, checkpoint, attempts, failure, created_at, updated_at, version`

func scanOperation(row scanner) (db.OperationRow, error) {
	var r db.OperationRow
	err := row.Scan(&r.ID, &r.Status, &r.Checkpoint, &r.Attempts, &r.Failure, &r.CreatedAt, &r.UpdatedAt, &r.Version)
	return r, err
}

// CreateOperation stores a new operation with version 1.
func (s *Store) CreateOperation(ctx context.Context, row db.OperationRow) (db.OperationRow, error) {
	out, err := scanOperation(s.db.QueryRowContext(ctx, `INSERT INTO reindex_operation
	(operation_id, status, checkpoint, attempts, failure, created_at, updated_at, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
	RETURNING `+operationColumns,
		row.ID, row.Status, row.Checkpoint, row.Attempts, row.Failure, row.CreatedAt, row.UpdatedAt))
	if isUniqueViolation(err) {
		return db.OperationRow{}, db.Wrap(db.OpCreateOperation, fmt.Errorf("%s: %w", row.ID, db.ErrKeyExists))
	}
	if err != nil {
		return db.OperationRow{}, db.Wrap(db.OpCreateOperation, err)
	}
	return out, nil
}

// GetOperation returns one operation.
func (s *Store) GetOperation(ctx context.Context, id string) (db.OperationRow, error) {
	out, err := scanOperation(s.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM reindex_operation WHERE operation_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return db.OperationRow{}, db.Wrap(db.OpGetOperation, db.ErrKeyNotFound)
	}
	if err != nil {
		return db.OperationRow{}, db.Wrap(db.OpGetOperation, err)
	}
	return out, nil
}

// ListOperations returns operations in any of statuses, oldest first.
func (s *Store) ListOperations(ctx context.Context, statuses []string) ([]db.OperationRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+operationColumns+` FROM reindex_operation
	WHERE status = ANY($1) ORDER BY created_at, operation_id`, pq.Array(statuses))
	if err != nil {
		return nil, db.Wrap(db.OpListOperations, err)
	}
	defer rows.Close()

	out := make([]db.OperationRow, 0)
	for rows.Next() {
		r, err := scanOperation(rows)
		if err != nil {
			return nil, db.Wrap(db.OpListOperations, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap(db.OpListOperations, err)
	}
	return out, nil
}

// UpdateOperation writes row if the stored version equals row.Version.
func (s *Store) UpdateOperation(ctx context.Context, row db.OperationRow) (db.OperationRow, error) {
	out, err := scanOperation(s.db.QueryRowContext(ctx, `UPDATE reindex_operation
	SET status = $2, checkpoint = $3, attempts = $4, failure = $5, updated_at = $6, version = version + 1
	WHERE operation_id = $1 AND version = $7
	RETURNING `+operationColumns,
		row.ID, row.Status, row.Checkpoint, row.Attempts, row.Failure, row.UpdatedAt, row.Version))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if qErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM reindex_operation WHERE operation_id = $1)`, row.ID).Scan(&exists); qErr != nil {
			return db.OperationRow{}, db.Wrap(db.OpUpdateOperation, qErr)
		}
		if exists {
			return db.OperationRow{}, db.Wrap(db.OpUpdateOperation, db.ErrConflict)
		}
		return db.OperationRow{}, db.Wrap(db.OpUpdateOperation, db.ErrKeyNotFound)
	}
	if err != nil {
		return db.OperationRow{}, db.Wrap(db.OpUpdateOperation, err)
	}
	return out, nil
}
