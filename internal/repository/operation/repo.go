package operation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/reindex"
)

// store is the consumer interface for the operation queue (ISP).
type store interface {
	CreateOperation(ctx context.Context, row db.OperationRow) (db.OperationRow, error)
	GetOperation(ctx context.Context, id string) (db.OperationRow, error)
	ListOperations(ctx context.Context, statuses []string) ([]db.OperationRow, error)
	UpdateOperation(ctx context.Context, row db.OperationRow) (db.OperationRow, error)
}

// Repo persists reindex operations.
type Repo struct {
	store store
}

// New creates an operation repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case errors.Is(err, db.ErrConflict):
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	default:
		return err
	}
}

// Create persists a new operation and returns it with its stored version.
func (r *Repo) Create(ctx context.Context, op reindex.Operation) (reindex.Operation, error) {
	row, err := operationToRow(op)
	if err != nil {
		return reindex.Operation{}, err
	}
	stored, err := r.store.CreateOperation(ctx, row)
	if err != nil {
		return reindex.Operation{}, mapErr(err)
	}
	return rowToOperation(stored)
}

// Get returns one operation.
func (r *Repo) Get(ctx context.Context, id uuid.UUID) (reindex.Operation, error) {
	row, err := r.store.GetOperation(ctx, id.String())
	if err != nil {
		return reindex.Operation{}, mapErr(err)
	}
	return rowToOperation(row)
}

// List returns operations in any of statuses, oldest first.
func (r *Repo) List(ctx context.Context, statuses ...reindex.Status) ([]reindex.Operation, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := r.store.ListOperations(ctx, names)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]reindex.Operation, 0, len(rows))
	for _, row := range rows {
		op, err := rowToOperation(row)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", row.ID, err)
		}
		out = append(out, op)
	}
	return out, nil
}

// Update writes op if nobody changed it since it was read.
func (r *Repo) Update(ctx context.Context, op reindex.Operation) (reindex.Operation, error) {
	row, err := operationToRow(op)
	if err != nil {
		return reindex.Operation{}, err
	}
	stored, err := r.store.UpdateOperation(ctx, row)
	if err != nil {
		return reindex.Operation{}, mapErr(err)
	}
	return rowToOperation(stored)
}
