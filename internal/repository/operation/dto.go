package operation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/domain/reindex"
)

// operationToRow converts an operation to its stored form. The checkpoint is stored as JSON.
func operationToRow(op reindex.Operation) (db.OperationRow, error) {
	f := op.Fields()
	cp, err := f.Checkpoint.Encode()
	if err != nil {
		return db.OperationRow{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	return db.OperationRow{
		ID:         f.ID.String(),
		Status:     string(f.Status),
		Checkpoint: cp,
		Attempts:   f.Attempts,
		Failure:    f.Failure,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
		Version:    f.Version,
	}, nil
}

// rowToOperation hydrates an operation from its stored form.
func rowToOperation(r db.OperationRow) (reindex.Operation, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return reindex.Operation{}, fmt.Errorf("parse id: %w", err)
	}
	status := reindex.Status(r.Status)
	if !status.IsValid() {
		return reindex.Operation{}, fmt.Errorf("unknown status %q", r.Status)
	}
	cp, err := reindex.DecodeCheckpoint(r.Checkpoint)
	if err != nil {
		return reindex.Operation{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return reindex.Reconstruct(reindex.Fields{
		ID:         id,
		Status:     status,
		Checkpoint: cp,
		Attempts:   r.Attempts,
		Failure:    r.Failure,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Version:    r.Version,
	}), nil
}
