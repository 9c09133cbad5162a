package reindex

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the persisted state of an operation.
type Status string

// Operation states.
const (
	StatusQueued    Status = "Queued"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// IsValid checks the status is known.
func (s Status) IsValid() bool {
	return s == StatusQueued || s == StatusRunning || s == StatusCompleted || s == StatusFailed
}

// IsTerminal reports whether no more work happens in this state without a requeue.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Operation is one backfill run over a set of tags (immutable value object).
type Operation struct {
	id         uuid.UUID
	status     Status
	checkpoint Checkpoint
	attempts   int
	failure    string
	createdAt  time.Time
	updatedAt  time.Time
	version    int64
}

// New creates a Queued operation.
func New(checkpoint Checkpoint, now time.Time) Operation {
	return Operation{
		id:         uuid.New(),
		status:     StatusQueued,
		checkpoint: checkpoint,
		createdAt:  now.UTC(),
		updatedAt:  now.UTC(),
	}
}

// ReservedReason marks an operation created before its tags were assigned.
const ReservedReason = "waiting for tag assignment"

// Reserve creates an operation that is neither run nor requeued until Release gives it
// its checkpoint. Tags can then be assigned to an id that is already persisted.
func Reserve(tagKeys []int64, batching Batching, now time.Time) Operation {
	o := New(NewCheckpoint(0, tagKeys, batching, now), now)
	o.status = StatusFailed
	o.failure = ReservedReason
	return o
}

// Reserved reports whether the operation is still waiting for Release.
func (o Operation) Reserved() bool {
	return o.status == StatusFailed && o.attempts == 0 && o.failure == ReservedReason
}

// Release queues a reserved operation with its final checkpoint.
func (o Operation) Release(cp Checkpoint, now time.Time) (Operation, error) {
	if !o.Reserved() {
		return Operation{}, fmt.Errorf("cannot release operation in state %s", o.status)
	}
	o.status = StatusQueued
	o.checkpoint = cp
	o.failure = ""
	o.updatedAt = now.UTC()
	return o, nil
}

// Fields carries the persisted columns of an Operation.
type Fields struct {
	ID         uuid.UUID
	Status     Status
	Checkpoint Checkpoint
	Attempts   int
	Failure    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    int64
}

// Reconstruct creates an Operation without validation (storage hydration).
func Reconstruct(f Fields) Operation {
	return Operation{
		id:         f.ID,
		status:     f.Status,
		checkpoint: f.Checkpoint,
		attempts:   f.Attempts,
		failure:    f.Failure,
		createdAt:  f.CreatedAt,
		updatedAt:  f.UpdatedAt,
		version:    f.Version,
	}
}

// Fields returns the persisted columns.
func (o Operation) Fields() Fields {
	return Fields{
		ID:         o.id,
		Status:     o.status,
		Checkpoint: o.checkpoint,
		Attempts:   o.attempts,
		Failure:    o.failure,
		CreatedAt:  o.createdAt,
		UpdatedAt:  o.updatedAt,
		Version:    o.version,
	}
}

// ID returns the operation id.
func (o Operation) ID() uuid.UUID { return o.id }

// Status returns the current state.
func (o Operation) Status() Status { return o.status }

// Checkpoint returns the persisted progress.
func (o Operation) Checkpoint() Checkpoint { return o.checkpoint }

// Attempts returns how many times the operation has been started.
func (o Operation) Attempts() int { return o.attempts }

// Failure returns the reason of the last failure.
func (o Operation) Failure() string { return o.failure }

// CreatedAt returns the creation time.
func (o Operation) CreatedAt() time.Time { return o.createdAt }

// UpdatedAt returns the time of the last transition or checkpoint.
func (o Operation) UpdatedAt() time.Time { return o.updatedAt }

// Version returns the row version used for optimistic concurrency.
func (o Operation) Version() int64 { return o.version }

// Start moves a Queued or Running operation to Running and counts the attempt.
// Running is accepted so a restarted worker can resume.
func (o Operation) Start(now time.Time) (Operation, error) {
	if o.status != StatusQueued && o.status != StatusRunning {
		return Operation{}, fmt.Errorf("cannot start operation in state %s", o.status)
	}
	o.status = StatusRunning
	o.attempts++
	o.updatedAt = now.UTC()
	return o, nil
}

// Progress stores a new checkpoint on a Running operation.
func (o Operation) Progress(cp Checkpoint, now time.Time) Operation {
	o.checkpoint = cp
	o.updatedAt = now.UTC()
	return o
}

// Complete moves the operation to Completed.
func (o Operation) Complete(now time.Time) Operation {
	o.status = StatusCompleted
	o.checkpoint = o.checkpoint.Finish()
	o.failure = ""
	o.updatedAt = now.UTC()
	return o
}

// Fail moves the operation to Failed with reason.
func (o Operation) Fail(reason string, now time.Time) Operation {
	o.status = StatusFailed
	o.failure = reason
	o.updatedAt = now.UTC()
	return o
}

// Requeue moves a Failed operation back to Queued keeping its checkpoint.
func (o Operation) Requeue(now time.Time) (Operation, error) {
	if o.status != StatusFailed {
		return Operation{}, fmt.Errorf("cannot requeue operation in state %s", o.status)
	}
	o.status = StatusQueued
	o.updatedAt = now.UTC()
	return o, nil
}

// RetryAt returns when a Failed operation becomes eligible for requeue:
// base doubled per attempt, capped at maxDelay.
func (o Operation) RetryAt(base, maxDelay time.Duration) time.Time {
	delay := base
	for i := 1; i < o.attempts && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return o.updatedAt.Add(delay)
}

// Summary is the externally visible state of an operation.
type Summary struct {
	ID              uuid.UUID
	Status          Status
	PercentComplete int
	Completed       *WatermarkRange
	TagKeys         []int64
	ErrorCount      int
	Attempts        int
	Failure         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Summarize builds a summary. errorCount is the cumulative error count of the operation's tags.
func (o Operation) Summarize(errorCount int) Summary {
	return Summary{
		ID:              o.id,
		Status:          o.status,
		PercentComplete: o.checkpoint.PercentComplete,
		Completed:       o.checkpoint.Completed,
		TagKeys:         o.checkpoint.TagKeys,
		ErrorCount:      errorCount,
		Attempts:        o.attempts,
		Failure:         o.failure,
		CreatedAt:       o.createdAt,
		UpdatedAt:       o.updatedAt,
	}
}
