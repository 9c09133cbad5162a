package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrKeyNotFound         = errors.New("db: key not found")
	ErrKeyExists           = errors.New("db: key already exists")
	ErrConflict            = errors.New("db: version conflict")
	ErrLimitExceeded       = errors.New("db: tag limit exceeded")
	ErrTagsVersionMismatch = errors.New("db: tags version mismatch")
	ErrUpgradeRequired     = errors.New("db: schema upgrade required")
)

// Op constants name store operations for error context.
const (
	OpSchemaVersion       = "SchemaVersion"
	OpAddTags             = "AddTags"
	OpGetTags             = "GetTags"
	OpGetTagsVersion      = "GetTagsVersion"
	OpAssignOperation     = "AssignOperation"
	OpCompleteOperation   = "CompleteOperation"
	OpUpdateQueryStatus   = "UpdateQueryStatus"
	OpBeginDeleteTag      = "BeginDeleteTag"
	OpDeleteTagEntry      = "DeleteTagEntry"
	OpAddTagError         = "AddTagError"
	OpGetTagErrors        = "GetTagErrors"
	OpDeleteTagErrorBatch = "DeleteTagErrorBatch"
	OpInsertIndexRows     = "InsertIndexRows"
	OpDeleteIndexRowBatch = "DeleteIndexRowBatch"
	OpBeginInstance       = "BeginInstance"
	OpCommitInstance      = "CommitInstance"
	OpAbortInstance       = "AbortInstance"
	OpInstancesAtOrBelow  = "InstancesAtOrBelow"
	OpMaxWatermark        = "MaxWatermark"
	OpCreateOperation     = "CreateOperation"
	OpGetOperation        = "GetOperation"
	OpListOperations      = "ListOperations"
	OpUpdateOperation     = "UpdateOperation"
	OpLeaseAcquire        = "SET NX"
	OpLeaseRenew          = "EVAL renew"
	OpLeaseRelease        = "EVAL release"
	OpPutMetadata         = "PutObject"
	OpGetMetadata         = "GetObject"
	OpDeleteMetadata      = "RemoveObject"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise an *Error for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
