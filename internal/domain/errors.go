package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing tag, operation or instance.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a tag path that is already registered.
	ErrAlreadyExists = errors.New("already exists")
	// ErrAlreadySupported signals a tag covered by the built-in index set.
	ErrAlreadySupported = errors.New("tag is already supported by the core index")
	// ErrTagLimitExceeded signals that the registry would exceed its configured size.
	ErrTagLimitExceeded = errors.New("extended query tag limit exceeded")
	// ErrInvalidTag signals a malformed tag descriptor.
	ErrInvalidTag = errors.New("invalid extended query tag")
	// ErrMissingVR signals a non-standard tag registered without a value representation.
	ErrMissingVR = errors.New("value representation is required")
	// ErrUnsupportedVR signals a value representation the indexer cannot store.
	ErrUnsupportedVR = errors.New("unsupported value representation")
	// ErrBusy signals that an in-flight operation holds the tag.
	ErrBusy = errors.New("tag is busy")
	// ErrConflict signals an optimistic concurrency conflict.
	ErrConflict = errors.New("concurrent modification")
	// ErrValidationFailed signals an element value rejected by validation.
	ErrValidationFailed = errors.New("element validation failed")
	// ErrUpgradeRequired signals that the active schema predates a requested capability.
	ErrUpgradeRequired = errors.New("schema upgrade required")
	// ErrInvalidInstance signals a record that lacks its identifying attributes.
	ErrInvalidInstance = errors.New("invalid instance")
	// ErrTagsChanged signals that the registry changed since the caller's snapshot.
	ErrTagsChanged = errors.New("extended query tags changed")
)

// TagError attaches the offending tag path to a registry error.
type TagError struct {
	Path string
	Err  error
}

func (e *TagError) Error() string { return fmt.Sprintf("tag %s: %v", e.Path, e.Err) }

func (e *TagError) Unwrap() error { return e.Err }

// NewTagError wraps err with the tag path it concerns.
func NewTagError(path string, err error) error {
	return &TagError{Path: path, Err: err}
}
