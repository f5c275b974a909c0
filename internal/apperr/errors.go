// Package apperr defines the sentinel errors shared across the storage core.
package apperr

import "errors"

var (
	// ErrNotFound marks an unknown item or revision.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a lost optimistic-concurrency race.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyExists marks a create against a name held by a live item.
	ErrAlreadyExists = errors.New("already exists")
	// ErrForbidden marks an ACL denial. Recoverable: batch operations
	// collect it per item instead of aborting.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation marks a bad item name or content type.
	ErrValidation = errors.New("validation failed")
	// ErrIrreversible marks an attempt to undo a destroy.
	ErrIrreversible = errors.New("operation is irreversible")
)
