package repositories

import (
	"errors"
	"fmt"
)

// StoreError is a RepositoryError for backends without a richer native error type.
type StoreError struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound implements RepositoryError.
func (e *StoreError) IsNotFound() bool { return e != nil && e.NotFound }

// IsConflict implements RepositoryError.
func (e *StoreError) IsConflict() bool { return e != nil && e.Conflict }

// IsUnavailable implements RepositoryError.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Unavailable }

// ErrNotFound builds a not-found StoreError.
func ErrNotFound(op string, key fmt.Stringer) error {
	return &StoreError{Op: op, Err: fmt.Errorf("%s not found", key), NotFound: true}
}

// ErrConflict builds a duplicate-key StoreError.
func ErrConflict(op string, key fmt.Stringer) error {
	return &StoreError{Op: op, Err: fmt.Errorf("%s already exists", key), Conflict: true}
}

// IsNotFound reports whether err carries a RepositoryError classified as not found.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a RepositoryError classified as a conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

var _ RepositoryError = (*StoreError)(nil)
