// Package firestore holds the shared Firestore client provider and helpers used by the
// Firestore-backed repositories.
package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errClass uint8

const (
	classOther errClass = iota
	classNotFound
	classConflict
	classUnavailable
)

// grpcClasses maps Firestore status codes onto the repository error vocabulary. Codes missing
// from the table stay unclassified.
var grpcClasses = map[codes.Code]errClass{
	codes.NotFound:           classNotFound,
	codes.AlreadyExists:      classConflict,
	codes.FailedPrecondition: classConflict,
	codes.Aborted:            classConflict,
	codes.Unavailable:        classUnavailable,
	codes.ResourceExhausted:  classUnavailable,
	codes.Internal:           classUnavailable,
	codes.DeadlineExceeded:   classUnavailable,
}

// Error is a classified Firestore failure. It satisfies repositories.RepositoryError.
type Error struct {
	op    string
	err   error
	class errClass
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.class == classNotFound }

// IsConflict reports a duplicate or contended write.
func (e *Error) IsConflict() bool { return e != nil && e.class == classConflict }

// IsUnavailable reports a transient backend outage worth retrying.
func (e *Error) IsUnavailable() bool { return e != nil && e.class == classUnavailable }

// WrapError classifies err for op. Context cancellation, including a gRPC Canceled status,
// comes back as context.Canceled so shutdown is not mistaken for a store failure.
func WrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.op == "" {
			existing.op = op
		}
		return existing
	}

	code := status.Code(err)
	if code == codes.Canceled {
		return context.Canceled
	}
	return &Error{op: op, err: err, class: grpcClasses[code]}
}

// NotFound marks err as a missing document for op.
func NotFound(op string, err error) error {
	return &Error{op: op, err: err, class: classNotFound}
}
