package objstore

import (
	"errors"
	"fmt"

	"github.com/roach88/recstore/internal/backend"
)

// Kind classifies accessor failures.
type Kind string

const (
	// KindDatabaseOpen means the store could not be opened or upgraded.
	KindDatabaseOpen Kind = "DATABASE_OPEN"

	// KindConstraint means an Add hit an existing key.
	KindConstraint Kind = "CONSTRAINT"

	// KindOperationFailed covers every other failure during an operation.
	KindOperationFailed Kind = "OPERATION_FAILED"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrDatabaseOpen    = errors.New("database open failed")
	ErrConstraint      = errors.New("constraint violated")
	ErrOperationFailed = errors.New("operation failed")
)

// Errors returned by Open and by the key path check during resolution.
var (
	ErrInvalidConfig   = errors.New("invalid accessor config")
	ErrKeyPathMismatch = errors.New("collection key path differs from config")
	ErrClosed          = errors.New("accessor is closed")
)

// Error is the failure of one accessor operation.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Op is the operation that failed: "open", "add", "get", "get_all",
	// "update" or "remove".
	Op string

	// Collection is the accessor's collection.
	Collection string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s %q: %v", e.Kind, e.Op, e.Collection, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrDatabaseOpen:
		return e.Kind == KindDatabaseOpen
	case ErrConstraint:
		return e.Kind == KindConstraint
	case ErrOperationFailed:
		return e.Kind == KindOperationFailed
	}
	return false
}

// KindOf returns the kind of an accessor error, or "" for anything else.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsConstraint reports whether err is a duplicate-key failure.
func IsConstraint(err error) bool {
	return KindOf(err) == KindConstraint
}

// classify maps a transaction-stage failure to its kind.
func classify(err error) Kind {
	if errors.Is(err, backend.ErrConstraint) {
		return KindConstraint
	}
	return KindOperationFailed
}
