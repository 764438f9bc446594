package backend

import (
	"errors"
	"fmt"

	"github.com/roach88/recstore/internal/record"
)

// Errors shared by all drivers. Drivers wrap these with context; match with
// errors.Is.
var (
	ErrVersion          = errors.New("requested version is lower than the stored version")
	ErrInvalidVersion   = errors.New("invalid version")
	ErrInvalidName      = errors.New("invalid database name")
	ErrNoCollection     = errors.New("collection not found")
	ErrCollectionExists = errors.New("collection already exists")
	ErrConstraint       = errors.New("key already exists")
	ErrReadOnly         = errors.New("transaction is read-only")
	ErrClosed           = errors.New("handle is closed")
	ErrUpgrade          = errors.New("upgrade failed")
	ErrConflict         = errors.New("concurrent modification")
)

// CheckOpen validates Open arguments the same way for every driver.
func CheckOpen(name string, version int) error {
	if name == "" {
		return ErrInvalidName
	}
	if version < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}
	return nil
}

// ResolveVersion applies the Open version rules. current is 0 for a missing
// database. It returns the version to open at.
func ResolveVersion(current, requested int) (int, error) {
	if requested == 0 {
		if current == 0 {
			return 1, nil
		}
		return current, nil
	}
	if requested < current {
		return 0, fmt.Errorf("%w: requested %d, stored %d", ErrVersion, requested, current)
	}
	return requested, nil
}

// ConstraintError reports the duplicate key on an Add.
func ConstraintError(collection string, key record.Key) error {
	return fmt.Errorf("%w: %s in %q", ErrConstraint, key.Encode(), collection)
}

// UpgradeError wraps a failing UpgradeFunc.
func UpgradeError(name string, from, to int, err error) error {
	return fmt.Errorf("%w: %q %d -> %d: %w", ErrUpgrade, name, from, to, err)
}
