package backend

import (
	"context"

	"github.com/roach88/recstore/internal/record"
)

// Mode selects the access a transaction has.
type Mode int

const (
	// ReadOnly transactions may run alongside each other.
	ReadOnly Mode = iota
	// ReadWrite transactions are serialized per collection by the driver.
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Factory opens databases by name.
type Factory interface {
	// Version returns the current schema version of the named database,
	// or 0 if it does not exist. It never creates the database.
	Version(ctx context.Context, name string) (int, error)

	// Open opens the named database at version, creating it if needed.
	// See the package documentation for version semantics. upgrade may be
	// nil when no schema change is expected.
	Open(ctx context.Context, name string, version int, upgrade UpgradeFunc) (Database, error)

	// Delete removes the named database. Deleting a missing database is
	// not an error.
	Delete(ctx context.Context, name string) error

	// Close releases resources held by the factory.
	Close() error
}

// UpgradeFunc runs when a database opens above its stored version.
// oldVersion is 0 for a database that did not exist.
type UpgradeFunc func(ctx context.Context, u Upgrader, oldVersion, newVersion int) error

// Upgrader changes the set of collections during an upgrade.
type Upgrader interface {
	// CreateCollection adds a collection keyed by keyPath.
	// Returns ErrCollectionExists if it is already present.
	CreateCollection(name, keyPath string) error

	// DeleteCollection drops a collection and its records.
	// Returns ErrNoCollection if it is absent.
	DeleteCollection(name string) error

	// HasCollection reports whether the collection exists.
	HasCollection(name string) bool
}

// Database is an open handle on one database at one version.
type Database interface {
	Name() string
	Version() int

	// Collections lists collection names in sorted order.
	Collections() []string
	HasCollection(name string) bool

	// KeyPath returns the key path of a collection.
	KeyPath(collection string) (string, error)

	// Begin starts a transaction on one collection.
	Begin(ctx context.Context, mode Mode, collection string) (Tx, error)

	// Close releases the handle. Further calls fail with ErrClosed.
	Close() error
}

// Tx is a transaction on a single collection.
//
// Write methods on a ReadOnly transaction return ErrReadOnly. After Commit
// or Rollback every method returns ErrClosed, except Rollback which is a
// no-op so it can always be deferred.
type Tx interface {
	// Get returns the body stored under key, or found=false.
	Get(ctx context.Context, key record.Key) (body []byte, found bool, err error)

	// GetAll returns every body in key order.
	GetAll(ctx context.Context) ([][]byte, error)

	// Add inserts body and returns its key. Returns ErrConstraint if the
	// key is already present.
	Add(ctx context.Context, body []byte) (record.Key, error)

	// Put inserts or replaces body and returns its key.
	Put(ctx context.Context, body []byte) (record.Key, error)

	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key record.Key) error

	// Count returns the number of records.
	Count(ctx context.Context) (int, error)

	Commit() error
	Rollback() error
}

// PrepareBody extracts the key at keyPath and returns the canonical form of
// body. Drivers call it on every Add and Put.
func PrepareBody(body []byte, keyPath string) (record.Key, []byte, error) {
	doc, err := record.ParseDocument(body)
	if err != nil {
		return record.Key{}, nil, err
	}
	key, err := doc.Key(keyPath)
	if err != nil {
		return record.Key{}, nil, err
	}
	canonical, err := doc.Canonical()
	if err != nil {
		return record.Key{}, nil, err
	}
	return key, canonical, nil
}
