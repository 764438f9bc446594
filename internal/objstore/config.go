package objstore

import (
	"fmt"

	"github.com/roach88/recstore/internal/record"
)

// DefaultVersion is the schema version requested when Config leaves it 0.
const DefaultVersion = 1

// Config names the collection an Accessor serves.
type Config struct {
	// Database is the persistent database name.
	Database string

	// Collection is the collection inside the database.
	Collection string

	// KeyPath is the dotted identifier field of each record.
	// Defaults to record.DefaultKeyPath.
	KeyPath string

	// Version is the requested schema version. Defaults to 1. A stored
	// version above it wins.
	Version int

	// NormalizeKeys folds string keys to Unicode NFC.
	NormalizeKeys bool
}

// withDefaults fills zero fields and validates the result.
func (c Config) withDefaults() (Config, error) {
	if c.KeyPath == "" {
		c.KeyPath = record.DefaultKeyPath
	}
	if c.Version == 0 {
		c.Version = DefaultVersion
	}

	switch {
	case c.Database == "":
		return c, fmt.Errorf("%w: database name is empty", ErrInvalidConfig)
	case c.Collection == "":
		return c, fmt.Errorf("%w: collection name is empty", ErrInvalidConfig)
	case c.Version < 0:
		return c, fmt.Errorf("%w: version %d", ErrInvalidConfig, c.Version)
	}
	if err := record.ValidateKeyPath(c.KeyPath); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return c, nil
}
