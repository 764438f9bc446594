package objstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/recstore/internal/backend"
)

// maxResolveAttempts bounds retries when another opener moves the stored
// version between the probe and the open.
const maxResolveAttempts = 3

// resolve returns an open handle on a database that holds the collection.
// The caller closes it.
func (a *Accessor[T]) resolve(ctx context.Context) (backend.Database, error) {
	var err error
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		var db backend.Database
		db, err = a.resolveOnce(ctx)
		if err == nil {
			return db, nil
		}
		if !errors.Is(err, backend.ErrVersion) {
			return nil, err
		}
		a.logger.Debug("version moved during resolve, retrying",
			zap.String("database", a.cfg.Database),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return nil, err
}

func (a *Accessor[T]) resolveOnce(ctx context.Context) (backend.Database, error) {
	current, err := a.factory.Version(ctx, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("probe version: %w", err)
	}
	target := max(a.cfg.Version, current)

	db, err := a.factory.Open(ctx, a.cfg.Database, target, a.ensureCollection)
	if err != nil {
		return nil, err
	}
	if db.HasCollection(a.cfg.Collection) {
		return a.checkKeyPath(db)
	}

	// The collection is missing at a version that already exists, so only
	// a higher version can add it.
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("close before upgrade: %w", err)
	}
	db, err = a.factory.Open(ctx, a.cfg.Database, target+1, a.ensureCollection)
	if err != nil {
		return nil, err
	}
	if !db.HasCollection(a.cfg.Collection) {
		// Another opener reached target+1 first, so our upgrade never ran.
		// Reported as a version race so resolve probes again.
		_ = db.Close()
		return nil, fmt.Errorf("%q after upgrade to %d: %w: %w", a.cfg.Collection, target+1, backend.ErrNoCollection, backend.ErrVersion)
	}
	a.logger.Info("upgraded database to add collection",
		zap.String("database", a.cfg.Database),
		zap.String("collection", a.cfg.Collection),
		zap.Int("version", db.Version()),
	)
	return a.checkKeyPath(db)
}

// ensureCollection is the upgrade callback passed to every Open.
func (a *Accessor[T]) ensureCollection(_ context.Context, u backend.Upgrader, _, _ int) error {
	if u.HasCollection(a.cfg.Collection) {
		return nil
	}
	return u.CreateCollection(a.cfg.Collection, a.cfg.KeyPath)
}

func (a *Accessor[T]) checkKeyPath(db backend.Database) (backend.Database, error) {
	kp, err := db.KeyPath(a.cfg.Collection)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if kp != a.cfg.KeyPath {
		_ = db.Close()
		return nil, fmt.Errorf("%w: stored %q, configured %q", ErrKeyPathMismatch, kp, a.cfg.KeyPath)
	}
	return db, nil
}
