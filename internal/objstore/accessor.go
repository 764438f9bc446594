package objstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/record"
)

// entry is one mirrored record.
type entry[T any] struct {
	key   record.Key
	value T
}

// Accessor serves one collection of one database. T must encode to a JSON
// object through encoding/json. Methods are safe for concurrent use;
// mutating calls run one at a time so the mirror follows commit order.
type Accessor[T any] struct {
	factory backend.Factory
	cfg     Config
	logger  *zap.Logger

	// opMu serializes Add, Update, Remove and GetAll from the store round
	// trip through the mirror update.
	opMu sync.Mutex

	mu      sync.Mutex
	mirror  []entry[T]
	lastErr error
	closed  bool
}

// Open creates an accessor and performs the initial GetAll. A failing
// initial read does not fail Open: the accessor is returned with an empty
// mirror and the failure in Err. Open only returns an error for an invalid
// Config or a nil factory.
func Open[T any](ctx context.Context, factory backend.Factory, cfg Config, opts ...Option) (*Accessor[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil factory", ErrInvalidConfig)
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	a := &Accessor[T]{
		factory: factory,
		cfg:     cfg,
		logger:  o.logger.With(zap.String("collection", cfg.Collection)),
	}
	_, _ = a.GetAll(ctx)
	return a, nil
}

// Config returns the effective configuration.
func (a *Accessor[T]) Config() Config { return a.cfg }

// Add inserts rec. A record with the same key fails with KindConstraint.
// On success rec is appended to the mirror.
func (a *Accessor[T]) Add(ctx context.Context, rec T) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	key, body, value, err := a.prepare(rec)
	if err != nil {
		return a.fail("add", KindOperationFailed, err)
	}
	if err := a.write(ctx, "add", func(tx backend.Tx) error {
		_, err := tx.Add(ctx, body)
		return err
	}); err != nil {
		return err
	}

	a.mu.Lock()
	a.mirror = append(a.mirror, entry[T]{key: key, value: value})
	a.mu.Unlock()
	a.logger.Debug("record added", zap.Stringer("key", key))
	return nil
}

// Get returns the record stored under key. A missing record returns
// found=false and no error. The mirror is not touched.
func (a *Accessor[T]) Get(ctx context.Context, key record.Key) (rec T, found bool, err error) {
	if err := a.checkOpen("get"); err != nil {
		return rec, false, err
	}
	key = a.normalize(key)

	err = a.run(ctx, "get", backend.ReadOnly, func(tx backend.Tx) error {
		body, ok, err := tx.Get(ctx, key)
		if err != nil || !ok {
			return err
		}
		if err := record.Decode(body, &rec); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return rec, found, nil
}

// GetAll reads the whole collection in key order and replaces the mirror
// with it.
func (a *Accessor[T]) GetAll(ctx context.Context) ([]T, error) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	if err := a.checkOpen("get_all"); err != nil {
		return nil, err
	}

	var entries []entry[T]
	err := a.run(ctx, "get_all", backend.ReadOnly, func(tx backend.Tx) error {
		bodies, err := tx.GetAll(ctx)
		if err != nil {
			return err
		}
		entries = make([]entry[T], 0, len(bodies))
		for _, body := range bodies {
			key, err := record.ExtractKey(body, a.cfg.KeyPath)
			if err != nil {
				return err
			}
			var v T
			if err := record.Decode(body, &v); err != nil {
				return err
			}
			entries = append(entries, entry[T]{key: key, value: v})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.mirror = entries
	a.mu.Unlock()
	return values(entries), nil
}

// Update stores rec, creating it if absent and overwriting it otherwise.
// On success the mirror entry with the same key is replaced, or rec is
// appended if the mirror has none.
func (a *Accessor[T]) Update(ctx context.Context, rec T) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	key, body, value, err := a.prepare(rec)
	if err != nil {
		return a.fail("update", KindOperationFailed, err)
	}
	if err := a.write(ctx, "update", func(tx backend.Tx) error {
		_, err := tx.Put(ctx, body)
		return err
	}); err != nil {
		return err
	}

	a.mu.Lock()
	if i := a.indexOf(key); i >= 0 {
		a.mirror[i].value = value
	} else {
		a.mirror = append(a.mirror, entry[T]{key: key, value: value})
	}
	a.mu.Unlock()
	a.logger.Debug("record updated", zap.Stringer("key", key))
	return nil
}

// Remove deletes the record stored under key. A missing record is not an
// error. On success the mirror entry with the key is dropped.
func (a *Accessor[T]) Remove(ctx context.Context, key record.Key) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	key = a.normalize(key)
	if err := a.write(ctx, "remove", func(tx backend.Tx) error {
		return tx.Delete(ctx, key)
	}); err != nil {
		return err
	}

	a.mu.Lock()
	if i := a.indexOf(key); i >= 0 {
		a.mirror = slices.Delete(a.mirror, i, i+1)
	}
	a.mu.Unlock()
	a.logger.Debug("record removed", zap.Stringer("key", key))
	return nil
}

// Records returns a copy of the mirror.
func (a *Accessor[T]) Records() []T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return values(a.mirror)
}

// Len returns the number of mirrored records.
func (a *Accessor[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.mirror)
}

// Lookup returns the mirrored record with key without a store round trip.
func (a *Accessor[T]) Lookup(key record.Key) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i := a.indexOf(a.normalize(key)); i >= 0 {
		return a.mirror[i].value, true
	}
	var zero T
	return zero, false
}

// Err returns the most recent failure, or nil if none occurred.
func (a *Accessor[T]) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// KeyOf returns the key rec would be stored under.
func (a *Accessor[T]) KeyOf(rec T) (record.Key, error) {
	key, _, _, err := a.prepare(rec)
	return key, err
}

// Close discards the mirror. Later operations fail with ErrClosed. The
// factory is not closed.
func (a *Accessor[T]) Close() error {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.mirror = nil
	return nil
}

// prepare encodes rec and extracts its key. With NormalizeKeys a string key
// is rewritten to NFC in the body, and value is decoded back from it.
func (a *Accessor[T]) prepare(rec T) (record.Key, []byte, T, error) {
	body, err := record.Encode(rec)
	if err != nil {
		return record.Key{}, nil, rec, err
	}
	doc, err := record.ParseDocument(body)
	if err != nil {
		return record.Key{}, nil, rec, err
	}
	key, err := doc.Key(a.cfg.KeyPath)
	if err != nil {
		return record.Key{}, nil, rec, err
	}

	norm := a.normalize(key)
	if norm.Equal(key) {
		return key, body, rec, nil
	}
	if err := doc.Set(a.cfg.KeyPath, norm.Str()); err != nil {
		return record.Key{}, nil, rec, err
	}
	if body, err = doc.Canonical(); err != nil {
		return record.Key{}, nil, rec, err
	}
	var value T
	if err := record.Decode(body, &value); err != nil {
		return record.Key{}, nil, rec, err
	}
	return norm, body, value, nil
}

func (a *Accessor[T]) normalize(key record.Key) record.Key {
	if a.cfg.NormalizeKeys {
		return key.Normalize()
	}
	return key
}

// write runs fn in a read-write transaction.
func (a *Accessor[T]) write(ctx context.Context, op string, fn func(backend.Tx) error) error {
	if err := a.checkOpen(op); err != nil {
		return err
	}
	return a.run(ctx, op, backend.ReadWrite, fn)
}

// run resolves a handle, runs fn in one transaction and commits. Every
// failure is recorded and returned as an *Error.
func (a *Accessor[T]) run(ctx context.Context, op string, mode backend.Mode, fn func(backend.Tx) error) error {
	db, err := a.resolve(ctx)
	if err != nil {
		return a.fail(op, KindDatabaseOpen, err)
	}
	defer db.Close()

	tx, err := db.Begin(ctx, mode, a.cfg.Collection)
	if err != nil {
		return a.fail(op, classify(err), err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return a.fail(op, classify(err), err)
	}
	if err := tx.Commit(); err != nil {
		return a.fail(op, classify(err), err)
	}
	return nil
}

func (a *Accessor[T]) checkOpen(op string) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return a.fail(op, KindOperationFailed, ErrClosed)
	}
	return nil
}

// fail records err as the error state and returns it.
func (a *Accessor[T]) fail(op string, kind Kind, err error) error {
	e := &Error{Kind: kind, Op: op, Collection: a.cfg.Collection, Err: err}
	a.mu.Lock()
	a.lastErr = e
	a.mu.Unlock()
	a.logger.Warn("operation failed",
		zap.String("op", op),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return e
}

// indexOf returns the mirror index of key, or -1. Caller holds a.mu.
func (a *Accessor[T]) indexOf(key record.Key) int {
	return slices.IndexFunc(a.mirror, func(e entry[T]) bool { return e.key.Equal(key) })
}

func values[T any](entries []entry[T]) []T {
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}
