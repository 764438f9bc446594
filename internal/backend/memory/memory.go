// Package memory implements the backend capability with process-local maps.
//
// Databases live as long as the Factory. Read transactions share a
// database's lock; write transactions hold it exclusively and stage their
// changes until Commit.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/record"
)

// Factory holds in-memory databases by name.
type Factory struct {
	mu     sync.Mutex
	dbs    map[string]*database
	closed bool
}

var _ backend.Factory = (*Factory)(nil)

// NewFactory creates an empty in-memory factory.
func NewFactory() *Factory {
	return &Factory{dbs: make(map[string]*database)}
}

type collection struct {
	keyPath string
	records map[string]entry
}

type entry struct {
	key  record.Key
	body []byte
}

// database is the shared state behind every handle opened on one name.
type database struct {
	mu          sync.RWMutex
	version     int
	collections map[string]*collection
}

func (f *Factory) lookup(name string, create bool) (*database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("memory factory: %w", backend.ErrClosed)
	}
	db, ok := f.dbs[name]
	if !ok && create {
		db = &database{collections: make(map[string]*collection)}
		f.dbs[name] = db
	}
	return db, nil
}

// Version implements backend.Factory.
func (f *Factory) Version(ctx context.Context, name string) (int, error) {
	if err := backend.CheckOpen(name, 0); err != nil {
		return 0, err
	}
	db, err := f.lookup(name, false)
	if err != nil || db == nil {
		return 0, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.version, nil
}

// Open implements backend.Factory.
func (f *Factory) Open(ctx context.Context, name string, version int, upgrade backend.UpgradeFunc) (backend.Database, error) {
	if err := backend.CheckOpen(name, version); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := f.lookup(name, true)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	target, err := backend.ResolveVersion(db.version, version)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}

	if target > db.version {
		u := &upgrader{staged: db.cloneCatalog()}
		if upgrade != nil {
			if err := upgrade(ctx, u, db.version, target); err != nil {
				return nil, backend.UpgradeError(name, db.version, target, err)
			}
		}
		db.collections = u.staged
		db.version = target
	}

	return &handle{
		name:     name,
		version:  target,
		db:       db,
		keyPaths: db.keyPaths(),
	}, nil
}

// Delete implements backend.Factory.
func (f *Factory) Delete(ctx context.Context, name string) error {
	if err := backend.CheckOpen(name, 0); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("memory factory: %w", backend.ErrClosed)
	}
	delete(f.dbs, name)
	return nil
}

// Close implements backend.Factory and drops every database.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.dbs = nil
	return nil
}

// cloneCatalog copies the collection map. Collections themselves are
// shared; an upgrade only adds or removes whole collections.
func (db *database) cloneCatalog() map[string]*collection {
	out := make(map[string]*collection, len(db.collections))
	for name, c := range db.collections {
		out[name] = c
	}
	return out
}

func (db *database) keyPaths() map[string]string {
	out := make(map[string]string, len(db.collections))
	for name, c := range db.collections {
		out[name] = c.keyPath
	}
	return out
}

type upgrader struct {
	staged map[string]*collection
}

func (u *upgrader) CreateCollection(name, keyPath string) error {
	if name == "" {
		return fmt.Errorf("create collection: %w", backend.ErrInvalidName)
	}
	if err := record.ValidateKeyPath(keyPath); err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	if _, ok := u.staged[name]; ok {
		return fmt.Errorf("create collection %q: %w", name, backend.ErrCollectionExists)
	}
	u.staged[name] = &collection{keyPath: keyPath, records: make(map[string]entry)}
	return nil
}

func (u *upgrader) DeleteCollection(name string) error {
	if _, ok := u.staged[name]; !ok {
		return fmt.Errorf("delete collection %q: %w", name, backend.ErrNoCollection)
	}
	delete(u.staged, name)
	return nil
}

func (u *upgrader) HasCollection(name string) bool {
	_, ok := u.staged[name]
	return ok
}

// handle is one open Database.
type handle struct {
	name     string
	version  int
	db       *database
	keyPaths map[string]string

	mu     sync.Mutex
	closed bool
}

func (h *handle) Name() string { return h.name }
func (h *handle) Version() int { return h.version }

func (h *handle) Collections() []string {
	names := make([]string, 0, len(h.keyPaths))
	for name := range h.keyPaths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *handle) HasCollection(name string) bool {
	_, ok := h.keyPaths[name]
	return ok
}

func (h *handle) KeyPath(collection string) (string, error) {
	kp, ok := h.keyPaths[collection]
	if !ok {
		return "", fmt.Errorf("%q: %w", collection, backend.ErrNoCollection)
	}
	return kp, nil
}

// Begin implements backend.Database. The returned transaction holds the
// database lock until Commit or Rollback.
func (h *handle) Begin(ctx context.Context, mode backend.Mode, name string) (backend.Tx, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("begin %q: %w", name, backend.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if mode == backend.ReadWrite {
		h.db.mu.Lock()
	} else {
		h.db.mu.RLock()
	}

	c, ok := h.db.collections[name]
	if !ok {
		h.unlock(mode)
		return nil, fmt.Errorf("begin %q: %w", name, backend.ErrNoCollection)
	}

	return &tx{
		h:       h,
		mode:    mode,
		name:    name,
		coll:    c,
		pending: make(map[string]*entry),
	}, nil
}

func (h *handle) unlock(mode backend.Mode) {
	if mode == backend.ReadWrite {
		h.db.mu.Unlock()
	} else {
		h.db.mu.RUnlock()
	}
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// tx stages writes in pending; a nil entry marks a delete.
type tx struct {
	h       *handle
	mode    backend.Mode
	name    string
	coll    *collection
	pending map[string]*entry

	mu   sync.Mutex
	done bool
}

func (t *tx) check(write bool) error {
	if t.done {
		return fmt.Errorf("tx %q: %w", t.name, backend.ErrClosed)
	}
	if write && t.mode != backend.ReadWrite {
		return fmt.Errorf("tx %q: %w", t.name, backend.ErrReadOnly)
	}
	return nil
}

func (t *tx) lookup(enc string) (entry, bool) {
	if p, ok := t.pending[enc]; ok {
		if p == nil {
			return entry{}, false
		}
		return *p, true
	}
	e, ok := t.coll.records[enc]
	return e, ok
}

func (t *tx) Get(ctx context.Context, key record.Key) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(false); err != nil {
		return nil, false, err
	}
	e, ok := t.lookup(key.Encode())
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(e.body), true, nil
}

func (t *tx) GetAll(ctx context.Context) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(false); err != nil {
		return nil, err
	}

	merged := make(map[string]entry, len(t.coll.records))
	for enc, e := range t.coll.records {
		merged[enc] = e
	}
	for enc, p := range t.pending {
		if p == nil {
			delete(merged, enc)
			continue
		}
		merged[enc] = *p
	}

	entries := make([]entry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b entry) int { return a.key.Compare(b.key) })

	bodies := make([][]byte, len(entries))
	for i, e := range entries {
		bodies[i] = slices.Clone(e.body)
	}
	return bodies, nil
}

func (t *tx) Add(ctx context.Context, body []byte) (record.Key, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(true); err != nil {
		return record.Key{}, err
	}

	key, canonical, err := backend.PrepareBody(body, t.coll.keyPath)
	if err != nil {
		return record.Key{}, fmt.Errorf("add: %w", err)
	}
	enc := key.Encode()
	if _, exists := t.lookup(enc); exists {
		return record.Key{}, backend.ConstraintError(t.name, key)
	}
	t.pending[enc] = &entry{key: key, body: canonical}
	return key, nil
}

func (t *tx) Put(ctx context.Context, body []byte) (record.Key, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(true); err != nil {
		return record.Key{}, err
	}

	key, canonical, err := backend.PrepareBody(body, t.coll.keyPath)
	if err != nil {
		return record.Key{}, fmt.Errorf("put: %w", err)
	}
	t.pending[key.Encode()] = &entry{key: key, body: canonical}
	return key, nil
}

func (t *tx) Delete(ctx context.Context, key record.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(true); err != nil {
		return err
	}
	t.pending[key.Encode()] = nil
	return nil
}

func (t *tx) Count(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(false); err != nil {
		return 0, err
	}

	n := len(t.coll.records)
	for enc, p := range t.pending {
		_, stored := t.coll.records[enc]
		switch {
		case p == nil && stored:
			n--
		case p != nil && !stored:
			n++
		}
	}
	return n, nil
}

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("commit %q: %w", t.name, backend.ErrClosed)
	}
	t.done = true

	for enc, p := range t.pending {
		if p == nil {
			delete(t.coll.records, enc)
			continue
		}
		t.coll.records[enc] = *p
	}
	t.h.unlock(t.mode)
	return nil
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.h.unlock(t.mode)
	return nil
}
