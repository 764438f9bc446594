// Package redis implements the backend capability on a Redis server.
//
// Key layout, for prefix P and database D (both query-escaped):
//
//	P:D:version      string   schema version
//	P:D:catalog      hash     collection name -> key path
//	P:D:c:<name>     hash     encoded key -> canonical body
//
// Upgrades and write commits run under WATCH/MULTI/EXEC and are retried a
// bounded number of times when a concurrent writer invalidates the watch.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/record"
)

const (
	defaultPrefix     = "recstore"
	defaultMaxRetries = 20
)

// Factory opens databases stored in one Redis keyspace.
type Factory struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

var _ backend.Factory = (*Factory)(nil)

// NewFactory creates a Redis-backed factory. The factory owns client and
// closes it on Close.
func NewFactory(client *redis.Client, opts ...Option) *Factory {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.prefix == "" {
		cfg.prefix = defaultPrefix
	}
	if cfg.maxRetries <= 0 {
		cfg.maxRetries = defaultMaxRetries
	}
	return &Factory{
		client:     client,
		prefix:     cfg.prefix,
		maxRetries: cfg.maxRetries,
	}
}

// keys builds the Redis keys of one database.
type keys struct {
	base string
}

func (f *Factory) keys(name string) keys {
	return keys{base: f.prefix + ":" + url.QueryEscape(name)}
}

func (k keys) version() string { return k.base + ":version" }
func (k keys) catalog() string { return k.base + ":catalog" }
func (k keys) collection(name string) string {
	return k.base + ":c:" + url.QueryEscape(name)
}

// Version implements backend.Factory.
func (f *Factory) Version(ctx context.Context, name string) (int, error) {
	if err := backend.CheckOpen(name, 0); err != nil {
		return 0, err
	}
	v, err := f.client.Get(ctx, f.keys(name).version()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// Open implements backend.Factory.
func (f *Factory) Open(ctx context.Context, name string, version int, upgrade backend.UpgradeFunc) (backend.Database, error) {
	if err := backend.CheckOpen(name, version); err != nil {
		return nil, err
	}
	k := f.keys(name)

	var (
		resolved int
		catalog  map[string]string
	)
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k.version()).Int()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return fmt.Errorf("get version: %w", err)
		}

		target, err := backend.ResolveVersion(current, version)
		if err != nil {
			return err
		}

		stored, err := tx.HGetAll(ctx, k.catalog()).Result()
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}

		if target == current {
			resolved, catalog = target, stored
			return nil
		}

		u := newUpgrader(stored)
		if upgrade != nil {
			if err := upgrade(ctx, u, current, target); err != nil {
				return backend.UpgradeError(name, current, target, err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range u.ops {
				if op.create {
					pipe.HSet(ctx, k.catalog(), op.name, op.keyPath)
					continue
				}
				pipe.HDel(ctx, k.catalog(), op.name)
				pipe.Del(ctx, k.collection(op.name))
			}
			pipe.Set(ctx, k.version(), target, 0)
			return nil
		})
		if err != nil {
			return err
		}
		resolved, catalog = target, u.catalog
		return nil
	}

	if err := f.watch(ctx, txf, k.version(), k.catalog()); err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}

	return &Database{
		f:           f,
		keys:        k,
		name:        name,
		version:     resolved,
		collections: catalog,
	}, nil
}

// watch runs fn under WATCH, retrying when the watched keys change.
func (f *Factory) watch(ctx context.Context, fn func(*redis.Tx) error, watched ...string) error {
	for i := 0; i < f.maxRetries; i++ {
		err := f.client.Watch(ctx, fn, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return backend.ErrConflict
}

// Delete implements backend.Factory.
func (f *Factory) Delete(ctx context.Context, name string) error {
	if err := backend.CheckOpen(name, 0); err != nil {
		return err
	}
	k := f.keys(name)

	names, err := f.client.HKeys(ctx, k.catalog()).Result()
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	del := []string{k.version(), k.catalog()}
	for _, n := range names {
		del = append(del, k.collection(n))
	}
	if err := f.client.Del(ctx, del...).Err(); err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}

// Close implements backend.Factory.
func (f *Factory) Close() error {
	return f.client.Close()
}

type catalogOp struct {
	create  bool
	name    string
	keyPath string
}

// upgrader records catalog changes; Open applies them in one MULTI.
type upgrader struct {
	catalog map[string]string
	ops     []catalogOp
}

func newUpgrader(stored map[string]string) *upgrader {
	catalog := make(map[string]string, len(stored))
	for k, v := range stored {
		catalog[k] = v
	}
	return &upgrader{catalog: catalog}
}

func (u *upgrader) CreateCollection(name, keyPath string) error {
	if name == "" {
		return fmt.Errorf("create collection: %w", backend.ErrInvalidName)
	}
	if err := record.ValidateKeyPath(keyPath); err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	if _, ok := u.catalog[name]; ok {
		return fmt.Errorf("create collection %q: %w", name, backend.ErrCollectionExists)
	}
	u.catalog[name] = keyPath
	u.ops = append(u.ops, catalogOp{create: true, name: name, keyPath: keyPath})
	return nil
}

func (u *upgrader) DeleteCollection(name string) error {
	if _, ok := u.catalog[name]; !ok {
		return fmt.Errorf("delete collection %q: %w", name, backend.ErrNoCollection)
	}
	delete(u.catalog, name)
	u.ops = append(u.ops, catalogOp{name: name})
	return nil
}

func (u *upgrader) HasCollection(name string) bool {
	_, ok := u.catalog[name]
	return ok
}

// Database is an open handle on one Redis-backed database.
type Database struct {
	f           *Factory
	keys        keys
	name        string
	version     int
	collections map[string]string

	mu     sync.Mutex
	closed bool
}

var _ backend.Database = (*Database)(nil)

func (d *Database) Name() string { return d.name }
func (d *Database) Version() int { return d.version }

func (d *Database) Collections() []string {
	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Database) HasCollection(name string) bool {
	_, ok := d.collections[name]
	return ok
}

func (d *Database) KeyPath(collection string) (string, error) {
	kp, ok := d.collections[collection]
	if !ok {
		return "", fmt.Errorf("%q: %w", collection, backend.ErrNoCollection)
	}
	return kp, nil
}

// Begin implements backend.Database. Reads go straight to Redis; writes
// are staged and applied atomically on Commit.
func (d *Database) Begin(ctx context.Context, mode backend.Mode, collection string) (backend.Tx, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("begin %q: %w", collection, backend.ErrClosed)
	}

	keyPath, ok := d.collections[collection]
	if !ok {
		return nil, fmt.Errorf("begin %q: %w", collection, backend.ErrNoCollection)
	}

	return &Tx{
		ctx:     ctx,
		db:      d,
		mode:    mode,
		name:    collection,
		hash:    d.keys.collection(collection),
		keyPath: keyPath,
		pending: make(map[string]*staged),
		adds:    make(map[string]record.Key),
	}, nil
}

func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
