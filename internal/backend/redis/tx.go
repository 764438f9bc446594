package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/record"
)

// staged is a pending change; a nil body is a delete.
type staged struct {
	key  record.Key
	body []byte
}

// Tx is a transaction on one collection hash. Writes are buffered and sent
// as one MULTI/EXEC on Commit, guarded by WATCH on the collection and the
// catalog.
type Tx struct {
	ctx     context.Context
	db      *Database
	mode    backend.Mode
	name    string
	hash    string
	keyPath string

	mu      sync.Mutex
	done    bool
	pending map[string]*staged
	order   []string
	adds    map[string]record.Key
}

var _ backend.Tx = (*Tx)(nil)

func (t *Tx) client() *redis.Client { return t.db.f.client }

func (t *Tx) check(write bool) error {
	if t.done {
		return fmt.Errorf("tx %q: %w", t.name, backend.ErrClosed)
	}
	if write && t.mode != backend.ReadWrite {
		return fmt.Errorf("tx %q: %w", t.name, backend.ErrReadOnly)
	}
	return nil
}

func (t *Tx) stage(enc string, s *staged) {
	if _, ok := t.pending[enc]; !ok {
		t.order = append(t.order, enc)
	}
	t.pending[enc] = s
}

// Get implements backend.Tx.
func (t *Tx) Get(ctx context.Context, key record.Key) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(false); err != nil {
		return nil, false, err
	}

	enc := key.Encode()
	if s, ok := t.pending[enc]; ok {
		if s.body == nil {
			return nil, false, nil
		}
		return append([]byte(nil), s.body...), true, nil
	}

	body, err := t.client().HGet(ctx, t.hash, enc).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", enc, err)
	}
	return []byte(body), true, nil
}

// GetAll implements backend.Tx.
func (t *Tx) GetAll(ctx context.Context) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(false); err != nil {
		return nil, err
	}

	stored, err := t.client().HGetAll(ctx, t.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	for enc, s := range t.pending {
		if s.body == nil {
			delete(stored, enc)
			continue
		}
		stored[enc] = string(s.body)
	}

	type row struct {
		key  record.Key
		body string
	}
	rows := make([]row, 0, len(stored))
	for enc, body := range stored {
		key, err := record.DecodeKey(enc)
		if err != nil {
			return nil, fmt.Errorf("get all: field %q: %w", enc, err)
		}
		rows = append(rows, row{key: key, body: body})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key.Compare(rows[j].key) < 0 })

	bodies := make([][]byte, len(rows))
	for i, r := range rows {
		bodies[i] = []byte(r.body)
	}
	return bodies, nil
}

// Add implements backend.Tx. The key is checked now against the server
// and again at commit under WATCH.
func (t *Tx) Add(ctx context.Context, body []byte) (record.Key, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(true); err != nil {
		return record.Key{}, err
	}

	key, canonical, err := backend.PrepareBody(body, t.keyPath)
	if err != nil {
		return record.Key{}, fmt.Errorf("add: %w", err)
	}

	enc := key.Encode()
	if s, ok := t.pending[enc]; ok {
		if s.body != nil {
			return record.Key{}, backend.ConstraintError(t.name, key)
		}
	} else {
		exists, err := t.client().HExists(ctx, t.hash, enc).Result()
		if err != nil {
			return record.Key{}, fmt.Errorf("add %s: %w", enc, err)
		}
		if exists {
			return record.Key{}, backend.ConstraintError(t.name, key)
		}
		t.adds[enc] = key
	}

	t.stage(enc, &staged{key: key, body: canonical})
	return key, nil
}

// Put implements backend.Tx.
func (t *Tx) Put(ctx context.Context, body []byte) (record.Key, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(true); err != nil {
		return record.Key{}, err
	}

	key, canonical, err := backend.PrepareBody(body, t.keyPath)
	if err != nil {
		return record.Key{}, fmt.Errorf("put: %w", err)
	}
	t.stage(key.Encode(), &staged{key: key, body: canonical})
	return key, nil
}

// Delete implements backend.Tx.
func (t *Tx) Delete(ctx context.Context, key record.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(true); err != nil {
		return err
	}

	enc := key.Encode()
	delete(t.adds, enc)
	t.stage(enc, &staged{key: key})
	return nil
}

// Count implements backend.Tx.
func (t *Tx) Count(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(false); err != nil {
		return 0, err
	}

	if len(t.pending) == 0 {
		n, err := t.client().HLen(ctx, t.hash).Result()
		if err != nil {
			return 0, fmt.Errorf("count: %w", err)
		}
		return int(n), nil
	}

	fields, err := t.client().HKeys(ctx, t.hash).Result()
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[f] = true
	}
	for enc, s := range t.pending {
		present[enc] = s.body != nil
	}
	n := 0
	for _, ok := range present {
		if ok {
			n++
		}
	}
	return n, nil
}

// Commit implements backend.Tx.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("commit %q: %w", t.name, backend.ErrClosed)
	}
	t.done = true

	if len(t.pending) == 0 {
		return nil
	}

	ctx := t.ctx
	catalog := t.db.keys.catalog()
	txf := func(tx *redis.Tx) error {
		ok, err := tx.HExists(ctx, catalog, t.name).Result()
		if err != nil {
			return err
		}
		if !ok {
			return backend.ErrNoCollection
		}
		for enc, key := range t.adds {
			exists, err := tx.HExists(ctx, t.hash, enc).Result()
			if err != nil {
				return err
			}
			if exists {
				return backend.ConstraintError(t.name, key)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, enc := range t.order {
				s := t.pending[enc]
				if s.body == nil {
					pipe.HDel(ctx, t.hash, enc)
					continue
				}
				pipe.HSet(ctx, t.hash, enc, string(s.body))
			}
			return nil
		})
		return err
	}

	if err := t.db.f.watch(ctx, txf, t.hash, catalog); err != nil {
		return fmt.Errorf("commit %q: %w", t.name, err)
	}
	return nil
}

// Rollback implements backend.Tx. It is a no-op on a finished transaction.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.pending = nil
	t.adds = nil
	return nil
}
