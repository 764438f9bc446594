package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/record"
)

// querier is the subset shared by *sql.Tx and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a transaction on one collection table.
type Tx struct {
	q          querier
	finish     func(commit bool) error
	mode       backend.Mode
	collection string
	table      string
	keyPath    string

	mu   sync.Mutex
	done bool
}

var _ backend.Tx = (*Tx)(nil)

func (t *Tx) check(write bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("tx %q: %w", t.collection, backend.ErrClosed)
	}
	if write && t.mode != backend.ReadWrite {
		return fmt.Errorf("tx %q: %w", t.collection, backend.ErrReadOnly)
	}
	return nil
}

// Get implements backend.Tx.
func (t *Tx) Get(ctx context.Context, key record.Key) ([]byte, bool, error) {
	if err := t.check(false); err != nil {
		return nil, false, err
	}

	var body string
	err := t.q.QueryRowContext(ctx,
		"SELECT body FROM "+t.table+" WHERE rec_key = ?", key.SQLValue(),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key.Encode(), err)
	}
	return []byte(body), true, nil
}

// GetAll implements backend.Tx.
func (t *Tx) GetAll(ctx context.Context) ([][]byte, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}

	rows, err := t.q.QueryContext(ctx, "SELECT body FROM "+t.table+" ORDER BY rec_key ASC")
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	defer rows.Close()

	bodies := [][]byte{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("get all: scan: %w", err)
		}
		bodies = append(bodies, []byte(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	return bodies, nil
}

// Add implements backend.Tx.
// Uses ON CONFLICT DO NOTHING and reports a duplicate when no row was
// inserted.
func (t *Tx) Add(ctx context.Context, body []byte) (record.Key, error) {
	if err := t.check(true); err != nil {
		return record.Key{}, err
	}

	key, canonical, err := backend.PrepareBody(body, t.keyPath)
	if err != nil {
		return record.Key{}, fmt.Errorf("add: %w", err)
	}

	result, err := t.q.ExecContext(ctx, `
		INSERT INTO `+t.table+` (rec_key, body)
		VALUES (?, ?)
		ON CONFLICT(rec_key) DO NOTHING
	`, key.SQLValue(), string(canonical))
	if err != nil {
		return record.Key{}, fmt.Errorf("add %s: %w", key.Encode(), err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return record.Key{}, fmt.Errorf("add %s: rows affected: %w", key.Encode(), err)
	}
	if n == 0 {
		return record.Key{}, backend.ConstraintError(t.collection, key)
	}
	return key, nil
}

// Put implements backend.Tx.
func (t *Tx) Put(ctx context.Context, body []byte) (record.Key, error) {
	if err := t.check(true); err != nil {
		return record.Key{}, err
	}

	key, canonical, err := backend.PrepareBody(body, t.keyPath)
	if err != nil {
		return record.Key{}, fmt.Errorf("put: %w", err)
	}

	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO `+t.table+` (rec_key, body)
		VALUES (?, ?)
		ON CONFLICT(rec_key) DO UPDATE SET body = excluded.body
	`, key.SQLValue(), string(canonical)); err != nil {
		return record.Key{}, fmt.Errorf("put %s: %w", key.Encode(), err)
	}
	return key, nil
}

// Delete implements backend.Tx.
func (t *Tx) Delete(ctx context.Context, key record.Key) error {
	if err := t.check(true); err != nil {
		return err
	}

	if _, err := t.q.ExecContext(ctx,
		"DELETE FROM "+t.table+" WHERE rec_key = ?", key.SQLValue(),
	); err != nil {
		return fmt.Errorf("delete %s: %w", key.Encode(), err)
	}
	return nil
}

// Count implements backend.Tx.
func (t *Tx) Count(ctx context.Context) (int, error) {
	if err := t.check(false); err != nil {
		return 0, err
	}

	var n int
	if err := t.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Commit implements backend.Tx.
func (t *Tx) Commit() error {
	if !t.markDone() {
		return fmt.Errorf("commit %q: %w", t.collection, backend.ErrClosed)
	}
	if err := t.finish(true); err != nil {
		return fmt.Errorf("commit %q: %w", t.collection, err)
	}
	return nil
}

// Rollback implements backend.Tx. It is a no-op on a finished transaction.
func (t *Tx) Rollback() error {
	if !t.markDone() {
		return nil
	}
	if err := t.finish(false); err != nil {
		return fmt.Errorf("rollback %q: %w", t.collection, err)
	}
	return nil
}

func (t *Tx) markDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
