package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/record"
)

const (
	fileExt      = ".sqlite"
	catalogTable = "_recstore_collections"
	tablePrefix  = "c_"
	busyTimeout  = 5000
)

// Factory opens SQLite databases under one directory.
type Factory struct {
	dir string

	mu     sync.Mutex
	closed bool
}

var _ backend.Factory = (*Factory)(nil)

// NewFactory returns a factory storing databases in dir, creating the
// directory if needed.
func NewFactory(dir string) (*Factory, error) {
	if dir == "" {
		return nil, fmt.Errorf("sqlite: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Factory{dir: dir}, nil
}

// Dir returns the data directory.
func (f *Factory) Dir() string {
	return f.dir
}

// Path returns the file backing the named database.
func (f *Factory) Path(name string) string {
	return filepath.Join(f.dir, url.PathEscape(name)+fileExt)
}

func (f *Factory) checkClosed() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("sqlite factory: %w", backend.ErrClosed)
	}
	return nil
}

// Version implements backend.Factory.
func (f *Factory) Version(ctx context.Context, name string) (int, error) {
	if err := f.checkClosed(); err != nil {
		return 0, err
	}
	if err := backend.CheckOpen(name, 0); err != nil {
		return 0, err
	}

	path := f.Path(name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("stat database: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// Open implements backend.Factory.
//
// The version check, the upgrade and the user_version bump run in one
// immediate transaction, so concurrent openers see either the old schema
// or the new one.
func (f *Factory) Open(ctx context.Context, name string, version int, upgrade backend.UpgradeFunc) (backend.Database, error) {
	if err := f.checkClosed(); err != nil {
		return nil, err
	}
	if err := backend.CheckOpen(name, version); err != nil {
		return nil, err
	}

	db, err := openDB(f.Path(name))
	if err != nil {
		return nil, err
	}

	resolved, collections, err := applySchema(ctx, db, name, version, upgrade)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Database{
		db:          db,
		name:        name,
		version:     resolved,
		collections: collections,
	}, nil
}

// Delete implements backend.Factory.
func (f *Factory) Delete(ctx context.Context, name string) error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	if err := backend.CheckOpen(name, 0); err != nil {
		return err
	}

	path := f.Path(name)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete database: %w", err)
		}
	}
	return nil
}

// Close implements backend.Factory. Databases already open stay usable
// until closed.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// openDB opens (and creates) a SQLite file and applies connection pragmas.
func openDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_txlock=immediate&_busy_timeout=%d", path, busyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	return db, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema checks the requested version against user_version, runs the
// upgrade when the version rises and returns the resolved version with the
// collection catalog.
func applySchema(ctx context.Context, db *sql.DB, name string, requested int, upgrade backend.UpgradeFunc) (int, map[string]string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("open %q: begin tx: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+catalogTable+` (
			name     TEXT PRIMARY KEY,
			key_path TEXT NOT NULL
		) WITHOUT ROWID
	`); err != nil {
		return 0, nil, fmt.Errorf("open %q: create catalog: %w", name, err)
	}

	var current int
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return 0, nil, fmt.Errorf("open %q: get user_version: %w", name, err)
	}

	target, err := backend.ResolveVersion(current, requested)
	if err != nil {
		return 0, nil, fmt.Errorf("open %q: %w", name, err)
	}

	collections, err := loadCatalog(ctx, tx)
	if err != nil {
		return 0, nil, fmt.Errorf("open %q: %w", name, err)
	}

	if target > current {
		if upgrade != nil {
			u := &upgrader{ctx: ctx, tx: tx, collections: collections}
			if err := upgrade(ctx, u, current, target); err != nil {
				return 0, nil, backend.UpgradeError(name, current, target, err)
			}
		}
		// PRAGMA does not take bound parameters; target is an int.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
			return 0, nil, fmt.Errorf("open %q: set user_version: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("open %q: commit: %w", name, err)
	}
	return target, collections, nil
}

func loadCatalog(ctx context.Context, q querier) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, key_path FROM "+catalogTable)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()

	collections := make(map[string]string)
	for rows.Next() {
		var name, keyPath string
		if err := rows.Scan(&name, &keyPath); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		collections[name] = keyPath
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return collections, nil
}

// quoteIdent quotes a SQL identifier.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func tableName(collection string) string {
	return quoteIdent(tablePrefix + collection)
}

// upgrader applies collection changes inside the open transaction.
type upgrader struct {
	ctx         context.Context
	tx          *sql.Tx
	collections map[string]string
}

func (u *upgrader) CreateCollection(name, keyPath string) error {
	if name == "" {
		return fmt.Errorf("create collection: %w", backend.ErrInvalidName)
	}
	if err := record.ValidateKeyPath(keyPath); err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	if _, ok := u.collections[name]; ok {
		return fmt.Errorf("create collection %q: %w", name, backend.ErrCollectionExists)
	}

	if _, err := u.tx.ExecContext(u.ctx, `
		CREATE TABLE `+tableName(name)+` (
			rec_key PRIMARY KEY NOT NULL,
			body    TEXT NOT NULL
		) WITHOUT ROWID
	`); err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	if _, err := u.tx.ExecContext(u.ctx,
		"INSERT INTO "+catalogTable+" (name, key_path) VALUES (?, ?)", name, keyPath,
	); err != nil {
		return fmt.Errorf("create collection %q: catalog: %w", name, err)
	}

	u.collections[name] = keyPath
	return nil
}

func (u *upgrader) DeleteCollection(name string) error {
	if _, ok := u.collections[name]; !ok {
		return fmt.Errorf("delete collection %q: %w", name, backend.ErrNoCollection)
	}

	if _, err := u.tx.ExecContext(u.ctx, "DROP TABLE "+tableName(name)); err != nil {
		return fmt.Errorf("delete collection %q: %w", name, err)
	}
	if _, err := u.tx.ExecContext(u.ctx, "DELETE FROM "+catalogTable+" WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete collection %q: catalog: %w", name, err)
	}

	delete(u.collections, name)
	return nil
}

func (u *upgrader) HasCollection(name string) bool {
	_, ok := u.collections[name]
	return ok
}

// Database is an open SQLite database.
type Database struct {
	db          *sql.DB
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

// Begin implements backend.Database.
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

	t := &Tx{
		mode:       mode,
		collection: collection,
		table:      tableName(collection),
		keyPath:    keyPath,
	}

	if mode == backend.ReadWrite {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin %q: %w", collection, err)
		}
		t.q = tx
		t.finish = func(commit bool) error {
			if commit {
				return tx.Commit()
			}
			return tx.Rollback()
		}
		return t, nil
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin %q: %w", collection, err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN DEFERRED"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("begin %q: %w", collection, err)
	}
	t.q = conn
	t.finish = func(commit bool) error {
		stmt := "ROLLBACK"
		if commit {
			stmt = "COMMIT"
		}
		_, err := conn.ExecContext(context.Background(), stmt)
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return t, nil
}

// Close implements backend.Database.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}
