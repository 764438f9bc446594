package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/backend/backendtest"
	"github.com/roach88/recstore/internal/record"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(t.TempDir())
	if err != nil {
		t.Fatalf("NewFactory() failed: %v", err)
	}
	return f
}

// rawDB opens the database file of name directly, beside any open handle.
func rawDB(t *testing.T, f *Factory, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", f.Path(name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Factory {
		return newTestFactory(t)
	})
}

func TestNewFactory_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	f, err := NewFactory(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, f.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewFactory_RequiresDirectory(t *testing.T) {
	_, err := NewFactory("")
	assert.Error(t, err)
}

func TestOpen_CreatesFile(t *testing.T) {
	f := newTestFactory(t)

	db, err := f.Open(context.Background(), "TodoApp", 1, nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(f.Path("TodoApp"))
	assert.NoError(t, err, "database file was not created")
}

func TestVersion_DoesNotCreateFile(t *testing.T) {
	f := newTestFactory(t)

	v, err := f.Version(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	_, err = os.Stat(f.Path("ghost"))
	assert.True(t, os.IsNotExist(err))
}

func TestPath_EscapesNames(t *testing.T) {
	f := newTestFactory(t)

	p := f.Path("../etc/passwd")
	assert.Equal(t, f.Dir(), filepath.Dir(p))
}

func TestOpen_AppliesPragmas(t *testing.T) {
	f := newTestFactory(t)

	db, err := f.Open(context.Background(), "app", 1, nil)
	require.NoError(t, err)
	defer db.Close()

	raw := rawDB(t, f, "app")

	var mode string
	require.NoError(t, raw.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, raw.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestCollectionNameIsQuoted(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	db, err := f.Open(ctx, "app", 1, backendtest.CreateCollections(`odd "name"; drop`))
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin(ctx, backend.ReadWrite, `odd "name"; drop`)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Add(ctx, []byte(`{"id":"1"}`))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func TestKeysKeepStorageClass(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	db, err := f.Open(ctx, "app", 1, backendtest.CreateCollections("todos"))
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin(ctx, backend.ReadWrite, "todos")
	require.NoError(t, err)
	_, err = tx.Add(ctx, []byte(`{"id":1}`))
	require.NoError(t, err)
	_, err = tx.Add(ctx, []byte(`{"id":"1"}`))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	rows, err := rawDB(t, f, "app").Query(`SELECT typeof(rec_key) FROM "c_todos" ORDER BY rec_key`)
	require.NoError(t, err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var typ string
		require.NoError(t, rows.Scan(&typ))
		types = append(types, typ)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"integer", "text"}, types)
}

func TestTwoHandlesSeeEachOther(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	a, err := f.Open(ctx, "app", 1, backendtest.CreateCollections("todos"))
	require.NoError(t, err)
	defer a.Close()
	b, err := f.Open(ctx, "app", 1, nil)
	require.NoError(t, err)
	defer b.Close()

	tx, err := a.Begin(ctx, backend.ReadWrite, "todos")
	require.NoError(t, err)
	_, err = tx.Put(ctx, []byte(`{"id":"shared"}`))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	rtx, err := b.Begin(ctx, backend.ReadOnly, "todos")
	require.NoError(t, err)
	defer rtx.Rollback()
	_, found, err := rtx.Get(ctx, record.StringKey("shared"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestClosedFactory(t *testing.T) {
	f := newTestFactory(t)
	require.NoError(t, f.Close())

	_, err := f.Open(context.Background(), "app", 1, nil)
	assert.ErrorIs(t, err, backend.ErrClosed)
	_, err = f.Version(context.Background(), "app")
	assert.ErrorIs(t, err, backend.ErrClosed)
}
