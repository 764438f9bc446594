// Package backendtest holds the conformance suite every backend driver runs.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/record"
)

// NewFactory returns a fresh, empty factory for one subtest. The suite
// closes it.
type NewFactory func(t *testing.T) backend.Factory

// Run executes the conformance suite against a driver.
func Run(t *testing.T, newFactory NewFactory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, f backend.Factory)
	}{
		{"VersionOfMissingDatabase", testVersionOfMissingDatabase},
		{"OpenDefaultsToVersionOne", testOpenDefaultsToVersionOne},
		{"UpgradeRunsOnlyWhenVersionRises", testUpgradeRunsOnlyWhenVersionRises},
		{"OpenBelowStoredVersion", testOpenBelowStoredVersion},
		{"UpgradeFailureLeavesDatabaseUnchanged", testUpgradeFailureLeavesDatabaseUnchanged},
		{"CreateAndDeleteCollection", testCreateAndDeleteCollection},
		{"BeginUnknownCollection", testBeginUnknownCollection},
		{"AddGetRoundTrip", testAddGetRoundTrip},
		{"AddDuplicateKey", testAddDuplicateKey},
		{"PutUpserts", testPutUpserts},
		{"DeleteMissingKey", testDeleteMissingKey},
		{"GetAllKeyOrder", testGetAllKeyOrder},
		{"StringAndNumberKeysDistinct", testStringAndNumberKeysDistinct},
		{"NestedKeyPath", testNestedKeyPath},
		{"BodyWithoutKey", testBodyWithoutKey},
		{"ReadOnlyRejectsWrites", testReadOnlyRejectsWrites},
		{"RollbackDiscardsWrites", testRollbackDiscardsWrites},
		{"TxSeesOwnWrites", testTxSeesOwnWrites},
		{"FinishedTxIsClosed", testFinishedTxIsClosed},
		{"ClosedDatabase", testClosedDatabase},
		{"DataSurvivesReopen", testDataSurvivesReopen},
		{"DeleteDatabase", testDeleteDatabase},
		{"ConcurrentWriters", testConcurrentWriters},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFactory(t)
			t.Cleanup(func() { _ = f.Close() })
			tc.fn(t, f)
		})
	}
}

// CreateCollections returns an UpgradeFunc creating each missing collection
// keyed by "id".
func CreateCollections(names ...string) backend.UpgradeFunc {
	return func(ctx context.Context, u backend.Upgrader, _, _ int) error {
		for _, name := range names {
			if u.HasCollection(name) {
				continue
			}
			if err := u.CreateCollection(name, record.DefaultKeyPath); err != nil {
				return err
			}
		}
		return nil
	}
}

func openTodos(t *testing.T, f backend.Factory) backend.Database {
	t.Helper()
	db, err := f.Open(context.Background(), "TodoApp", 1, CreateCollections("todos"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func withTx(t *testing.T, db backend.Database, mode backend.Mode, fn func(tx backend.Tx)) {
	t.Helper()
	tx, err := db.Begin(context.Background(), mode, "todos")
	require.NoError(t, err)
	defer tx.Rollback()
	fn(tx)
	require.NoError(t, tx.Commit())
}

func body(id any, title string) []byte {
	doc := map[string]any{"id": id, "title": title}
	data, err := record.MarshalCanonical(doc)
	if err != nil {
		panic(err)
	}
	return data
}

func testVersionOfMissingDatabase(t *testing.T, f backend.Factory) {
	v, err := f.Version(context.Background(), "nothing-here")
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	v, err = f.Version(context.Background(), "nothing-here")
	require.NoError(t, err)
	assert.Equal(t, 0, v, "Version must not create the database")
}

func testOpenDefaultsToVersionOne(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	var calls []string
	upgrade := func(ctx context.Context, u backend.Upgrader, from, to int) error {
		calls = append(calls, fmt.Sprintf("%d->%d", from, to))
		return nil
	}

	db, err := f.Open(ctx, "fresh", 0, upgrade)
	require.NoError(t, err)
	assert.Equal(t, 1, db.Version())
	assert.Equal(t, "fresh", db.Name())
	require.NoError(t, db.Close())
	assert.Equal(t, []string{"0->1"}, calls)

	v, err := f.Version(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func testUpgradeRunsOnlyWhenVersionRises(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	var calls []string
	upgrade := func(ctx context.Context, u backend.Upgrader, from, to int) error {
		calls = append(calls, fmt.Sprintf("%d->%d", from, to))
		if !u.HasCollection("todos") {
			return u.CreateCollection("todos", "id")
		}
		return nil
	}

	for _, v := range []int{1, 1, 0, 3} {
		db, err := f.Open(ctx, "app", v, upgrade)
		require.NoError(t, err)
		require.NoError(t, db.Close())
	}

	assert.Equal(t, []string{"0->1", "1->3"}, calls)

	v, err := f.Version(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func testOpenBelowStoredVersion(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db, err := f.Open(ctx, "app", 4, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = f.Open(ctx, "app", 2, nil)
	assert.ErrorIs(t, err, backend.ErrVersion)

	v, err := f.Version(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func testUpgradeFailureLeavesDatabaseUnchanged(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db, err := f.Open(ctx, "app", 1, CreateCollections("todos"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	boom := errors.New("boom")
	_, err = f.Open(ctx, "app", 2, func(ctx context.Context, u backend.Upgrader, _, _ int) error {
		if err := u.CreateCollection("notes", "id"); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrUpgrade)
	assert.ErrorIs(t, err, boom)

	v, err := f.Version(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	db, err = f.Open(ctx, "app", 0, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, []string{"todos"}, db.Collections())
}

func testCreateAndDeleteCollection(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db, err := f.Open(ctx, "app", 1, func(ctx context.Context, u backend.Upgrader, _, _ int) error {
		require.NoError(t, u.CreateCollection("b", "id"))
		require.NoError(t, u.CreateCollection("a", "meta.id"))
		assert.ErrorIs(t, u.CreateCollection("a", "id"), backend.ErrCollectionExists)
		assert.True(t, u.HasCollection("a"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, db.Collections())

	kp, err := db.KeyPath("a")
	require.NoError(t, err)
	assert.Equal(t, "meta.id", kp)
	_, err = db.KeyPath("zzz")
	assert.ErrorIs(t, err, backend.ErrNoCollection)
	require.NoError(t, db.Close())

	db, err = f.Open(ctx, "app", 2, func(ctx context.Context, u backend.Upgrader, _, _ int) error {
		assert.ErrorIs(t, u.DeleteCollection("zzz"), backend.ErrNoCollection)
		return u.DeleteCollection("b")
	})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, []string{"a"}, db.Collections())
	assert.False(t, db.HasCollection("b"))
}

func testBeginUnknownCollection(t *testing.T, f backend.Factory) {
	db := openTodos(t, f)
	_, err := db.Begin(context.Background(), backend.ReadOnly, "missing")
	assert.ErrorIs(t, err, backend.ErrNoCollection)
}

func testAddGetRoundTrip(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	withTx(t, db, backend.ReadWrite, func(tx backend.Tx) {
		key, err := tx.Add(ctx, body("1", "Learn"))
		require.NoError(t, err)
		assert.True(t, key.Equal(record.StringKey("1")))
	})

	withTx(t, db, backend.ReadOnly, func(tx backend.Tx) {
		got, found, err := tx.Get(ctx, record.StringKey("1"))
		require.NoError(t, err)
		require.True(t, found)
		assert.JSONEq(t, `{"id":"1","title":"Learn"}`, string(got))

		_, found, err = tx.Get(ctx, record.StringKey("2"))
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func testAddDuplicateKey(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	withTx(t, db, backend.ReadWrite, func(tx backend.Tx) {
		_, err := tx.Add(ctx, body("1", "first"))
		require.NoError(t, err)
	})

	tx, err := db.Begin(ctx, backend.ReadWrite, "todos")
	require.NoError(t, err)
	_, err = tx.Add(ctx, body("1", "second"))
	assert.ErrorIs(t, err, backend.ErrConstraint)
	require.NoError(t, tx.Rollback())

	withTx(t, db, backend.ReadOnly, func(tx backend.Tx) {
		got, _, err := tx.Get(ctx, record.StringKey("1"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"1","title":"first"}`, string(got))
	})
}

func testPutUpserts(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	withTx(t, db, backend.ReadWrite, func(tx backend.Tx) {
		_, err := tx.Put(ctx, body("1", "created"))
		require.NoError(t, err)
	})
	withTx(t, db, backend.ReadWrite, func(tx backend.Tx) {
		_, err := tx.Put(ctx, body("1", "replaced"))
		require.NoError(t, err)
	})

	withTx(t, db, backend.ReadOnly, func(tx backend.Tx) {
		got, found, err := tx.Get(ctx, record.StringKey("1"))
		require.NoError(t, err)
		require.True(t, found)
		assert.JSONEq(t, `{"id":"1","title":"replaced"}`, string(got))

		n, err := tx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func testDeleteMissingKey(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	withTx(t, db, backend.ReadWrite, func(tx backend.Tx) {
		_, err := tx.Add(ctx, body("1", "keep"))
		require.NoError(t, err)
		require.NoError(t, tx.Delete(ctx, record.StringKey("nope")))
	})
	withTx(t, db, backend.ReadWrite, func(tx backend.Tx) {
		require.NoError(t, tx.Delete(ctx, record.StringKey("1")))
	})
	withTx(t, db, backend.ReadOnly, func(tx backend.Tx) {
		n, err := tx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func testGetAllKeyOrder(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	withTx(t, db, backend.ReadWrite, func(tx backend.Tx) {
		for _, id := range []any{"b", 10, "a", 2, 2.5} {
			_, err := tx.Add(ctx, body(id, "x"))
			require.NoError(t, err)
		}
	})

	withTx(t, db, backend.ReadOnly, func(tx backend.Tx) {
		all, err := tx.GetAll(ctx)
		require.NoError(t, err)

		var keys []string
		for _, b := range all {
			k, err := record.ExtractKey(b, "id")
			require.NoError(t, err)
			keys = append(keys, k.Encode())
		}
		assert.Equal(t, []string{"n:2", "n:2.5", "n:10", "s:a", "s:b"}, keys)
	})
}

func testStringAndNumberKeysDistinct(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	withTx(t, db, backend.ReadWrite, func(tx backend.Tx) {
		_, err := tx.Add(ctx, body("1", "string"))
		require.NoError(t, err)
		_, err = tx.Add(ctx, body(1, "number"))
		require.NoError(t, err)
	})

	withTx(t, db, backend.ReadOnly, func(tx backend.Tx) {
		got, found, err := tx.Get(ctx, record.IntKey(1))
		require.NoError(t, err)
		require.True(t, found)
		assert.JSONEq(t, `{"id":1,"title":"number"}`, string(got))

		n, err := tx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func testNestedKeyPath(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db, err := f.Open(ctx, "nested", 1, func(ctx context.Context, u backend.Upgrader, _, _ int) error {
		return u.CreateCollection("docs", "meta.id")
	})
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin(ctx, backend.ReadWrite, "docs")
	require.NoError(t, err)
	defer tx.Rollback()

	key, err := tx.Add(ctx, []byte(`{"meta":{"id":"x"},"v":1}`))
	require.NoError(t, err)
	assert.True(t, key.Equal(record.StringKey("x")))

	got, found, err := tx.Get(ctx, record.StringKey("x"))
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"meta":{"id":"x"},"v":1}`, string(got))
	require.NoError(t, tx.Commit())
}

func testBodyWithoutKey(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	tx, err := db.Begin(ctx, backend.ReadWrite, "todos")
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Add(ctx, []byte(`{"title":"no id"}`))
	assert.ErrorIs(t, err, record.ErrMissingKey)
	_, err = tx.Put(ctx, []byte(`{"id":true}`))
	assert.ErrorIs(t, err, record.ErrInvalidKey)
}

func testReadOnlyRejectsWrites(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	tx, err := db.Begin(ctx, backend.ReadOnly, "todos")
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Add(ctx, body("1", "x"))
	assert.ErrorIs(t, err, backend.ErrReadOnly)
	_, err = tx.Put(ctx, body("1", "x"))
	assert.ErrorIs(t, err, backend.ErrReadOnly)
	assert.ErrorIs(t, tx.Delete(ctx, record.StringKey("1")), backend.ErrReadOnly)
}

func testRollbackDiscardsWrites(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	tx, err := db.Begin(ctx, backend.ReadWrite, "todos")
	require.NoError(t, err)
	_, err = tx.Add(ctx, body("1", "x"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	withTx(t, db, backend.ReadOnly, func(tx backend.Tx) {
		_, found, err := tx.Get(ctx, record.StringKey("1"))
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func testTxSeesOwnWrites(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	withTx(t, db, backend.ReadWrite, func(tx backend.Tx) {
		_, err := tx.Add(ctx, body("1", "a"))
		require.NoError(t, err)
		_, err = tx.Add(ctx, body("2", "b"))
		require.NoError(t, err)
		require.NoError(t, tx.Delete(ctx, record.StringKey("1")))

		_, err = tx.Add(ctx, body("2", "again"))
		assert.ErrorIs(t, err, backend.ErrConstraint)

		all, err := tx.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.JSONEq(t, `{"id":"2","title":"b"}`, string(all[0]))
	})
}

func testFinishedTxIsClosed(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	tx, err := db.Begin(ctx, backend.ReadWrite, "todos")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, _, err = tx.Get(ctx, record.StringKey("1"))
	assert.ErrorIs(t, err, backend.ErrClosed)
	_, err = tx.Add(ctx, body("1", "x"))
	assert.ErrorIs(t, err, backend.ErrClosed)
	assert.ErrorIs(t, tx.Commit(), backend.ErrClosed)
	assert.NoError(t, tx.Rollback())
}

func testClosedDatabase(t *testing.T, f backend.Factory) {
	db, err := f.Open(context.Background(), "app", 1, CreateCollections("todos"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Begin(context.Background(), backend.ReadOnly, "todos")
	assert.ErrorIs(t, err, backend.ErrClosed)
}

func testDataSurvivesReopen(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db, err := f.Open(ctx, "app", 1, CreateCollections("todos"))
	require.NoError(t, err)
	tx, err := db.Begin(ctx, backend.ReadWrite, "todos")
	require.NoError(t, err)
	_, err = tx.Add(ctx, body("1", "persisted"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, db.Close())

	db, err = f.Open(ctx, "app", 0, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 1, db.Version())

	tx, err = db.Begin(ctx, backend.ReadOnly, "todos")
	require.NoError(t, err)
	defer tx.Rollback()
	got, found, err := tx.Get(ctx, record.StringKey("1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"id":"1","title":"persisted"}`, string(got))
}

func testDeleteDatabase(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db, err := f.Open(ctx, "app", 2, CreateCollections("todos"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, f.Delete(ctx, "app"))
	require.NoError(t, f.Delete(ctx, "app"))

	v, err := f.Version(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func testConcurrentWriters(t *testing.T, f backend.Factory) {
	ctx := context.Background()
	db := openTodos(t, f)

	const writers = 8
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < writers; i++ {
		id := fmt.Sprintf("w%d", i)
		g.Go(func() error {
			tx, err := db.Begin(gctx, backend.ReadWrite, "todos")
			if err != nil {
				return err
			}
			defer tx.Rollback()
			if _, err := tx.Add(gctx, body(id, "x")); err != nil {
				return err
			}
			return tx.Commit()
		})
	}
	require.NoError(t, g.Wait())

	withTx(t, db, backend.ReadOnly, func(tx backend.Tx) {
		n, err := tx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, writers, n)
	})
}
