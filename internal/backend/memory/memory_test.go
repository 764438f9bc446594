package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/backend/backendtest"
	"github.com/roach88/recstore/internal/record"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Factory {
		return NewFactory()
	})
}

func TestReadersShareTheLock(t *testing.T) {
	f := NewFactory()
	ctx := context.Background()

	db, err := f.Open(ctx, "app", 1, backendtest.CreateCollections("todos"))
	require.NoError(t, err)
	defer db.Close()

	a, err := db.Begin(ctx, backend.ReadOnly, "todos")
	require.NoError(t, err)
	defer a.Rollback()
	b, err := db.Begin(ctx, backend.ReadOnly, "todos")
	require.NoError(t, err)
	defer b.Rollback()

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetReturnsCopies(t *testing.T) {
	f := NewFactory()
	ctx := context.Background()

	db, err := f.Open(ctx, "app", 1, backendtest.CreateCollections("todos"))
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin(ctx, backend.ReadWrite, "todos")
	require.NoError(t, err)
	_, err = tx.Add(ctx, []byte(`{"id":"1"}`))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = db.Begin(ctx, backend.ReadOnly, "todos")
	require.NoError(t, err)
	defer tx.Rollback()

	got, _, err := tx.Get(ctx, record.StringKey("1"))
	require.NoError(t, err)
	got[0] = 'X'

	again, _, err := tx.Get(ctx, record.StringKey("1"))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(again))
}

func TestBeginHonorsCancelledContext(t *testing.T) {
	f := NewFactory()
	db, err := f.Open(context.Background(), "app", 1, backendtest.CreateCollections("todos"))
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = db.Begin(ctx, backend.ReadOnly, "todos")
	assert.ErrorIs(t, err, context.Canceled)
}
