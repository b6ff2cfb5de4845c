package subscriber

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lightsout/internal/storage"
	logx "lightsout/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Driver:    "sqlite",
		Path:      filepath.Join(t.TempDir(), "subs.db"),
		OpTimeout: 5 * time.Second,
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, logx.Nop())
}

func TestAddIsIdempotent(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	added, err := r.Add(ctx, 100)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = r.Add(ctx, 100)
	require.NoError(t, err)
	assert.False(t, added)

	ids, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, ids)
}

func TestRemoveAbsentIsNoError(t *testing.T) {
	r := newRegistry(t)
	removed, err := r.Remove(context.Background(), 55)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAddRemoveRoundTrip(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	_, err := r.Add(ctx, 1)
	require.NoError(t, err)
	ok, err := r.IsSubscribed(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.Remove(ctx, 1)
	require.NoError(t, err)
	ok, err = r.IsSubscribed(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestErrorsAreWrapped(t *testing.T) {
	st, err := storage.Open(context.Background(), storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "closed.db"),
	}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	r := New(st, logx.Nop())
	_, err = r.List(context.Background())
	assert.ErrorIs(t, err, storage.ErrClosed)
}
