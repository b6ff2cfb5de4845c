package outage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lightsout/internal/storage"
	logx "lightsout/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kyiv = time.FixedZone("EET", 2*3600)

func newTracker(t *testing.T) (*Tracker, *storage.Store) {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Driver:    "sqlite",
		Path:      filepath.Join(t.TempDir(), "outages.db"),
		OpTimeout: 10 * time.Second,
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewTracker(st, logx.Nop()), st
}

func countOpen(t *testing.T, st *storage.Store) int {
	t.Helper()
	list, err := st.Outages(context.Background(), 100)
	require.NoError(t, err)
	n := 0
	for _, o := range list {
		if o.Open() {
			n++
		}
	}
	return n
}

func TestStartThenEnd(t *testing.T) {
	tr, st := newTracker(t)
	ctx := context.Background()
	t1 := time.Date(2024, 5, 10, 8, 0, 0, 0, kyiv)
	t2 := t1.Add(3 * time.Hour)

	started, err := tr.Start(ctx, t1)
	require.NoError(t, err)
	assert.True(t, started.Started.Equal(t1))

	cur, ok, err := tr.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, started.ID, cur.ID)

	ended, err := tr.End(ctx, t2)
	require.NoError(t, err)
	assert.Equal(t, started.ID, ended.ID)
	assert.True(t, ended.Ended.Equal(t2))

	list, err := st.Outages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Started.Equal(t1))
	assert.True(t, list[0].Ended.Equal(t2))

	_, ok, err = tr.Current(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEndWithoutRecords(t *testing.T) {
	tr, st := newTracker(t)
	_, err := tr.End(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrNoOpenOutage)

	list, err := st.Outages(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEndTwiceDoesNotRewrite(t *testing.T) {
	tr, st := newTracker(t)
	ctx := context.Background()
	t1 := time.Date(2024, 5, 10, 8, 0, 0, 0, kyiv)

	_, err := tr.Start(ctx, t1)
	require.NoError(t, err)
	_, err = tr.End(ctx, t1.Add(time.Hour))
	require.NoError(t, err)

	_, err = tr.End(ctx, t1.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNoOpenOutage)

	list, err := st.Outages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Ended.Equal(t1.Add(time.Hour)), "first end time is kept")
}

func TestSecondStartRejected(t *testing.T) {
	tr, st := newTracker(t)
	ctx := context.Background()
	t1 := time.Date(2024, 5, 10, 8, 0, 0, 0, kyiv)

	first, err := tr.Start(ctx, t1)
	require.NoError(t, err)

	again, err := tr.Start(ctx, t1.Add(time.Minute))
	assert.ErrorIs(t, err, ErrOutageAlreadyOpen)
	assert.Equal(t, first.ID, again.ID, "the open record is reported back")
	assert.Equal(t, 1, countOpen(t, st))
}

func TestConcurrentStartsLeaveOneOpen(t *testing.T) {
	tr, st := newTracker(t)
	now := time.Now()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = tr.Start(context.Background(), now)
		}()
	}
	wg.Wait()

	ok, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrOutageAlreadyOpen):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, rejected)
	assert.Equal(t, 1, countOpen(t, st))
}

func TestCycles(t *testing.T) {
	tr, st := newTracker(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 10, 0, 0, 0, 0, kyiv)

	for i := range 3 {
		off := base.Add(time.Duration(i*4) * time.Hour)
		_, err := tr.Start(ctx, off)
		require.NoError(t, err)
		_, err = tr.End(ctx, off.Add(2*time.Hour))
		require.NoError(t, err)
	}
	list, err := st.Outages(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, 0, countOpen(t, st))
}
