package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

func newTestWatchlist(t *testing.T) *Watchlist {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", WatchlistFile))
	require.NoError(t, err)
	w := NewWatchlist(db)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), WatchlistFile)
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestCreateAppliesDefaultsAndNormalizes(t *testing.T) {
	w := newTestWatchlist(t)
	ctx := testContext(t)

	id, err := w.Create(ctx, domain.WatchEntry{
		Handle:   "  @Chan ",
		LogLevel: " debug ",
		Tags:     []string{"b", " a", "b", ""},
	})
	require.NoError(t, err)

	e, err := w.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "@Chan", e.Handle)
	assert.Equal(t, domain.CommandChannel, e.Mode)
	assert.Equal(t, 60, e.IntervalMinutes)
	assert.Equal(t, "yt", e.OutDir)
	assert.Equal(t, "DEBUG", e.LogLevel)
	assert.Equal(t, []string{"a", "b"}, e.Tags)
	assert.Nil(t, e.LastCheckTS)
	assert.Nil(t, e.LastEnqueuedTS)
}

func TestCreateValidation(t *testing.T) {
	w := newTestWatchlist(t)
	ctx := testContext(t)

	_, err := w.Create(ctx, domain.WatchEntry{Handle: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidWatch)

	_, err = w.Create(ctx, domain.WatchEntry{Handle: "x", Mode: domain.CommandVideo})
	assert.ErrorIs(t, err, domain.ErrInvalidWatch)

	_, err = w.Create(ctx, domain.WatchEntry{Handle: "x", IntervalMinutes: -5})
	assert.ErrorIs(t, err, domain.ErrInvalidWatch)
}

func TestListOrdersByHandleCaseInsensitive(t *testing.T) {
	w := newTestWatchlist(t)
	ctx := testContext(t)

	for _, h := range []string{"zeta", "Alpha", "beta"} {
		_, err := w.Create(ctx, domain.WatchEntry{Handle: h})
		require.NoError(t, err)
	}

	entries, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Alpha", entries[0].Handle)
	assert.Equal(t, "beta", entries[1].Handle)
	assert.Equal(t, "zeta", entries[2].Handle)
}

func TestUpdatePartial(t *testing.T) {
	w := newTestWatchlist(t)
	ctx := testContext(t)

	id, err := w.Create(ctx, domain.WatchEntry{Handle: "chan", Tags: []string{"x"}})
	require.NoError(t, err)

	shorts := domain.CommandShorts
	interval := 15
	require.NoError(t, w.Update(ctx, id, WatchPatch{Mode: &shorts, IntervalMinutes: &interval, Tags: []string{}}))

	e, err := w.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "chan", e.Handle)
	assert.Equal(t, domain.CommandShorts, e.Mode)
	assert.Equal(t, 15, e.IntervalMinutes)
	assert.Empty(t, e.Tags)

	zero := 0
	assert.ErrorIs(t, w.Update(ctx, id, WatchPatch{IntervalMinutes: &zero}), domain.ErrInvalidWatch)
	assert.NoError(t, w.Update(ctx, id, WatchPatch{}))

	handle := "other"
	assert.ErrorIs(t, w.Update(ctx, 999, WatchPatch{Handle: &handle}), domain.ErrWatchNotFound)
}

func TestDeleteAndGetMissing(t *testing.T) {
	w := newTestWatchlist(t)
	ctx := testContext(t)

	id, err := w.Create(ctx, domain.WatchEntry{Handle: "chan"})
	require.NoError(t, err)
	require.NoError(t, w.Delete(ctx, id))

	_, err = w.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrWatchNotFound)
	assert.ErrorIs(t, w.Delete(ctx, id), domain.ErrWatchNotFound)
}

func TestDueEntriesIntervalBoundary(t *testing.T) {
	w := newTestWatchlist(t)
	ctx := testContext(t)
	base := time.Unix(1_700_000_000, 0)

	id, err := w.Create(ctx, domain.WatchEntry{Handle: "chan", IntervalMinutes: 60})
	require.NoError(t, err)

	due, err := w.DueEntries(ctx, base, 0)
	require.NoError(t, err)
	require.Len(t, due, 1, "never checked is due")

	require.NoError(t, w.Touch(ctx, []int64{id}, base))

	due, err = w.DueEntries(ctx, base.Add(3599*time.Second), 0)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = w.DueEntries(ctx, base.Add(3600*time.Second), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NotNil(t, due[0].LastCheckTS)
	assert.True(t, due[0].LastCheckTS.Equal(base))
}

func TestDueEntriesOrderAndLimit(t *testing.T) {
	w := newTestWatchlist(t)
	ctx := testContext(t)
	base := time.Unix(1_700_000_000, 0)

	older, err := w.Create(ctx, domain.WatchEntry{Handle: "older", IntervalMinutes: 1})
	require.NoError(t, err)
	newer, err := w.Create(ctx, domain.WatchEntry{Handle: "newer", IntervalMinutes: 1})
	require.NoError(t, err)
	never, err := w.Create(ctx, domain.WatchEntry{Handle: "never", IntervalMinutes: 1})
	require.NoError(t, err)

	require.NoError(t, w.Touch(ctx, []int64{older}, base))
	require.NoError(t, w.Touch(ctx, []int64{newer}, base.Add(time.Minute)))

	due, err := w.DueEntries(ctx, base.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, []int64{never, older, newer}, []int64{due[0].ID, due[1].ID, due[2].ID})

	due, err = w.DueEntries(ctx, base.Add(time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestMarkEnqueued(t *testing.T) {
	w := newTestWatchlist(t)
	ctx := testContext(t)
	ts := time.Unix(1_700_000_123, 500_000_000)

	id, err := w.Create(ctx, domain.WatchEntry{Handle: "chan"})
	require.NoError(t, err)
	require.NoError(t, w.MarkEnqueued(ctx, []int64{id}, ts))
	require.NoError(t, w.MarkEnqueued(ctx, nil, ts))

	e, err := w.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, e.LastEnqueuedTS)
	assert.WithinDuration(t, ts, *e.LastEnqueuedTS, time.Millisecond)
	assert.Nil(t, e.LastCheckTS)
}
