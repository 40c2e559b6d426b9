package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu    sync.Mutex
	snaps []domain.ProgressSnapshot
}

func (r *recorder) sink(s domain.ProgressSnapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() domain.ProgressSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func newTestHub() (*Hub, *fakeClock, *recorder) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	h := NewHub(WithClock(clock.Now))
	rec := &recorder{}
	h.AddSink(rec.sink)
	return h, clock, rec
}

func TestSetStageAlwaysEmits(t *testing.T) {
	h, _, rec := newTestHub()

	h.SetStage("Downloading", "a", true)
	h.SetStage("Downloading", "a", true)

	assert.Equal(t, 2, rec.count())
	assert.Equal(t, "Downloading", rec.last().Label)
}

func TestTransferThrottleSamePercent(t *testing.T) {
	h, clock, rec := newTestHub()
	total := 1000.0

	ev := domain.TransferEvent{Status: "downloading", Filename: "/tmp/x/abc.mkv", DownloadedBytes: 100, TotalBytes: &total}
	require.NoError(t, h.OnTransferEvent(ev))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 10, *rec.last().Percent)
	assert.Equal(t, "abc.mkv", rec.last().Detail)

	clock.Advance(500 * time.Millisecond)
	require.NoError(t, h.OnTransferEvent(ev))
	assert.Equal(t, 1, rec.count(), "same percent within 0.75s is throttled")

	ev.DownloadedBytes = 200
	require.NoError(t, h.OnTransferEvent(ev))
	assert.Equal(t, 2, rec.count(), "changed percent emits immediately")

	clock.Advance(750 * time.Millisecond)
	require.NoError(t, h.OnTransferEvent(ev))
	assert.Equal(t, 3, rec.count())
}

func TestTransferThrottleUnknownPercent(t *testing.T) {
	h, clock, rec := newTestHub()
	ev := domain.TransferEvent{Status: "downloading", DownloadedBytes: 10}

	require.NoError(t, h.OnTransferEvent(ev))
	assert.Equal(t, 1, rec.count())
	assert.Nil(t, rec.last().Percent)

	clock.Advance(time.Second)
	require.NoError(t, h.OnTransferEvent(ev))
	assert.Equal(t, 1, rec.count())

	clock.Advance(500 * time.Millisecond)
	require.NoError(t, h.OnTransferEvent(ev))
	assert.Equal(t, 2, rec.count())
}

func TestFinishedEmitsTwice(t *testing.T) {
	h, _, rec := newTestHub()
	total := 50.0
	require.NoError(t, h.OnTransferEvent(domain.TransferEvent{Status: "downloading", DownloadedBytes: 10, TotalBytes: &total}))
	require.NoError(t, h.OnTransferEvent(domain.TransferEvent{Status: "finished"}))

	require.Equal(t, 3, rec.count())
	assert.Equal(t, "Processing", rec.last().Label)
	assert.False(t, rec.last().ShowTransfer)
	assert.Equal(t, 50.0, h.Snapshot().Downloaded)
}

func TestProbeCancelsTransfer(t *testing.T) {
	h, _, rec := newTestHub()
	h.BindProbe(func() (domain.Reason, bool) { return domain.ReasonPaused, true })

	err := h.OnTransferEvent(domain.TransferEvent{Status: "downloading"})
	assert.ErrorIs(t, err, domain.ErrTransferCancelled)
	assert.Equal(t, 0, rec.count())

	h.BindProbe(nil)
	assert.NoError(t, h.OnTransferEvent(domain.TransferEvent{Status: "downloading"}))
}

func TestSinkPanicIsIsolated(t *testing.T) {
	h, _, rec := newTestHub()
	h.AddSink(func(domain.ProgressSnapshot) { panic("boom") })

	assert.NotPanics(t, func() { h.SetStage("Completed", "", false) })
	assert.Equal(t, 1, rec.count())
}

func TestRemoveSink(t *testing.T) {
	h := NewHub()
	rec := &recorder{}
	remove := h.AddSink(rec.sink)
	h.SetStage("A", "", false)
	remove()
	h.SetStage("B", "", false)
	assert.Equal(t, 1, rec.count())
}

func TestResetKeepsBatch(t *testing.T) {
	h, _, _ := newTestHub()
	h.SetBatch(2, 5)
	h.SetStage("Downloading", "x", true)
	h.Reset("Waiting on abc")

	s := h.Snapshot()
	assert.Equal(t, "Queued", s.Label)
	assert.Equal(t, "Waiting on abc", s.Detail)
	assert.Equal(t, 2, s.BatchIndex)
	assert.Equal(t, 5, s.BatchTotal)
	assert.False(t, s.ShowTransfer)
}
