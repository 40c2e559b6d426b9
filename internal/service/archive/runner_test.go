package archive

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelef/yt-archiver/internal/domain"
	"github.com/emanuelef/yt-archiver/internal/service/control"
	"github.com/emanuelef/yt-archiver/internal/service/downloader"
	"github.com/emanuelef/yt-archiver/internal/service/progress"
)

type fakeFetcher struct {
	mu       sync.Mutex
	fetched  []string
	requests []downloader.FetchRequest
	fail     map[string]error
	onFetch  func(id string, onProgress downloader.ProgressFunc) error
}

func (f *fakeFetcher) Fetch(_ context.Context, req downloader.FetchRequest, onProgress downloader.ProgressFunc) (*downloader.FetchResult, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, req.VideoID)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.onFetch != nil {
		if err := f.onFetch(req.VideoID, onProgress); err != nil {
			return nil, err
		}
	}
	if err := f.fail[req.VideoID]; err != nil {
		return nil, err
	}
	return &downloader.FetchResult{VideoDir: filepath.Join(req.OutputRoot, req.VideoID)}, nil
}

type fakeMirror struct{ dirs []string }

func (m *fakeMirror) MirrorDir(_ context.Context, _, dir string) error {
	m.dirs = append(m.dirs, dir)
	return nil
}

func tasks(ids ...string) []domain.VideoTask {
	out := make([]domain.VideoTask, len(ids))
	for i, id := range ids {
		out[i] = domain.VideoTask{VideoID: id}
	}
	return out
}

type checkpoints struct {
	indexes []int
	errs    []error
}

func (c *checkpoints) fn(index int, _ domain.VideoTask, err error) error {
	c.indexes = append(c.indexes, index)
	c.errs = append(c.errs, err)
	return nil
}

func TestRunProcessesFromStartIndex(t *testing.T) {
	f := &fakeFetcher{}
	m := &fakeMirror{}
	cp := &checkpoints{}
	out := t.TempDir()

	err := NewRunner(f, m).Run(testContext(t), RunSpec{
		Config:     domain.JobConfig{Command: domain.CommandVideo, Out: out},
		Tasks:      tasks("a", "b", "c"),
		StartIndex: 2,
		Checkpoint: cp.fn,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, f.fetched)
	assert.Equal(t, []int{2, 3}, cp.indexes)
	assert.Len(t, m.dirs, 2)
	assert.Equal(t, downloader.ArchivePath(out), f.requests[0].Archive)
}

func TestRunNoCacheDisablesArchive(t *testing.T) {
	f := &fakeFetcher{}
	err := NewRunner(f, nil).Run(testContext(t), RunSpec{
		Config: domain.JobConfig{Out: t.TempDir(), NoCache: true},
		Tasks:  tasks("a"),
	})
	require.NoError(t, err)
	assert.Empty(t, f.requests[0].Archive)
}

func TestRunTaskFailureContinues(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeFetcher{fail: map[string]error{"a": boom}}
	cp := &checkpoints{}

	err := NewRunner(f, nil).Run(testContext(t), RunSpec{
		Config:     domain.JobConfig{Out: t.TempDir()},
		Tasks:      tasks("a", "b"),
		Checkpoint: cp.fn,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, cp.indexes)
	assert.Equal(t, boom, cp.errs[0])
	assert.NoError(t, cp.errs[1])
}

func TestRunPauseAfterCheckpoint(t *testing.T) {
	ctl := control.New()
	f := &fakeFetcher{}
	var seen []int

	err := NewRunner(f, nil).Run(testContext(t), RunSpec{
		Config:  domain.JobConfig{Out: t.TempDir()},
		Tasks:   tasks("a", "b"),
		Control: ctl,
		Checkpoint: func(index int, _ domain.VideoTask, _ error) error {
			seen = append(seen, index)
			ctl.RequestPause()
			return nil
		},
	})

	var interrupted *domain.InterruptedError
	require.True(t, errors.As(err, &interrupted))
	assert.Equal(t, domain.ReasonPaused, interrupted.Reason)
	assert.Equal(t, []int{1}, seen)
	assert.Equal(t, []string{"a"}, f.fetched)
}

func TestRunCancelledTransferDoesNotCheckpoint(t *testing.T) {
	ctl := control.New()
	hub := progress.NewHub()
	cp := &checkpoints{}
	f := &fakeFetcher{onFetch: func(_ string, onProgress downloader.ProgressFunc) error {
		ctl.RequestStop()
		return onProgress(domain.TransferEvent{Status: "downloading"})
	}}

	err := NewRunner(f, nil).Run(testContext(t), RunSpec{
		Config:     domain.JobConfig{Out: t.TempDir()},
		Tasks:      tasks("a", "b"),
		Control:    ctl,
		Hub:        hub,
		Checkpoint: cp.fn,
	})

	var interrupted *domain.InterruptedError
	require.True(t, errors.As(err, &interrupted))
	assert.Equal(t, domain.ReasonStopped, interrupted.Reason)
	assert.Empty(t, cp.indexes)
}

func TestRunCheckpointErrorFailsJob(t *testing.T) {
	err := NewRunner(&fakeFetcher{}, nil).Run(testContext(t), RunSpec{
		Config:     domain.JobConfig{Out: t.TempDir()},
		Tasks:      tasks("a", "b"),
		Checkpoint: func(int, domain.VideoTask, error) error { return errors.New("disk full") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunNothingPending(t *testing.T) {
	f := &fakeFetcher{}
	err := NewRunner(f, nil).Run(testContext(t), RunSpec{
		Config:     domain.JobConfig{Out: t.TempDir()},
		Tasks:      tasks("a"),
		StartIndex: 2,
	})
	require.NoError(t, err)
	assert.Empty(t, f.fetched)
}

func TestRunUsesChannelNameFallback(t *testing.T) {
	f := &fakeFetcher{}
	err := NewRunner(f, nil).Run(testContext(t), RunSpec{
		Config:      domain.JobConfig{Out: t.TempDir()},
		Tasks:       []domain.VideoTask{{VideoID: "a", Uploader: "Up"}},
		ChannelMeta: &domain.ChannelMeta{DisplayName: "Chan"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Chan", f.requests[0].ChannelName)
}

func TestRunPassesInterruptChannel(t *testing.T) {
	ctl := control.New()
	f := &fakeFetcher{}
	err := NewRunner(f, nil).Run(testContext(t), RunSpec{
		Config:  domain.JobConfig{Out: t.TempDir()},
		Tasks:   tasks("a"),
		Control: ctl,
	})
	require.NoError(t, err)
	require.Len(t, f.requests, 1)

	interrupt := f.requests[0].Interrupt
	require.NotNil(t, interrupt)
	ctl.RequestPause()
	select {
	case <-interrupt:
	default:
		t.Fatal("interrupt channel not closed after pause request")
	}
}
