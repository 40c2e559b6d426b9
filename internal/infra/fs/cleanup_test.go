package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	ages []time.Duration
	n    int
	err  error
}

func (p *fakePruner) DeleteOlderThan(_ context.Context, age time.Duration) (int, error) {
	p.ages = append(p.ages, age)
	return p.n, p.err
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestRunOncePrunesWorkDir(t *testing.T) {
	work := t.TempDir()
	now := time.Now()
	old := now.Add(-2 * time.Hour)

	staleDir := filepath.Join(work, "task-1")
	touch(t, filepath.Join(staleDir, "abc.part"), old)
	require.NoError(t, os.Chtimes(staleDir, old, old))
	touch(t, filepath.Join(work, "task-2", "def.part"), now)

	c := NewCleaner(CleanerConfig{WorkDir: work, WorkMaxAge: time.Hour})
	r := c.RunOnce(testContext(t))

	assert.Equal(t, 1, r.WorkFiles)
	assert.NoDirExists(t, staleDir)
	assert.FileExists(t, filepath.Join(work, "task-2", "def.part"))
	assert.DirExists(t, work)
}

func TestRunOnceKeepsLogsInUse(t *testing.T) {
	logs := t.TempDir()
	old := time.Now().Add(-30 * 24 * time.Hour)
	kept := filepath.Join(logs, "job-a.log")
	orphan := filepath.Join(logs, "job-b.log")
	touch(t, kept, old)
	touch(t, orphan, old)

	c := NewCleaner(CleanerConfig{
		LogDir:    logs,
		LogMaxAge: 24 * time.Hour,
		InUse:     func() []string { return []string{kept} },
	})
	r := c.RunOnce(testContext(t))

	assert.Equal(t, 1, r.LogFiles)
	assert.FileExists(t, kept)
	assert.NoFileExists(t, orphan)
}

func TestRunOnceMirrorRetention(t *testing.T) {
	p := &fakePruner{n: 4}
	c := NewCleaner(CleanerConfig{Mirror: p, MirrorMaxAge: 48 * time.Hour})
	r := c.RunOnce(testContext(t))
	assert.Equal(t, 4, r.MirrorObjects)
	assert.Equal(t, []time.Duration{48 * time.Hour}, p.ages)

	p = &fakePruner{err: errors.New("offline")}
	c = NewCleaner(CleanerConfig{Mirror: p, MirrorMaxAge: time.Hour})
	assert.Zero(t, c.RunOnce(testContext(t)).MirrorObjects)
}

func TestRunOnceMissingDirs(t *testing.T) {
	c := NewCleaner(CleanerConfig{
		WorkDir:    filepath.Join(t.TempDir(), "missing"),
		WorkMaxAge: time.Hour,
		LogDir:     filepath.Join(t.TempDir(), "missing"),
		LogMaxAge:  time.Hour,
	})
	assert.Equal(t, Report{}, c.RunOnce(testContext(t)))
}

func TestStartStop(t *testing.T) {
	p := &fakePruner{}
	c := NewCleaner(CleanerConfig{Interval: time.Hour, Mirror: p, MirrorMaxAge: time.Hour})
	c.Start(testContext(t))
	c.Stop()
	c.Stop()
	assert.Len(t, p.ages, 1)
}
