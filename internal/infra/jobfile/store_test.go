package jobfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state", "jobs.json"))
	table, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, table.Jobs)
	assert.Empty(t, table.Queue)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state", "jobs.json"))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := &domain.JobRecord{
		ID:        "job-1",
		Config:    domain.JobConfig{Command: domain.CommandVideo, VideoIDs: []string{"abc12345678"}, Out: "yt"},
		Tasks:     []domain.VideoTask{{VideoID: "abc12345678", Title: "A"}},
		Status:    domain.JobStatusQueued,
		NextIndex: 1,
		Progress:  domain.QueuedProgress(now),
		Created:   now,
		Updated:   now,
	}
	require.NoError(t, s.Save(&Table{Jobs: []*domain.JobRecord{rec}, Queue: []string{"job-1"}}))

	table, err := s.Load()
	require.NoError(t, err)
	require.Len(t, table.Jobs, 1)
	assert.Equal(t, rec, table.Jobs[0])
	assert.Equal(t, []string{"job-1"}, table.Queue)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := New(path).Load()
	var perr *domain.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "parse", perr.Op)
}

func TestSaveIntoUnwritableLocation(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := New(filepath.Join(blocker, "jobs.json")).Save(&Table{})
	var perr *domain.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "write", perr.Op)
}
