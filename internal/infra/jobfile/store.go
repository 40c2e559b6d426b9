// Package jobfile persists the job table as a single JSON document that is
// rewritten atomically on every save.
package jobfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

// Table is the persisted shape of the job store.
type Table struct {
	Jobs  []*domain.JobRecord `json:"jobs"`
	Queue []string            `json:"queue"`
}

// Store reads and writes a Table at a fixed path.
type Store struct {
	path string
}

// New returns a Store for path. Parent directories are created on first save.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the job table.
func (s *Store) Path() string {
	return s.path
}

// Load reads the table. A missing file yields an empty table and no error.
func (s *Store) Load() (*Table, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Table{}, nil
		}
		return nil, &domain.PersistenceError{Op: "read", Path: s.path, Err: err}
	}

	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &domain.PersistenceError{Op: "parse", Path: s.path, Err: err}
	}
	return &t, nil
}

// Save writes the table to a temp file in the same directory, syncs it and
// renames it over the previous table.
func (s *Store) Save(t *Table) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return &domain.PersistenceError{Op: "marshal", Path: s.path, Err: err}
	}
	data = append(data, '\n')
	if err := writeAtomic(s.path, data); err != nil {
		return &domain.PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".jobs-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
