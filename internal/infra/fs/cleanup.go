// Package fs provides filesystem cleanup operations.
package fs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Pruner deletes remote objects older than an age.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// CleanerConfig holds configuration for the cleaner.
type CleanerConfig struct {
	// WorkDir holds per-task download scratch directories.
	WorkDir    string
	WorkMaxAge time.Duration

	// LogDir holds per-job log files; files named by InUse are kept.
	LogDir    string
	LogMaxAge time.Duration
	InUse     func() []string

	Interval time.Duration

	Mirror       Pruner
	MirrorMaxAge time.Duration

	Logger *slog.Logger
}

// Cleaner handles automated cleanup of files.
type Cleaner struct {
	cfg    CleanerConfig
	logger *slog.Logger
	now    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCleaner creates a new Cleaner.
func NewCleaner(cfg CleanerConfig) *Cleaner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		cfg:    cfg,
		logger: logger.With("component", "cleaner"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start runs a sweep immediately and then every Interval until ctx ends or
// Stop is called. A zero Interval disables the loop.
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.Interval <= 0 {
		return
	}

	c.logger.Info("starting cleanup",
		"work_dir", c.cfg.WorkDir,
		"log_dir", c.cfg.LogDir,
		"interval", c.cfg.Interval,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		c.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				c.RunOnce(ctx)
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the cleanup loop and waits for it to exit.
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Report counts what one sweep removed.
type Report struct {
	WorkFiles     int
	LogFiles      int
	MirrorObjects int
}

// RunOnce performs a single sweep.
func (c *Cleaner) RunOnce(ctx context.Context) Report {
	var r Report
	if c.cfg.WorkDir != "" && c.cfg.WorkMaxAge > 0 {
		r.WorkFiles = c.pruneDir(c.cfg.WorkDir, c.cfg.WorkMaxAge, nil, true)
	}
	if c.cfg.LogDir != "" && c.cfg.LogMaxAge > 0 {
		r.LogFiles = c.pruneDir(c.cfg.LogDir, c.cfg.LogMaxAge, c.keepSet(), false)
	}
	if c.cfg.Mirror != nil && c.cfg.MirrorMaxAge > 0 {
		n, err := c.cfg.Mirror.DeleteOlderThan(ctx, c.cfg.MirrorMaxAge)
		if err != nil {
			c.logger.Error("mirror cleanup error", "error", err)
		}
		r.MirrorObjects = n
	}

	if r.WorkFiles+r.LogFiles+r.MirrorObjects > 0 {
		c.logger.Info("cleanup completed",
			"work_files", r.WorkFiles,
			"log_files", r.LogFiles,
			"mirror_objects", r.MirrorObjects,
		)
	}
	return r
}

func (c *Cleaner) keepSet() map[string]struct{} {
	keep := make(map[string]struct{})
	if c.cfg.InUse == nil {
		return keep
	}
	for _, p := range c.cfg.InUse() {
		if abs, err := filepath.Abs(p); err == nil {
			keep[abs] = struct{}{}
		}
	}
	return keep
}

// pruneDir removes regular files under dir older than maxAge. With
// removeEmpty, stale directories left empty are removed too (dir itself is
// kept).
func (c *Cleaner) pruneDir(dir string, maxAge time.Duration, keep map[string]struct{}, removeEmpty bool) int {
	threshold := c.now().Add(-maxAge)
	deleted := 0
	var dirs []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if info.IsDir() {
			if path != dir && info.ModTime().Before(threshold) {
				dirs = append(dirs, path)
			}
			return nil
		}

		if abs, err := filepath.Abs(path); err == nil {
			if _, ok := keep[abs]; ok {
				return nil
			}
		}

		if info.ModTime().Before(threshold) {
			if err := os.Remove(path); err != nil {
				c.logger.Warn("failed to delete file", "path", path, "error", err)
			} else {
				deleted++
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Error("cleanup error", "dir", dir, "error", err)
	}

	if removeEmpty {
		// Deepest first so parents empty out after their children.
		sort.Slice(dirs, func(i, j int) bool {
			return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
		})
		for _, d := range dirs {
			_ = os.Remove(d) // fails harmlessly when not empty
		}
	}
	return deleted
}
