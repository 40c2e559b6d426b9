// Package watch polls the watchlist and enqueues archive jobs for channels
// with new uploads.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/emanuelef/yt-archiver/internal/domain"
	"github.com/emanuelef/yt-archiver/internal/service/downloader"
)

// Limits applied to the poll configuration.
const (
	MinPollInterval     = 15 * time.Second
	DefaultPollInterval = 120 * time.Second
	DefaultBatchSize    = 3
)

// Store is the watchlist persistence the scheduler needs.
type Store interface {
	DueEntries(ctx context.Context, now time.Time, limit int) ([]domain.WatchEntry, error)
	Touch(ctx context.Context, ids []int64, ts time.Time) error
	MarkEnqueued(ctx context.Context, ids []int64, ts time.Time) error
}

// Jobs is the job store surface used to check for and submit jobs.
type Jobs interface {
	HasActiveJob(command domain.Command, handle string) bool
	CreateJobFromTasks(cfg domain.JobConfig, tasks []domain.VideoTask, meta *domain.ChannelMeta) (string, error)
}

// Resolver expands a job config into tasks.
type Resolver interface {
	Resolve(ctx context.Context, cfg domain.JobConfig) ([]domain.VideoTask, *domain.ChannelMeta, error)
}

// Config tunes the scheduler.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	LogDir       string // where watch job logs go, default "logs"
	Logger       *slog.Logger
}

// Scheduler runs watch ticks.
type Scheduler struct {
	store    Store
	jobs     Jobs
	resolver Resolver
	logger   *slog.Logger

	pollInterval time.Duration
	batchSize    int
	logDir       string

	mu   sync.Mutex
	cron *gocron.Scheduler
}

// TickResult summarizes one tick.
type TickResult struct {
	Examined int
	Skipped  int
	Enqueued []string
	Failed   int
}

// New creates a Scheduler.
func New(store Store, jobs Jobs, resolver Resolver, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		store:        store,
		jobs:         jobs,
		resolver:     resolver,
		logger:       cfg.Logger.With("component", "watch"),
		pollInterval: max(cfg.PollInterval, MinPollInterval),
		batchSize:    max(cfg.BatchSize, 1),
		logDir:       cfg.LogDir,
	}
}

// PollInterval returns the effective poll interval.
func (s *Scheduler) PollInterval() time.Duration { return s.pollInterval }

// BatchSize returns the effective batch size.
func (s *Scheduler) BatchSize() int { return s.batchSize }

// Start runs Tick immediately and then every poll interval until ctx ends or
// Stop is called. Overlapping ticks are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	_, err := cron.Every(s.pollInterval).Do(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Tick(ctx, time.Now()); err != nil {
			s.logger.Error("watch tick failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule watch tick: %w", err)
	}

	s.logger.Info("watch scheduler started", "interval", s.pollInterval, "batch_size", s.batchSize)
	cron.StartAsync()
	s.cron = cron

	context.AfterFunc(ctx, s.Stop)
	return nil
}

// Stop halts the poll loop. A tick already in progress finishes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cron := s.cron
	s.cron = nil
	s.mu.Unlock()
	if cron == nil {
		return
	}
	cron.Stop()
	s.logger.Info("watch scheduler stopped")
}

// Tick runs one polling cycle at now. Per-entry failures are logged and do
// not stop the remaining entries; the returned error covers only the
// watchlist reads and timestamp writes.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	var res TickResult

	due, err := s.store.DueEntries(ctx, now, s.batchSize)
	if err != nil {
		return res, fmt.Errorf("failed to read due entries: %w", err)
	}
	if len(due) == 0 {
		s.logger.Debug("no watchlist entries due", "now", now)
		return res, nil
	}

	touched := make([]int64, 0, len(due))
	var enqueued []int64
	archives := make(map[string]map[string]struct{})

	for _, entry := range due {
		touched = append(touched, entry.ID)
		res.Examined++

		if s.jobs.HasActiveJob(entry.Mode, entry.NormalizedHandle()) {
			s.logger.Debug("skipping entry with an active job", "handle", entry.Handle, "mode", entry.Mode)
			res.Skipped++
			continue
		}

		jobID, err := s.process(ctx, entry, archives)
		if err != nil {
			s.logger.Error("failed to evaluate watch entry", "handle", entry.Handle, "mode", entry.Mode, "error", err)
			res.Failed++
			continue
		}
		if jobID != "" {
			enqueued = append(enqueued, entry.ID)
			res.Enqueued = append(res.Enqueued, jobID)
		}
	}

	if err := s.store.Touch(ctx, touched, now); err != nil {
		return res, fmt.Errorf("failed to record check time: %w", err)
	}
	if err := s.store.MarkEnqueued(ctx, enqueued, now); err != nil {
		return res, fmt.Errorf("failed to record enqueue time: %w", err)
	}
	return res, nil
}

// process resolves one entry and submits a job when new uploads remain. It
// returns the new job ID, or "" when nothing was enqueued.
func (s *Scheduler) process(ctx context.Context, entry domain.WatchEntry, archives map[string]map[string]struct{}) (string, error) {
	cfg := s.jobConfig(entry)

	tasks, meta, err := s.resolver.Resolve(ctx, cfg)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		s.logger.Warn("no videos returned; the channel may be empty or private", "handle", entry.Handle, "mode", entry.Mode)
		return "", nil
	}

	candidates := tasks
	if !entry.NoCache {
		candidates = s.filterArchived(tasks, downloader.ArchivePath(cfg.Out), archives)
	}
	if len(candidates) == 0 {
		s.logger.Debug("no new uploads detected", "handle", entry.Handle)
		return "", nil
	}

	jobID, err := s.jobs.CreateJobFromTasks(cfg, candidates, meta)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	s.logger.Info("enqueued watch job",
		"job_id", jobID,
		"handle", entry.Handle,
		"mode", entry.Mode,
		"candidates", len(candidates),
	)
	return jobID, nil
}

func (s *Scheduler) jobConfig(entry domain.WatchEntry) domain.JobConfig {
	return domain.JobConfig{
		Command:     entry.Mode,
		Handle:      entry.NormalizedHandle(),
		Out:         entry.OutDir,
		Subs:        entry.Subs,
		NoCache:     entry.NoCache,
		LogFile:     filepath.Join(s.logDir, fmt.Sprintf("watch-%d-%s.log", entry.ID, entry.Mode)),
		LogLevel:    entry.LogLevel,
		ClearScreen: entry.ClearScreen,
	}.WithDefaults()
}

func (s *Scheduler) filterArchived(tasks []domain.VideoTask, path string, archives map[string]map[string]struct{}) []domain.VideoTask {
	seen, ok := archives[path]
	if !ok {
		var err error
		seen, err = downloader.ReadArchiveIDs(path)
		if err != nil {
			s.logger.Warn("unable to read archive file", "path", path, "error", err)
			seen = map[string]struct{}{}
		}
		archives[path] = seen
	}

	out := make([]domain.VideoTask, 0, len(tasks))
	for _, t := range tasks {
		if _, done := seen[t.VideoID]; !done {
			out = append(out, t)
		}
	}
	return out
}
