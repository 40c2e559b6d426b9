// Package queue owns the job table: it persists job records, keeps the FIFO
// of queued job IDs and runs them one at a time on a single worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emanuelef/yt-archiver/internal/domain"
	"github.com/emanuelef/yt-archiver/internal/infra/jobfile"
	"github.com/emanuelef/yt-archiver/internal/service/archive"
	"github.com/emanuelef/yt-archiver/internal/service/control"
)

const restartInterruptedMsg = "Interrupted during server restart."

// Resolver produces the task list of a request.
type Resolver interface {
	Resolve(ctx context.Context, cfg domain.JobConfig) ([]domain.VideoTask, *domain.ChannelMeta, error)
}

// Executor runs the task loop of one job.
type Executor interface {
	Run(ctx context.Context, spec archive.RunSpec) error
}

// Store persists the job table.
type Store interface {
	Load() (*jobfile.Table, error)
	Save(t *jobfile.Table) error
}

// Listener receives job events. Listeners run synchronously on the goroutine
// that caused the change and must not call back into the Manager.
type Listener func(domain.Event)

// Config configures a Manager.
type Config struct {
	LogDir string           // default directory for per-job logs
	Now    func() time.Time // clock, defaults to time.Now
	NewID  func() string    // ID generator, defaults to uuid.NewString
	Logger *slog.Logger
}

// Manager is the job store and scheduler.
type Manager struct {
	mu       sync.Mutex
	cond     *sync.Cond
	jobs     map[string]*domain.JobRecord
	queue    []string
	controls map[string]*control.Control
	active   string

	notifyMu  sync.Mutex
	listeners map[int]Listener
	nextLID   int

	store    Store
	resolver Resolver
	executor Executor

	logDir string
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager loads the persisted table and returns a Manager. The worker is
// not started until Start is called.
func NewManager(store Store, resolver Resolver, executor Executor, cfg Config) *Manager {
	m := &Manager{
		jobs:      make(map[string]*domain.JobRecord),
		controls:  make(map[string]*control.Control),
		listeners: make(map[int]Listener),
		store:     store,
		resolver:  resolver,
		executor:  executor,
		logDir:    cfg.LogDir,
		now:       cfg.Now,
		newID:     cfg.NewID,
		logger:    cfg.Logger,
	}
	m.cond = sync.NewCond(&m.mu)
	if m.logDir == "" {
		m.logDir = filepath.Join("logs", "jobs")
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.load()
	return m
}

func (m *Manager) load() {
	table, err := m.store.Load()
	if err != nil {
		m.logger.Warn("job table unreadable, starting empty", "error", err)
		return
	}

	now := m.now()
	for _, rec := range table.Jobs {
		if rec == nil || rec.ID == "" {
			continue
		}
		if rec.Status == "" {
			rec.Status = domain.JobStatusQueued
		}
		if rec.Status == domain.JobStatusRunning {
			rec.Status = domain.JobStatusStopped
			rec.Error = restartInterruptedMsg
			rec.Updated = now
		}
		if rec.Progress.Updated.IsZero() {
			rec.Progress = domain.QueuedProgress(now)
		}
		if !rec.ResumeSupported {
			rec.ResumeSupported = rec.Config.Command.Resumable()
		}
		rec.ClampNextIndex()
		m.jobs[rec.ID] = rec
	}

	for _, id := range table.Queue {
		if rec, ok := m.jobs[id]; ok && rec.Status == domain.JobStatusQueued && !slices.Contains(m.queue, id) {
			m.queue = append(m.queue, id)
		}
	}
	// Queued records missing from the saved order go last, oldest first.
	var orphans []*domain.JobRecord
	for id, rec := range m.jobs {
		if rec.Status == domain.JobStatusQueued && !slices.Contains(m.queue, id) {
			orphans = append(orphans, rec)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Created.Before(orphans[j].Created) })
	for _, rec := range orphans {
		m.queue = append(m.queue, rec.ID)
	}

	m.logger.Info("job table loaded", "jobs", len(m.jobs), "queued", len(m.queue))
}

// Subscribe registers a listener and returns a function that removes it.
// Listeners run synchronously on the mutating goroutine and must not call
// back into the Manager.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.notifyMu.Lock()
	id := m.nextLID
	m.nextLID++
	m.listeners[id] = l
	m.notifyMu.Unlock()

	return func() {
		m.notifyMu.Lock()
		delete(m.listeners, id)
		m.notifyMu.Unlock()
	}
}

// CreateJob resolves the request synchronously, then stores and enqueues a
// new job. No job is created when resolution fails.
func (m *Manager) CreateJob(ctx context.Context, cfg domain.JobConfig) (string, error) {
	if !cfg.Command.Valid() {
		return "", &domain.ResolutionError{Err: fmt.Errorf("%w: unsupported command %q", domain.ErrInvalidConfig, cfg.Command)}
	}
	cfg = cfg.WithDefaults()
	tasks, meta, err := m.resolver.Resolve(ctx, cfg)
	if err != nil {
		var rerr *domain.ResolutionError
		if !errors.As(err, &rerr) {
			err = &domain.ResolutionError{Err: err}
		}
		return "", err
	}
	return m.insert(cfg, tasks, meta)
}

// CreateJobFromTasks stores and enqueues a job whose tasks were already
// resolved by the caller.
func (m *Manager) CreateJobFromTasks(cfg domain.JobConfig, tasks []domain.VideoTask, meta *domain.ChannelMeta) (string, error) {
	if !cfg.Command.Valid() {
		return "", fmt.Errorf("%w: unsupported command %q", domain.ErrInvalidConfig, cfg.Command)
	}
	if len(tasks) == 0 {
		return "", &domain.ResolutionError{Err: domain.ErrNoVideosFound}
	}
	return m.insert(cfg.WithDefaults(), tasks, meta)
}

func (m *Manager) insert(cfg domain.JobConfig, tasks []domain.VideoTask, meta *domain.ChannelMeta) (string, error) {
	id := m.newID()
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(m.logDir, id+".log")
	}
	now := m.now()
	rec := &domain.JobRecord{
		ID:              id,
		Config:          cfg,
		Tasks:           slices.Clone(tasks),
		Status:          domain.JobStatusQueued,
		NextIndex:       1,
		Progress:        domain.QueuedProgress(now),
		ResumeSupported: cfg.Command.Resumable(),
		ChannelMeta:     meta,
		Created:         now,
		Updated:         now,
	}

	m.mu.Lock()
	undo := m.snapshotLocked(id)
	m.jobs[id] = rec
	m.enqueueLocked(id)
	if err := m.saveLocked(); err != nil {
		undo()
		m.mu.Unlock()
		return "", err
	}
	m.logger.Info("job created", "job_id", id, "command", cfg.Command, "tasks", len(tasks))
	m.publishLocked(m.updatedLocked(rec))
	return id, nil
}

// PauseJob pauses a queued job immediately, or asks a running job to pause
// at its next check point.
func (m *Manager) PauseJob(id string) error {
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrJobNotFound
	}
	switch rec.Status {
	case domain.JobStatusRunning:
		if ctl := m.controls[id]; ctl != nil {
			m.logger.Info("pause requested for running job", "job_id", id)
			ctl.RequestPause()
		}
		m.mu.Unlock()
		return nil
	case domain.JobStatusQueued:
		return m.transitionLocked(rec, domain.JobStatusPaused)
	}
	m.mu.Unlock()
	return &domain.InvalidStateError{JobID: id, Action: "pause", Status: rec.Status}
}

// StopJob stops a queued or paused job immediately, or asks a running job to
// stop at its next check point.
func (m *Manager) StopJob(id string) error {
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrJobNotFound
	}
	switch rec.Status {
	case domain.JobStatusRunning:
		if ctl := m.controls[id]; ctl != nil {
			m.logger.Info("stop requested for running job", "job_id", id)
			ctl.RequestStop()
		}
		m.mu.Unlock()
		return nil
	case domain.JobStatusQueued, domain.JobStatusPaused:
		return m.transitionLocked(rec, domain.JobStatusStopped)
	}
	m.mu.Unlock()
	return &domain.InvalidStateError{JobID: id, Action: "stop", Status: rec.Status}
}

// transitionLocked moves a non-running job to status, persists and notifies.
// It releases m.mu.
func (m *Manager) transitionLocked(rec *domain.JobRecord, status domain.JobStatus) error {
	undo := m.snapshotLocked(rec.ID)
	m.removeFromQueueLocked(rec.ID)
	rec.Status = status
	rec.Updated = m.now()
	if err := m.saveLocked(); err != nil {
		undo()
		m.mu.Unlock()
		return err
	}
	m.logger.Info("job status changed", "job_id", rec.ID, "status", status)
	m.publishLocked(m.updatedLocked(rec))
	return nil
}

// ResumeJob re-enqueues a paused, stopped or failed job.
func (m *Manager) ResumeJob(id string) error {
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrJobNotFound
	}
	if !rec.Status.Resumable() {
		m.mu.Unlock()
		return &domain.InvalidStateError{JobID: id, Action: "resume", Status: rec.Status}
	}

	undo := m.snapshotLocked(id)
	rec.Status = domain.JobStatusQueued
	rec.Error = ""
	rec.Updated = m.now()
	if !rec.ResumeSupported {
		rec.NextIndex = 1
	}
	rec.ClampNextIndex()
	m.enqueueLocked(id)
	if err := m.saveLocked(); err != nil {
		undo()
		m.mu.Unlock()
		return err
	}
	m.logger.Info("job resumed", "job_id", id, "next_index", rec.NextIndex)
	m.publishLocked(m.updatedLocked(rec))
	return nil
}

// DeleteJob removes a job that is not running.
func (m *Manager) DeleteJob(id string) error {
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrJobNotFound
	}
	if rec.Status == domain.JobStatusRunning {
		m.mu.Unlock()
		return &domain.InvalidStateError{JobID: id, Action: "delete", Status: rec.Status}
	}

	undo := m.snapshotLocked(id)
	m.removeFromQueueLocked(id)
	delete(m.jobs, id)
	if err := m.saveLocked(); err != nil {
		undo()
		m.mu.Unlock()
		return err
	}
	m.logger.Info("job deleted", "job_id", id)
	m.publishLocked(domain.JobDeleted{JobID: id})
	return nil
}

// GetJob returns a view of one job.
func (m *Manager) GetJob(id string) (domain.JobView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return domain.JobView{}, domain.ErrJobNotFound
	}
	return m.viewLocked(rec), nil
}

// ListJobs returns views of all jobs, newest first.
func (m *Manager) ListJobs() []domain.JobView {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := make([]*domain.JobRecord, 0, len(m.jobs))
	for _, rec := range m.jobs {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Created.Equal(recs[j].Created) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].Created.After(recs[j].Created)
	})

	views := make([]domain.JobView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, m.viewLocked(rec))
	}
	return views
}

// HasActiveJob reports whether a queued, running or paused job targets the
// same command and handle. Handles compare case-insensitively.
func (m *Manager) HasActiveJob(command domain.Command, handle string) bool {
	want := domain.NormalizeHandle(handle)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.jobs {
		if rec.Config.Command == command && rec.Status.Active() && strings.EqualFold(domain.NormalizeHandle(rec.Config.Handle), want) {
			return true
		}
	}
	return false
}

// QueueLength returns the number of queued job IDs.
func (m *Manager) QueueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// LogTail returns the last n lines of a job's log file.
func (m *Manager) LogTail(id string, n int) ([]string, error) {
	m.mu.Lock()
	rec, ok := m.jobs[id]
	var path string
	if ok {
		path = rec.Config.LogFile
	}
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return ReadLogTail(path, n), nil
}

func (m *Manager) enqueueLocked(id string) {
	if !slices.Contains(m.queue, id) {
		m.queue = append(m.queue, id)
		m.cond.Broadcast()
	}
}

func (m *Manager) removeFromQueueLocked(id string) {
	m.queue = slices.DeleteFunc(m.queue, func(q string) bool { return q == id })
}

func (m *Manager) queuePositionLocked(id string) int {
	return slices.Index(m.queue, id) + 1
}

func (m *Manager) viewLocked(rec *domain.JobRecord) domain.JobView {
	return domain.NewJobView(rec, m.queuePositionLocked(rec.ID))
}

func (m *Manager) updatedLocked(rec *domain.JobRecord) domain.Event {
	return domain.JobUpdated{Job: m.viewLocked(rec)}
}

// snapshotLocked captures the record and queue so a failed save can be undone.
func (m *Manager) snapshotLocked(id string) func() {
	prevQueue := slices.Clone(m.queue)
	prev, existed := m.jobs[id]
	var saved *domain.JobRecord
	if existed {
		saved = prev.Clone()
	}
	return func() {
		m.queue = prevQueue
		if existed {
			*prev = *saved
			m.jobs[id] = prev
		} else {
			delete(m.jobs, id)
		}
	}
}

func (m *Manager) saveLocked() error {
	table := &jobfile.Table{
		Jobs:  make([]*domain.JobRecord, 0, len(m.jobs)),
		Queue: slices.Clone(m.queue),
	}
	for _, rec := range m.jobs {
		table.Jobs = append(table.Jobs, rec)
	}
	sort.Slice(table.Jobs, func(i, j int) bool {
		if table.Jobs[i].Created.Equal(table.Jobs[j].Created) {
			return table.Jobs[i].ID < table.Jobs[j].ID
		}
		return table.Jobs[i].Created.Before(table.Jobs[j].Created)
	})
	if err := m.store.Save(table); err != nil {
		m.logger.Error("failed to persist job table", "error", err)
		return err
	}
	return nil
}

// publishLocked hands ev to every listener. It releases m.mu while holding
// notifyMu so that events reach listeners in mutation order.
func (m *Manager) publishLocked(ev domain.Event) {
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	for _, l := range m.listeners {
		m.deliver(l, ev)
	}
}

func (m *Manager) deliver(l Listener, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("job listener failed", "panic", r)
		}
	}()
	l(ev)
}

// ActiveJob returns the ID of the running job, if any.
func (m *Manager) ActiveJob() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != ""
}

// LogFiles returns the log paths referenced by any job in the table.
func (m *Manager) LogFiles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for _, rec := range m.jobs {
		if rec.Config.LogFile != "" {
			paths = append(paths, rec.Config.LogFile)
		}
	}
	return paths
}
