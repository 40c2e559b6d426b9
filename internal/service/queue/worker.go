package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/emanuelef/yt-archiver/internal/domain"
	"github.com/emanuelef/yt-archiver/internal/service/archive"
	"github.com/emanuelef/yt-archiver/internal/service/control"
	"github.com/emanuelef/yt-archiver/internal/service/progress"
	"github.com/emanuelef/yt-archiver/pkg/logger"
)

const shutdownInterruptedMsg = "Interrupted during shutdown."

// Start launches the single worker. It returns immediately; calling it twice
// is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	// Wake the worker when ctx ends so it can observe shutdown.
	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})

	m.logger.Info("starting job worker", "queued", m.QueueLength())
	m.wg.Add(1)
	go m.worker(ctx)
}

// Stop cancels the worker and waits for it to exit. A running job is
// interrupted and recorded as stopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel == nil {
		return
	}

	m.logger.Info("stopping job worker...")
	cancel()
	m.wg.Wait()
	m.logger.Info("job worker stopped")
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		id, ctl, ok := m.next(ctx)
		if !ok {
			return
		}
		m.execute(ctx, id, ctl)
	}
}

// next blocks until a queued job can be claimed, marks it running and
// returns it. It returns false once ctx is done.
func (m *Manager) next(ctx context.Context) (string, *control.Control, bool) {
	m.mu.Lock()
	for {
		if ctx.Err() != nil {
			m.mu.Unlock()
			return "", nil, false
		}
		if len(m.queue) == 0 {
			m.cond.Wait()
			continue
		}

		id := m.queue[0]
		m.queue = m.queue[1:]
		rec, ok := m.jobs[id]
		if !ok || rec.Status != domain.JobStatusQueued {
			continue
		}

		ctl := control.New()
		rec.Status = domain.JobStatusRunning
		rec.Error = ""
		rec.Updated = m.now()
		m.controls[id] = ctl
		m.active = id
		m.persistLocked(rec)
		m.logger.Info("job started", "job_id", id, "next_index", rec.NextIndex, "tasks", len(rec.Tasks))
		m.publishLocked(m.updatedLocked(rec))
		return id, ctl, true
	}
}

func (m *Manager) execute(ctx context.Context, id string, ctl *control.Control) {
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	cfg := rec.Config
	tasks := rec.Tasks
	meta := rec.ChannelMeta
	start := rec.NextIndex
	if !rec.ResumeSupported {
		start = 1
	}
	m.mu.Unlock()

	jobLog, closeLog := m.openJobLog(cfg)
	defer closeLog()

	if len(tasks) == 0 {
		resolved, resolvedMeta, err := m.resolver.Resolve(ctx, cfg)
		if err != nil {
			m.finish(ctx, id, err)
			return
		}
		m.mu.Lock()
		if rec, ok := m.jobs[id]; ok {
			rec.Tasks = resolved
			rec.ChannelMeta = resolvedMeta
			rec.ClampNextIndex()
			m.persistLocked(rec)
		}
		m.mu.Unlock()
		tasks, meta = resolved, resolvedMeta
	}

	hub := progress.NewHub(progress.WithClock(m.now), progress.WithLogger(m.logger))
	hub.AddSink(func(snap domain.ProgressSnapshot) { m.recordProgress(id, snap) })

	err := m.executor.Run(ctx, archive.RunSpec{
		JobID:       id,
		Config:      cfg,
		Tasks:       tasks,
		StartIndex:  start,
		Control:     ctl,
		Hub:         hub,
		ChannelMeta: meta,
		Checkpoint:  func(index int, task domain.VideoTask, taskErr error) error { return m.checkpoint(id, index, task, taskErr) },
		Logger:      jobLog.Logger,
		Output:      jobLog.Writer(),
	})
	m.finish(ctx, id, err)
}

type jobLogger struct {
	*slog.Logger
	file *logger.FileLogger
}

func (j jobLogger) Writer() io.Writer {
	if j.file == nil {
		return io.Discard
	}
	return j.file.Writer()
}

func (m *Manager) openJobLog(cfg domain.JobConfig) (jobLogger, func()) {
	fl, err := logger.NewFileLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		m.logger.Warn("job log unavailable", "path", cfg.LogFile, "error", err)
		return jobLogger{Logger: m.logger}, func() {}
	}
	return jobLogger{Logger: fl.Logger, file: fl}, func() { _ = fl.Close() }
}

// recordProgress copies a hub snapshot into the job record and notifies.
// Progress alone is not persisted.
func (m *Manager) recordProgress(id string, snap domain.ProgressSnapshot) {
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.Progress = snap
	rec.Updated = m.now()
	m.publishLocked(m.updatedLocked(rec))
}

func (m *Manager) checkpoint(id string, index int, task domain.VideoTask, taskErr error) error {
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	undo := m.snapshotLocked(id)
	if rec.ResumeSupported {
		rec.NextIndex = max(rec.NextIndex, index+1)
	} else {
		rec.NextIndex = 1
	}
	rec.ClampNextIndex()
	if taskErr != nil {
		rec.Failures = append(rec.Failures, domain.TaskFailure{
			Index:   index,
			VideoID: task.VideoID,
			Error:   taskErr.Error(),
			At:      m.now(),
		})
	}
	rec.Updated = m.now()
	if err := m.saveLocked(); err != nil {
		undo()
		m.mu.Unlock()
		return err
	}
	m.publishLocked(m.updatedLocked(rec))
	return nil
}

// persistLocked saves a worker transition that cannot be rolled back. On
// failure the in-memory state stands and the write error is kept on the
// record until a later save rewrites the table.
func (m *Manager) persistLocked(rec *domain.JobRecord) {
	err := m.saveLocked()
	if err == nil {
		return
	}
	msg := "job table not saved: " + err.Error()
	if rec.Error != "" {
		msg = rec.Error + "; " + msg
	}
	rec.Error = msg
}

// finish records the outcome of a run.
func (m *Manager) finish(ctx context.Context, id string, runErr error) {
	m.mu.Lock()
	delete(m.controls, id)
	m.active = ""
	rec, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	now := m.now()
	rec.Updated = now
	var interrupted *domain.InterruptedError
	switch {
	case runErr == nil:
		rec.Status = domain.JobStatusCompleted
		rec.Error = ""
		rec.NextIndex = len(rec.Tasks) + 1
		rec.Progress.Label = "Completed"
		rec.Progress.Detail = ""
		rec.Progress.Percent = nil
		rec.Progress.Speed = nil
		rec.Progress.ETA = nil
		rec.Progress.ShowTransfer = false
		rec.Progress.Updated = now
	case errors.As(runErr, &interrupted):
		rec.Status = interrupted.Reason.Status()
		rec.Error = ""
		if !rec.ResumeSupported {
			rec.NextIndex = 1
		}
	case ctx.Err() != nil:
		rec.Status = domain.JobStatusStopped
		rec.Error = shutdownInterruptedMsg
	default:
		rec.Status = domain.JobStatusFailed
		rec.Error = runErr.Error()
	}
	rec.ClampNextIndex()

	m.persistLocked(rec)
	m.logger.Info("job finished", "job_id", id, "status", rec.Status, "next_index", rec.NextIndex, "failures", len(rec.Failures))
	m.publishLocked(m.updatedLocked(rec))
}
