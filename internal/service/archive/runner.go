// Package archive runs the task loop of one job: it fetches each pending
// task in order, checkpoints after every finished task and honours
// cooperative pause/stop requests.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/emanuelef/yt-archiver/internal/domain"
	"github.com/emanuelef/yt-archiver/internal/service/control"
	"github.com/emanuelef/yt-archiver/internal/service/downloader"
	"github.com/emanuelef/yt-archiver/internal/service/progress"
)

// Fetcher downloads a single video.
type Fetcher interface {
	Fetch(ctx context.Context, req downloader.FetchRequest, onProgress downloader.ProgressFunc) (*downloader.FetchResult, error)
}

// Mirror copies a saved video directory somewhere else.
type Mirror interface {
	MirrorDir(ctx context.Context, outputRoot, dir string) error
}

// CheckpointFunc is called after each finished task. taskErr is the task's
// failure, nil on success. A returned error fails the job.
type CheckpointFunc func(index int, task domain.VideoTask, taskErr error) error

// RunSpec is everything one run needs. Nothing is shared between runs.
type RunSpec struct {
	JobID       string
	Config      domain.JobConfig
	Tasks       []domain.VideoTask
	StartIndex  int
	Control     *control.Control
	Hub         *progress.Hub
	ChannelMeta *domain.ChannelMeta
	Checkpoint  CheckpointFunc
	Logger      *slog.Logger // per-job logger
	Output      io.Writer    // raw yt-dlp output
}

// Runner executes RunSpecs.
type Runner struct {
	fetcher Fetcher
	mirror  Mirror
}

// NewRunner creates a Runner. mirror may be nil.
func NewRunner(fetcher Fetcher, mirror Mirror) *Runner {
	return &Runner{fetcher: fetcher, mirror: mirror}
}

// Run processes spec.Tasks from spec.StartIndex. It returns nil when every
// task has been processed, a *domain.InterruptedError on pause/stop, and any
// other error for a job-level failure.
func (r *Runner) Run(ctx context.Context, spec RunSpec) error {
	log := spec.Logger
	if log == nil {
		log = slog.Default()
	}
	hub := spec.Hub
	if hub == nil {
		hub = progress.NewHub()
	}
	ctl := spec.Control
	if ctl == nil {
		ctl = control.New()
	}
	hub.BindProbe(ctl.Pending)
	defer hub.BindProbe(nil)

	total := len(spec.Tasks)
	if total == 0 {
		log.Warn("no videos matched the provided criteria")
		return nil
	}
	start := max(1, spec.StartIndex)
	if start > total {
		log.Info("all queued videos already processed")
		return nil
	}

	cfg := spec.Config.WithDefaults()
	if err := os.MkdirAll(cfg.Out, 0o755); err != nil {
		return fmt.Errorf("create output root: %w", err)
	}
	archivePath := ""
	if !cfg.NoCache {
		archivePath = downloader.ArchivePath(cfg.Out)
	}
	channelName := ""
	if spec.ChannelMeta != nil {
		channelName = spec.ChannelMeta.DisplayName
	}

	for index := start; index <= total; index++ {
		if err := ctl.Check(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		task := spec.Tasks[index-1]
		url := task.ResolvedURL()
		hub.Reset("Waiting on " + task.VideoID)
		hub.SetBatch(index, total)
		hub.SetStage("Starting", task.Title, false)
		log.Info("downloading", "index", index, "total", total, "url", url, "title", task.Title)

		res, err := r.fetcher.Fetch(ctx, downloader.FetchRequest{
			URL:         url,
			VideoID:     task.VideoID,
			OutputRoot:  cfg.Out,
			Archive:     archivePath,
			Subs:        cfg.Subs,
			ChannelName: firstNonEmpty(channelName, task.Uploader),
			Log:         spec.Output,
			OnStage:     func(label, detail string) { hub.SetStage(label, detail, false) },
			Interrupt:   ctl.Done(),
		}, hub.OnTransferEvent)

		var taskErr error
		switch {
		case errors.Is(err, domain.ErrTransferCancelled):
			reason, _ := ctl.Pending()
			log.Info("download cancelled", "index", index, "reason", reason)
			return &domain.InterruptedError{Reason: reason}
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			taskErr = err
			hub.Finish("Error", err.Error())
			log.Error("failed to download", "url", url, "error", err)
		case res.Skipped:
			hub.Finish("Completed", "Already archived")
			log.Info("already archived", "video_id", task.VideoID)
		default:
			hub.Finish("Completed", "Saved to "+res.VideoDir)
			r.mirrorDir(ctx, log, cfg.Out, res.VideoDir)
		}

		if spec.Checkpoint != nil {
			if err := spec.Checkpoint(index, task, taskErr); err != nil {
				return fmt.Errorf("checkpoint %d/%d: %w", index, total, err)
			}
		}

		if err := ctl.Check(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) mirrorDir(ctx context.Context, log *slog.Logger, root, dir string) {
	if r.mirror == nil || dir == "" {
		return
	}
	if err := r.mirror.MirrorDir(ctx, root, dir); err != nil {
		log.Warn("mirror upload failed", "dir", dir, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
