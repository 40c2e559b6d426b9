package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/emanuelef/yt-archiver/internal/config"
	"github.com/emanuelef/yt-archiver/internal/infra/cache"
	"github.com/emanuelef/yt-archiver/internal/infra/fs"
	"github.com/emanuelef/yt-archiver/internal/infra/jobfile"
	"github.com/emanuelef/yt-archiver/internal/infra/r2"
	"github.com/emanuelef/yt-archiver/internal/infra/sqlite"
	"github.com/emanuelef/yt-archiver/internal/service/archive"
	"github.com/emanuelef/yt-archiver/internal/service/downloader"
	"github.com/emanuelef/yt-archiver/internal/service/queue"
	"github.com/emanuelef/yt-archiver/internal/service/resolver"
	"github.com/emanuelef/yt-archiver/internal/service/watch"
)

// app holds the long-lived components shared by serve and watch.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	manager   *queue.Manager
	watchlist *sqlite.Watchlist
	scheduler *watch.Scheduler
	cleaner   *fs.Cleaner
}

// newApp builds the job store, the fetch engine and, when withWatch is set,
// the watchlist and its scheduler.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withWatch bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	dl := downloader.New(&downloader.Config{
		YtDlpPath:        cfg.YtDlpPath,
		FFmpegPath:       cfg.FFmpegPath,
		SubConverterPath: cfg.SubConverterPath,
		WorkDir:          cfg.TempDir,
		FetchTimeout:     cfg.FetchTimeout,
		ProbeTimeout:     cfg.ProbeTimeout,
	}, logger)
	if err := dl.CheckYtDlp(); err != nil {
		logger.Warn("yt-dlp not available, downloads will fail", "error", err)
	}

	res := resolver.New(dl, cache.NewMetadataCache(cfg.MetadataCacheTTL, cfg.MetadataCacheTTL/6), logger)

	var (
		mirror archive.Mirror
		pruner fs.Pruner
	)
	if cfg.MirrorEnabled() {
		client, err := r2.NewClient(ctx, r2.Config{
			AccountID:       cfg.MirrorAccountID,
			Endpoint:        cfg.MirrorEndpoint,
			Region:          cfg.MirrorRegion,
			AccessKeyID:     cfg.MirrorAccessKeyID,
			SecretAccessKey: cfg.MirrorSecretAccessKey,
			BucketName:      cfg.MirrorBucket,
			Prefix:          cfg.MirrorPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("mirror: %w", err)
		}
		mirror, pruner = client, client
		logger.Info("mirror enabled", "bucket", cfg.MirrorBucket)
	}

	a.manager = queue.NewManager(
		jobfile.New(cfg.JobsFile()),
		res,
		archive.NewRunner(dl, mirror),
		queue.Config{LogDir: filepath.Join(cfg.LogDir, "jobs"), Logger: logger},
	)

	if withWatch {
		db, err := sqlite.Open(cfg.WatchlistFile())
		if err != nil {
			return nil, fmt.Errorf("watchlist: %w", err)
		}
		a.watchlist = sqlite.NewWatchlist(db)
		a.scheduler = watch.New(a.watchlist, a.manager, res, watch.Config{
			PollInterval: cfg.WatchPollInterval,
			BatchSize:    cfg.WatchBatchSize,
			LogDir:       cfg.LogDir,
			Logger:       logger,
		})
	}

	a.cleaner = fs.NewCleaner(fs.CleanerConfig{
		WorkDir:      cfg.TempDir,
		WorkMaxAge:   cfg.TempMaxAge,
		LogDir:       cfg.LogDir,
		LogMaxAge:    cfg.LogMaxAge,
		InUse:        a.manager.LogFiles,
		Interval:     cfg.CleanupInterval,
		Mirror:       pruner,
		MirrorMaxAge: cfg.MirrorMaxAge,
		Logger:       logger,
	})
	return a, nil
}

// start launches the worker, the cleaner and, if present, the watch
// scheduler.
func (a *app) start(ctx context.Context) error {
	a.manager.Start(ctx)
	a.cleaner.Start(ctx)
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start watch scheduler: %w", err)
		}
	}
	return nil
}

// close stops everything in reverse order. The running job, if any, is
// recorded as stopped.
func (a *app) close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.cleaner.Stop()
	a.manager.Stop()

	var errs []error
	if a.watchlist != nil {
		errs = append(errs, a.watchlist.Close())
	}
	return errors.Join(errs...)
}
