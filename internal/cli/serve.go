package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/emanuelef/yt-archiver/internal/service/watch"
	transporthttp "github.com/emanuelef/yt-archiver/internal/transport/http"
	"github.com/emanuelef/yt-archiver/internal/transport/http/middleware"
)

const shutdownTimeout = 30 * time.Second

func (e *env) runServe(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	flags.SetOutput(e.out)
	port := flags.String("port", e.cfg.Port, "listen port")
	withWatch := flags.Bool("watch", e.cfg.WatchEnabled, "run the watch scheduler")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// The watchlist is always opened so its endpoints work; only the poller
	// is optional.
	a, err := newApp(ctx, e.cfg, e.logger, true)
	if err != nil {
		return err
	}
	if !*withWatch {
		a.scheduler = nil
	}
	if err := a.start(ctx); err != nil {
		_ = a.close()
		return err
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: e.cfg.RateLimitRPM,
		Burst:             e.cfg.RateLimitBurst,
	})
	defer limiter.Stop()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := transporthttp.NewHub(a.manager, e.cfg.AllowedOrigins, e.logger)
	go hub.Run(hubCtx)

	handlers := transporthttp.NewHandlers(a.manager, a.watchlist, e.logger)
	router := transporthttp.NewRouter(e.cfg, handlers, hub, limiter)
	server := transporthttp.NewServer(":"+*port, router)

	serveErr := make(chan error, 1)
	go func() {
		e.logger.Info("server starting", "port", *port, "env", e.cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			e.logger.Error("server error", "error", err)
		}
	}

	e.logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("server shutdown failed", "error", err)
	}
	stopHub()

	if err := a.close(); err != nil {
		e.logger.Error("close failed", "error", err)
	}
	e.logger.Info("server stopped")
	return nil
}

func (e *env) runWatch(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	flags.SetOutput(e.out)
	once := flags.Bool("once", false, "run a single poll, wait for the resulting jobs and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, e.cfg, e.logger, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			e.logger.Error("close failed", "error", err)
		}
	}()

	if !*once {
		if err := a.start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}

	a.manager.Start(ctx)
	res, err := a.scheduler.Tick(ctx, time.Now())
	if err != nil {
		return err
	}
	printTick(e, res)
	return waitIdle(ctx, a, time.Second)
}

func printTick(e *env, res watch.TickResult) {
	fmt.Fprintf(e.out, "examined %d, skipped %d, failed %d, enqueued %d\n",
		res.Examined, res.Skipped, res.Failed, len(res.Enqueued))
	for _, id := range res.Enqueued {
		fmt.Fprintf(e.out, "  job %s\n", id)
	}
}

// waitIdle blocks until no job is queued or running.
func waitIdle(ctx context.Context, a *app, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, running := a.manager.ActiveJob(); !running && a.manager.QueueLength() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
