// Package cli implements the ytarchiver command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/emanuelef/yt-archiver/internal/config"
	"github.com/emanuelef/yt-archiver/pkg/logger"
)

// Run dispatches args to a subcommand. Output meant for the user goes to out.
func Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		printUsage(out)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	env := &env{cfg: cfg, out: out, logger: slog.Default()}
	rest := args[1:]

	switch args[0] {
	case "serve":
		return env.runServe(ctx, rest)
	case "watch":
		return env.runWatch(ctx, rest)
	case "create":
		return env.runCreate(ctx, rest)
	case "list":
		return env.runList(ctx, rest)
	case "pause", "stop", "resume":
		return env.runControl(ctx, args[0], rest)
	case "delete":
		return env.runDelete(ctx, rest)
	case "logs":
		return env.runLogs(ctx, rest)
	case "watchlist":
		return env.runWatchlist(ctx, rest)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

type env struct {
	cfg    *config.Config
	out    io.Writer
	logger *slog.Logger
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "ytarchiver: YouTube archive job server")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Server:")
	fmt.Fprintln(out, "  serve                 run the HTTP/WebSocket server, job worker and watch scheduler")
	fmt.Fprintln(out, "  watch [--once]        run the job worker and watch scheduler without HTTP")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Jobs (talk to a running server):")
	fmt.Fprintln(out, "  create <command> ...  submit a channel, shorts, video or playlist job")
	fmt.Fprintln(out, "  list                  list jobs")
	fmt.Fprintln(out, "  pause|stop|resume ID  control a job")
	fmt.Fprintln(out, "  delete ID             remove a job")
	fmt.Fprintln(out, "  logs [--lines N] ID   print the end of a job log")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Watchlist:")
	fmt.Fprintln(out, "  watchlist list")
	fmt.Fprintln(out, "  watchlist add [flags] HANDLE")
	fmt.Fprintln(out, "  watchlist rm ID")
}
