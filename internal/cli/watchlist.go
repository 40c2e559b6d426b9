package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

func (e *env) runWatchlist(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: watchlist list|add|rm")
	}
	switch args[0] {
	case "list", "ls":
		return e.runWatchList(ctx, args[1:])
	case "add":
		return e.runWatchAdd(ctx, args[1:])
	case "rm", "remove":
		return e.runWatchRemove(ctx, args[1:])
	default:
		return fmt.Errorf("unknown watchlist command %q", args[0])
	}
}

func (e *env) runWatchList(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("watchlist list", flag.ContinueOnError)
	flags.SetOutput(e.out)
	client := e.clientFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	entries, err := client().Watchlist(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHANDLE\tMODE\tEVERY\tLAST CHECK\tLAST ENQUEUED\tTAGS")
	for _, entry := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%dm\t%s\t%s\t%s\n",
			entry.ID, entry.Handle, entry.Mode, entry.IntervalMinutes,
			stamp(entry.LastCheckTS), stamp(entry.LastEnqueuedTS), strings.Join(entry.Tags, ","))
	}
	return w.Flush()
}

func stamp(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func (e *env) runWatchAdd(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("watchlist add", flag.ContinueOnError)
	flags.SetOutput(e.out)
	client := e.clientFlags(flags)
	mode := flags.String("mode", string(domain.CommandChannel), "channel or shorts")
	interval := flags.Int("interval", 60, "minutes between checks")
	subs := flags.Bool("subs", false, "download subtitles")
	noCache := flags.Bool("no-cache", false, "ignore the download archive")
	out := flags.String("out", e.cfg.OutputDir, "output root")
	logLevel := flags.String("log-level", "INFO", "job log level")
	noClear := flags.Bool("no-clear", false, "do not clear the screen between tasks")
	tags := flags.String("tags", "", "comma separated tags")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: watchlist add [flags] HANDLE")
	}

	entry := domain.WatchEntry{
		Handle:          flags.Arg(0),
		Mode:            domain.Command(strings.ToLower(*mode)),
		IntervalMinutes: *interval,
		Subs:            *subs,
		NoCache:         *noCache,
		OutDir:          *out,
		LogLevel:        *logLevel,
		ClearScreen:     !*noClear,
	}
	if *tags != "" {
		entry.Tags = strings.Split(*tags, ",")
	}

	id, err := client().AddWatch(ctx, entry)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, id)
	return nil
}

func (e *env) runWatchRemove(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("watchlist rm", flag.ContinueOnError)
	flags.SetOutput(e.out)
	client := e.clientFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: watchlist rm ENTRY_ID")
	}
	id, err := strconv.ParseInt(flags.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entry id %q", flags.Arg(0))
	}
	if err := client().RemoveWatch(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "removed %d\n", id)
	return nil
}
