package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/emanuelef/yt-archiver/internal/domain"
	"github.com/emanuelef/yt-archiver/pkg/apiclient"
)

// clientFlags registers --server and --token on flags and returns a
// constructor for the API client.
func (e *env) clientFlags(flags *flag.FlagSet) func() *apiclient.Client {
	server := flags.String("server", e.cfg.ServerURL, "server base URL")
	token := flags.String("token", e.cfg.APIToken, "API token")
	return func() *apiclient.Client {
		return apiclient.New(*server, apiclient.WithToken(*token))
	}
}

func (e *env) runCreate(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("create", flag.ContinueOnError)
	flags.SetOutput(e.out)
	client := e.clientFlags(flags)
	out := flags.String("out", e.cfg.OutputDir, "output root")
	subs := flags.Bool("subs", false, "download subtitles")
	noCache := flags.Bool("no-cache", false, "ignore the download archive")
	logFile := flags.String("log-file", "", "job log file")
	logLevel := flags.String("log-level", "INFO", "job log level")
	noClear := flags.Bool("no-clear", false, "do not clear the screen between tasks")
	if err := flags.Parse(args); err != nil {
		return err
	}

	rest := flags.Args()
	if len(rest) < 2 {
		return errors.New("usage: create [flags] channel|shorts HANDLE | video ID... | playlist ID")
	}

	sub := domain.JobSubmission{
		Command:  rest[0],
		Out:      *out,
		Subs:     *subs,
		NoCache:  *noCache,
		LogFile:  *logFile,
		LogLevel: *logLevel,
		NoClear:  *noClear,
	}
	switch domain.Command(strings.ToLower(rest[0])) {
	case domain.CommandChannel, domain.CommandShorts, domain.CommandPlaylist:
		sub.Handle = rest[1]
	default:
		for _, raw := range rest[1:] {
			sub.VideoIDs = append(sub.VideoIDs, domain.SplitVideoIDs(raw)...)
		}
	}

	id, err := client().CreateJob(ctx, sub)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, id)
	return nil
}

func (e *env) runList(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("list", flag.ContinueOnError)
	flags.SetOutput(e.out)
	client := e.clientFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	jobs, err := client().ListJobs(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCOMMAND\tTARGET\tPROGRESS\tQUEUE")
	for _, j := range jobs {
		queue := "-"
		if j.QueuePosition != nil {
			queue = fmt.Sprint(*j.QueuePosition)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Status, j.Config.Command, target(j.Config), progressText(j), queue)
	}
	return w.Flush()
}

func target(cfg domain.JobConfig) string {
	if cfg.Handle != "" {
		return cfg.Handle
	}
	return strings.Join(cfg.VideoIDs, ",")
}

func progressText(j domain.JobView) string {
	done := max(j.NextIndex-1, 0)
	text := fmt.Sprintf("%d/%d", min(done, j.VideoCount), j.VideoCount)
	if j.PartialFailure {
		text += fmt.Sprintf(" (%d failed)", len(j.Failures))
	}
	return text
}

func (e *env) runControl(ctx context.Context, action string, args []string) error {
	flags := flag.NewFlagSet(action, flag.ContinueOnError)
	flags.SetOutput(e.out)
	client := e.clientFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: %s JOB_ID", action)
	}

	c, id := client(), flags.Arg(0)
	var (
		view *domain.JobView
		err  error
	)
	switch action {
	case "pause":
		view, err = c.PauseJob(ctx, id)
	case "stop":
		view, err = c.StopJob(ctx, id)
	case "resume":
		view, err = c.ResumeJob(ctx, id)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s %s\n", view.ID, view.Status)
	return nil
}

func (e *env) runDelete(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("delete", flag.ContinueOnError)
	flags.SetOutput(e.out)
	client := e.clientFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: delete JOB_ID")
	}
	if err := client().DeleteJob(ctx, flags.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "deleted %s\n", flags.Arg(0))
	return nil
}

func (e *env) runLogs(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("logs", flag.ContinueOnError)
	flags.SetOutput(e.out)
	client := e.clientFlags(flags)
	lines := flags.Int("lines", 200, "number of lines")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: logs [--lines N] JOB_ID")
	}

	resp, err := client().Logs(ctx, flags.Arg(0), *lines)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, resp.TailText)
	return nil
}
