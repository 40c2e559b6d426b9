// Package downloader wraps the yt-dlp executable: media fetches with live
// progress, flat listings and single-video metadata probes.
package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

// Config holds downloader configuration.
type Config struct {
	YtDlpPath        string        // Path to yt-dlp binary
	FFmpegPath       string        // Path to ffmpeg binary (optional)
	SubConverterPath string        // Path to ytsubconverter (optional)
	WorkDir          string        // Scratch space for in-flight downloads
	FetchTimeout     time.Duration // Upper bound for one video, 0 disables
	ProbeTimeout     time.Duration // Upper bound for metadata queries
}

// DefaultConfig returns the default downloader configuration.
func DefaultConfig() *Config {
	return &Config{
		YtDlpPath:        "yt-dlp",
		FFmpegPath:       "",
		SubConverterPath: "ytsubconverter",
		WorkDir:          "./tmp",
		FetchTimeout:     2 * time.Hour,
		ProbeTimeout:     2 * time.Minute,
	}
}

// Downloader runs yt-dlp subprocesses.
type Downloader struct {
	config *Config
	logger *slog.Logger
}

// New creates a new Downloader with the given configuration.
func New(config *Config, logger *slog.Logger) *Downloader {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{config: config, logger: logger}
}

// FetchRequest describes one video download.
type FetchRequest struct {
	URL         string
	VideoID     string
	OutputRoot  string
	Archive     string // download archive path, empty disables it
	Subs        bool
	ChannelName string // fallback channel folder
	Log         io.Writer
	OnStage     func(label, detail string)
	// Interrupt aborts the transfer with domain.ErrTransferCancelled once
	// closed.
	Interrupt   <-chan struct{}
}

// FetchResult describes where a fetched video ended up.
type FetchResult struct {
	VideoDir  string
	MediaPath string
	Skipped   bool // already recorded in the download archive
	Info      *domain.VideoInfo
}

// ProgressFunc receives transfer events. Returning an error aborts the
// subprocess and makes Fetch return that error.
type ProgressFunc func(domain.TransferEvent) error

const progressPrefix = "[progress] "

// pipeGrace bounds how long an aborted fetch waits for output pipes held
// open by processes outside the yt-dlp process group.
const pipeGrace = 2 * time.Second

// progressTemplate makes yt-dlp print machine-readable progress lines.
// The filename goes last because it may contain spaces.
const progressTemplate = "download:" + progressPrefix +
	"%(progress.status)s %(progress.downloaded_bytes)s %(progress.total_bytes)s " +
	"%(progress.total_bytes_estimate)s %(progress.speed)s %(progress.eta)s %(progress.filename)s"

var (
	mergerRegex          = regexp.MustCompile(`\[Merger\] Merging formats into "(.+)"`)
	moveFileRegex        = regexp.MustCompile(`\[MoveFiles\] Moving file "(.+)" to "(.+)"`)
	remuxRegex           = regexp.MustCompile(`\[VideoRemuxer\] .*?; Destination: (.+)`)
	alreadyArchivedRegex = regexp.MustCompile(`has already been recorded in the archive`)
)

// Fetch downloads one video into a private work directory, then moves the
// result into the categorized output layout.
func (d *Downloader) Fetch(ctx context.Context, req FetchRequest, onProgress ProgressFunc) (*FetchResult, error) {
	if d.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.FetchTimeout)
		defer cancel()
	}
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	if req.Interrupt != nil {
		go func() {
			select {
			case <-req.Interrupt:
				abort(domain.ErrTransferCancelled)
			case <-ctx.Done():
			}
		}()
	}

	if err := os.MkdirAll(d.config.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	workDir, err := os.MkdirTemp(d.config.WorkDir, "fetch-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	logw := req.Log
	if logw == nil {
		logw = io.Discard
	}

	cmd := exec.CommandContext(ctx, d.config.YtDlpPath, d.buildFetchArgs(req, workDir)...)
	// ffmpeg and aria2c children must die with yt-dlp.
	killProcessGroup(cmd)
	cmd.WaitDelay = pipeGrace
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(context.Cause(ctx), domain.ErrTransferCancelled) {
			return nil, domain.ErrTransferCancelled
		}
		return nil, fmt.Errorf("failed to start yt-dlp: %w", err)
	}

	var (
		info      *domain.VideoInfo
		mediaPath string
		skipped   bool
		logMu     sync.Mutex
	)
	writeLog := func(line string) {
		logMu.Lock()
		fmt.Fprintln(logw, line)
		logMu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := newLineScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()

			if strings.HasPrefix(line, "{") {
				var parsed domain.VideoInfo
				if err := json.Unmarshal([]byte(line), &parsed); err == nil {
					info = &parsed
				}
				continue
			}

			if ev, ok := parseProgressLine(line); ok {
				if onProgress != nil && context.Cause(ctx) == nil {
					if err := onProgress(ev); err != nil {
						abort(err)
					}
				}
				continue
			}

			writeLog(line)

			if m := mergerRegex.FindStringSubmatch(line); len(m) > 1 {
				mediaPath = strings.TrimSpace(m[1])
			}
			if m := remuxRegex.FindStringSubmatch(line); len(m) > 1 {
				mediaPath = strings.TrimSpace(m[1])
			}
			if m := moveFileRegex.FindStringSubmatch(line); len(m) > 2 {
				mediaPath = strings.TrimSpace(m[2])
			}
			if alreadyArchivedRegex.MatchString(line) {
				skipped = true
			}
		}
		// Drain so the subprocess never blocks on a full pipe after an abort.
		_, _ = io.Copy(io.Discard, stdout)
	}()

	var stderrOutput strings.Builder
	go func() {
		defer wg.Done()
		scanner := newLineScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			stderrOutput.WriteString(line)
			stderrOutput.WriteString("\n")
			writeLog(line)
		}
	}()

	scanned := make(chan struct{})
	go func() {
		wg.Wait()
		close(scanned)
	}()
	select {
	case <-scanned:
	case <-ctx.Done():
		select {
		case <-scanned:
		case <-time.After(pipeGrace):
			d.logger.Warn("output pipes still open after abort, closing", "video_id", req.VideoID)
			_ = stdout.Close()
			_ = stderr.Close()
			<-scanned
		}
	}
	waitErr := cmd.Wait()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		return nil, cause
	}
	if waitErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.New("download timed out")
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("download was canceled: %w", ctx.Err())
		}
		return nil, classifyError(stderrOutput.String())
	}

	if skipped {
		return &FetchResult{Skipped: true, Info: info}, nil
	}

	if mediaPath == "" || !fileExists(mediaPath) {
		mediaPath = findMedia(workDir, req.VideoID)
	}
	if mediaPath == "" {
		return nil, errors.New("could not determine downloaded file path")
	}

	if info == nil {
		info = &domain.VideoInfo{ID: req.VideoID}
	}
	if info.ID == "" {
		info.ID = req.VideoID
	}

	placed, err := d.relocate(ctx, req, workDir, mediaPath, info)
	if err != nil {
		return nil, err
	}
	return placed, nil
}

func classifyError(errOutput string) error {
	switch {
	case strings.Contains(errOutput, "Video unavailable"), strings.Contains(errOutput, "Private video"):
		return errors.New("video is unavailable or private")
	case strings.Contains(errOutput, "is not a valid URL"):
		return errors.New("invalid video URL")
	}
	msg := strings.TrimSpace(errOutput)
	if i := strings.LastIndex(msg, "ERROR:"); i >= 0 {
		msg = strings.TrimSpace(msg[i+len("ERROR:"):])
	}
	if msg == "" {
		msg = "unknown failure"
	}
	return fmt.Errorf("yt-dlp error: %s", msg)
}

// ListFlat returns the flat listing of a channel or playlist URL.
func (d *Downloader) ListFlat(ctx context.Context, url string) (*domain.Listing, error) {
	output, err := d.probe(ctx, "--flat-playlist", "-J", "--no-warnings", url)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", url, err)
	}

	var listing domain.Listing
	if err := json.Unmarshal(output, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}
	return &listing, nil
}

// VideoInfo retrieves video metadata without downloading.
func (d *Downloader) VideoInfo(ctx context.Context, url string) (*domain.VideoInfo, error) {
	output, err := d.probe(ctx, "--no-download", "--print-json", "--no-playlist", "--no-warnings", url)
	if err != nil {
		return nil, fmt.Errorf("failed to get video info: %w", err)
	}

	var info domain.VideoInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("failed to parse video info: %w", err)
	}
	return &info, nil
}

func (d *Downloader) probe(ctx context.Context, args ...string) ([]byte, error) {
	if d.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ProbeTimeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, d.config.YtDlpPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return output, nil
}

// buildFetchArgs constructs the yt-dlp arguments for one video.
func (d *Downloader) buildFetchArgs(req FetchRequest, workDir string) []string {
	args := []string{
		"--newline",
		"--print-json",
		"--no-simulate",
		"--no-playlist",
		"--progress-template", progressTemplate,
		"-P", workDir,
		"-o", "%(id)s.%(ext)s",
		"--remux-video", "mkv",
		"--merge-output-format", "mkv",
		"--embed-metadata",
		"--embed-thumbnail",
		"--write-thumbnail",
		"--socket-timeout", "30",
		"--retries", "3",
	}
	if req.Archive != "" {
		args = append(args, "--download-archive", req.Archive)
	}
	if req.Subs {
		args = append(args,
			"--write-subs",
			"--sub-langs", "all",
			"--sub-format", "srv3",
		)
	}
	if d.config.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", d.config.FFmpegPath)
	}
	return append(args, req.URL)
}

// CheckYtDlp verifies that yt-dlp is installed and accessible.
func (d *Downloader) CheckYtDlp() error {
	cmd := exec.Command(d.config.YtDlpPath, "--version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("yt-dlp not found or not executable: %w", err)
	}
	return nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	// Metadata lines can be several megabytes.
	s.Buffer(make([]byte, 64*1024), 32*1024*1024)
	return s
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

var mediaExts = map[string]bool{".mkv": true, ".mp4": true, ".webm": true, ".m4a": true, ".mp3": true, ".opus": true}

func findMedia(dir, videoID string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var fallback string
	for _, e := range entries {
		if e.IsDir() || !mediaExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if videoID != "" && strings.HasPrefix(e.Name(), videoID+".") {
			return path
		}
		if fallback == "" {
			fallback = path
		}
	}
	return fallback
}
