package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

var (
	unsafeNameRegex = regexp.MustCompile(`[\\/*:"<>|]`)
	thumbnailExts   = []string{".jpg", ".png", ".webp"}
)

// Sanitize replaces characters that are not allowed in file names.
func Sanitize(name string) string {
	cleaned := unsafeNameRegex.ReplaceAllString(name, "_")
	return strings.ReplaceAll(cleaned, "?", "")
}

// Categorize picks the output folder for a video.
func Categorize(info *domain.VideoInfo) string {
	if strings.Contains(strings.ToLower(info.MediaType), "short") {
		return "shorts"
	}
	if info.LiveStatus == "was_live" {
		return "vods"
	}
	return "videos"
}

// VideoDir returns <root>/<channel>/<category>/<mm-dd-yy> - <title> [<id>].
func VideoDir(root, fallbackChannel string, info *domain.VideoInfo) string {
	date := "unknown-date"
	if info.UploadDate != "" {
		if t, err := time.Parse("20060102", info.UploadDate); err == nil {
			date = t.Format("01-02-06")
		}
	}
	channel := firstNonEmpty(info.Channel, info.Uploader, fallbackChannel, "unknown-channel")
	title := Sanitize(firstNonEmpty(info.Title, "unknown-title"))
	name := fmt.Sprintf("%s - %s [%s]", date, title, info.ID)
	return filepath.Join(root, Sanitize(channel), Categorize(info), name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// relocate moves the media file and its side files out of the work dir.
func (d *Downloader) relocate(ctx context.Context, req FetchRequest, workDir, mediaPath string, info *domain.VideoInfo) (*FetchResult, error) {
	stage := req.OnStage
	if stage == nil {
		stage = func(string, string) {}
	}
	stage("Transcoding", "Finalizing media container")

	videoDir := VideoDir(req.OutputRoot, req.ChannelName, info)
	if err := os.MkdirAll(videoDir, 0o755); err != nil {
		return nil, fmt.Errorf("create video directory: %w", err)
	}

	title := Sanitize(firstNonEmpty(info.Title, "unknown-title"))
	target := filepath.Join(videoDir, title+filepath.Ext(mediaPath))
	if err := moveFile(mediaPath, target); err != nil {
		return nil, fmt.Errorf("move %s: %w", mediaPath, err)
	}
	d.logger.Info("saved video", "path", target)

	for _, ext := range thumbnailExts {
		thumb := filepath.Join(workDir, info.ID+ext)
		if !fileExists(thumb) {
			continue
		}
		if err := moveFile(thumb, filepath.Join(videoDir, "thumbnail"+ext)); err != nil {
			d.logger.Warn("failed to keep thumbnail", "path", thumb, "error", err)
		}
		break
	}

	liveChat := filepath.Join(workDir, info.ID+".live_chat.json")
	if fileExists(liveChat) {
		if err := moveFile(liveChat, filepath.Join(videoDir, "live_chat.json")); err != nil {
			d.logger.Warn("failed to keep live chat", "path", liveChat, "error", err)
		}
	}

	if req.Subs {
		d.organizeSubtitles(ctx, workDir, videoDir, info.ID, stage)
	}

	return &FetchResult{VideoDir: videoDir, MediaPath: target, Info: info}, nil
}

// organizeSubtitles moves <id>.<lang>.srv3 tracks into subtitles/ and adds an
// .ass conversion next to each when the converter is available.
func (d *Downloader) organizeSubtitles(ctx context.Context, workDir, videoDir, videoID string, stage func(string, string)) {
	stage("Subtitles", "Organizing subtitle tracks")
	tracks, _ := filepath.Glob(filepath.Join(workDir, videoID+".*.srv3"))
	if len(tracks) == 0 {
		stage("Subtitles", "No subtitle tracks found")
		return
	}

	subsDir := filepath.Join(videoDir, "subtitles")
	if err := os.MkdirAll(subsDir, 0o755); err != nil {
		d.logger.Warn("failed to create subtitles directory", "error", err)
		return
	}

	converterMissing := false
	for _, track := range tracks {
		parts := strings.Split(filepath.Base(track), ".")
		if len(parts) < 3 {
			continue
		}
		lang := parts[len(parts)-2]
		stage("Subtitles", "Processing "+lang)

		if !converterMissing {
			assPath := filepath.Join(workDir, videoID+"."+lang+".ass")
			err := d.convertSubtitle(ctx, track, assPath)
			switch {
			case errors.Is(err, exec.ErrNotFound):
				d.logger.Warn("subtitle converter not found; skipping conversion")
				converterMissing = true
			case err != nil:
				d.logger.Warn("subtitle conversion failed", "track", track, "error", err)
			default:
				if err := moveFile(assPath, filepath.Join(subsDir, lang+".ass")); err != nil {
					d.logger.Warn("failed to move converted subtitle", "error", err)
				}
			}
		}

		if err := moveFile(track, filepath.Join(subsDir, lang+".srv3")); err != nil {
			d.logger.Warn("failed to move subtitle", "track", track, "error", err)
		}
	}
	stage("Subtitles", "Completed")
}

func (d *Downloader) convertSubtitle(ctx context.Context, in, out string) error {
	if d.config.SubConverterPath == "" {
		return exec.ErrNotFound
	}
	path, err := exec.LookPath(d.config.SubConverterPath)
	if err != nil {
		return exec.ErrNotFound
	}
	return exec.CommandContext(ctx, path, in, out).Run()
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
