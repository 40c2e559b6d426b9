// Package resolver turns a job request into its ordered list of video tasks.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

// MetadataSource answers metadata-only queries.
type MetadataSource interface {
	ListFlat(ctx context.Context, url string) (*domain.Listing, error)
	VideoInfo(ctx context.Context, url string) (*domain.VideoInfo, error)
}

// VideoCache memoizes single-video lookups.
type VideoCache interface {
	Video(videoID string) (*domain.VideoInfo, bool)
	StoreVideo(videoID string, info *domain.VideoInfo)
}

// Resolver builds task lists.
type Resolver struct {
	source MetadataSource
	cache  VideoCache
	logger *slog.Logger
}

// New creates a Resolver. cache may be nil.
func New(source MetadataSource, cache VideoCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, cache: cache, logger: logger}
}

// Resolve returns the tasks for cfg, plus channel metadata for channel and
// shorts requests. Every failure is a *domain.ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, cfg domain.JobConfig) ([]domain.VideoTask, *domain.ChannelMeta, error) {
	switch cfg.Command {
	case domain.CommandChannel, domain.CommandShorts:
		return r.resolveChannel(ctx, cfg)
	case domain.CommandVideo:
		tasks, err := r.resolveVideos(ctx, cfg.VideoIDs)
		return tasks, nil, err
	case domain.CommandPlaylist:
		tasks, err := r.resolvePlaylist(ctx, cfg)
		return tasks, nil, err
	}
	return nil, nil, &domain.ResolutionError{Err: fmt.Errorf("%w: unsupported command %q", domain.ErrInvalidConfig, cfg.Command)}
}

func (r *Resolver) resolveChannel(ctx context.Context, cfg domain.JobConfig) ([]domain.VideoTask, *domain.ChannelMeta, error) {
	handle := domain.NormalizeHandle(cfg.Handle)
	if handle == "" {
		return nil, nil, &domain.ResolutionError{Err: fmt.Errorf("%w: a channel handle is required", domain.ErrInvalidConfig)}
	}
	target := domain.ChannelURL(handle, cfg.Command == domain.CommandShorts)
	r.logger.Info("fetching listing", "command", cfg.Command, "handle", handle)

	listing, err := r.source.ListFlat(ctx, target)
	if err != nil {
		return nil, nil, &domain.ResolutionError{Target: target, Err: err}
	}

	tasks := ExtractTasks(listing.Entries, firstNonEmpty(listing.Channel, listing.Uploader))
	if len(tasks) == 0 {
		return nil, nil, &domain.ResolutionError{Target: target, Err: domain.ErrNoVideosFound}
	}

	meta := &domain.ChannelMeta{
		DisplayName: firstNonEmpty(listing.Channel, listing.Uploader, handle),
		Description: listing.Description,
		Subscribers: listing.ChannelFollowerCount,
	}
	r.logger.Info("resolved listing", "handle", handle, "videos", len(tasks))
	return tasks, meta, nil
}

func (r *Resolver) resolvePlaylist(ctx context.Context, cfg domain.JobConfig) ([]domain.VideoTask, error) {
	raw := cfg.Handle
	if raw == "" && len(cfg.VideoIDs) > 0 {
		raw = cfg.VideoIDs[0]
	}
	id := domain.NormalizePlaylistID(raw)
	if id == "" {
		return nil, &domain.ResolutionError{Err: fmt.Errorf("%w: a playlist id is required", domain.ErrInvalidConfig)}
	}
	target := domain.PlaylistURL(id)

	listing, err := r.source.ListFlat(ctx, target)
	if err != nil {
		return nil, &domain.ResolutionError{Target: target, Err: err}
	}
	tasks := ExtractTasks(listing.Entries, "")
	if len(tasks) == 0 {
		return nil, &domain.ResolutionError{Target: target, Err: domain.ErrNoVideosFound}
	}
	return tasks, nil
}

func (r *Resolver) resolveVideos(ctx context.Context, raw []string) ([]domain.VideoTask, error) {
	ids := domain.NormalizeVideoIDs(raw)
	if len(ids) == 0 {
		return nil, &domain.ResolutionError{Err: fmt.Errorf("%w: no valid video IDs or URLs provided", domain.ErrNoVideosFound)}
	}

	tasks := make([]domain.VideoTask, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, &domain.ResolutionError{Err: err}
		}
		url := domain.WatchURL(id)
		task := domain.VideoTask{VideoID: id, URL: url}

		info, err := r.lookup(ctx, id, url)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, &domain.ResolutionError{Err: err}
			}
			r.logger.Warn("metadata lookup failed", "url", url, "error", err)
			tasks = append(tasks, task)
			continue
		}

		task.Title = strings.TrimSpace(info.Title)
		task.Uploader = firstNonEmpty(info.Uploader, info.Channel)
		task.Duration = seconds(info.Duration)
		if info.WebpageURL != "" {
			task.URL = info.WebpageURL
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (r *Resolver) lookup(ctx context.Context, id, url string) (*domain.VideoInfo, error) {
	if r.cache != nil {
		if info, ok := r.cache.Video(id); ok {
			return info, nil
		}
	}
	info, err := r.source.VideoInfo(ctx, url)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.StoreVideo(id, info)
	}
	return info, nil
}

// ExtractTasks walks a flat listing depth-first and keeps YouTube video
// entries. Nested listings (channel tabs, playlists) are descended.
func ExtractTasks(entries []domain.ListingEntry, defaultUploader string) []domain.VideoTask {
	var tasks []domain.VideoTask
	for _, e := range entries {
		switch {
		case e.Type == "url" && e.ID != "":
			if !strings.Contains(strings.ToLower(e.IEKey), "youtube") {
				continue
			}
			var duration *int
			if e.Duration != nil {
				duration = seconds(*e.Duration)
			}
			tasks = append(tasks, domain.VideoTask{
				VideoID:  e.ID,
				Title:    strings.TrimSpace(firstNonEmpty(e.Title, e.FullTitle)),
				Duration: duration,
				Uploader: firstNonEmpty(e.Uploader, e.Channel, defaultUploader),
				URL:      firstNonEmpty(e.URL, e.WebpageURL),
			})
		case len(e.Entries) > 0:
			tasks = append(tasks, ExtractTasks(e.Entries, defaultUploader)...)
		}
	}
	return tasks
}

func seconds(v float64) *int {
	if v <= 0 {
		return nil
	}
	s := int(math.Round(v))
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
