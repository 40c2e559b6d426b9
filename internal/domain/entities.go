// Package domain contains the core business entities and types.
package domain

import (
	"time"
)

// Command identifies what an archive request targets.
type Command string

const (
	CommandChannel  Command = "channel"
	CommandShorts   Command = "shorts"
	CommandVideo    Command = "video"
	CommandPlaylist Command = "playlist"
)

// Valid reports whether c is a known command kind.
func (c Command) Valid() bool {
	switch c {
	case CommandChannel, CommandShorts, CommandVideo, CommandPlaylist:
		return true
	}
	return false
}

// Resumable reports whether a job of this kind keeps its checkpoint across
// pause/stop/resume. Every kind persists a frozen, ordered task list at
// creation time, so all known kinds can pick up where they left off.
// Video jobs are included so a paused multi-video job continues with the
// next ID instead of starting over.
func (c Command) Resumable() bool {
	return c.Valid()
}

// NeedsHandle reports whether the command targets a channel handle. Only
// these kinds can be watched.
func (c Command) NeedsHandle() bool {
	return c == CommandChannel || c == CommandShorts
}

// JobStatus represents the current state of an archive job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusStopped   JobStatus = "stopped"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Active reports whether the job still occupies its target (queued, running
// or paused).
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusRunning || s == JobStatusPaused
}

// Resumable reports whether resume is a legal action from this status.
func (s JobStatus) Resumable() bool {
	return s == JobStatusPaused || s == JobStatusStopped || s == JobStatusFailed
}

// JobConfig is the immutable request descriptor of a job.
type JobConfig struct {
	Command     Command  `json:"command"`
	Handle      string   `json:"handle,omitempty"`
	VideoIDs    []string `json:"video_ids"`
	Out         string   `json:"out"`
	Subs        bool     `json:"subs"`
	NoCache     bool     `json:"no_cache"`
	LogFile     string   `json:"log_file"`
	LogLevel    string   `json:"log_level"`
	ClearScreen bool     `json:"clear_screen"`
}

// Defaults used when a submission leaves a field empty.
const (
	DefaultOutDir   = "yt"
	DefaultLogLevel = "INFO"
)

// WithDefaults fills empty optional fields.
func (c JobConfig) WithDefaults() JobConfig {
	if c.Out == "" {
		c.Out = DefaultOutDir
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.VideoIDs == nil {
		c.VideoIDs = []string{}
	}
	return c
}

// VideoTask is one unit of work within a job.
type VideoTask struct {
	VideoID  string `json:"video_id"`
	Title    string `json:"title"`
	Duration *int   `json:"duration"`
	Uploader string `json:"uploader"`
	URL      string `json:"url"`
}

// ResolvedURL returns the URL to hand to the fetch engine.
func (t VideoTask) ResolvedURL() string {
	if t.URL != "" {
		return t.URL
	}
	return WatchURL(t.VideoID)
}

// ChannelMeta describes the channel a listing was resolved from.
type ChannelMeta struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Subscribers int64  `json:"subscribers"`
}

// ProgressSnapshot is the latest progress state of the running task.
type ProgressSnapshot struct {
	Label        string    `json:"label"`
	Detail       string    `json:"detail"`
	Percent      *int      `json:"percent"`
	Downloaded   float64   `json:"downloaded"`
	Total        *float64  `json:"total"`
	Speed        *float64  `json:"speed"`
	ETA          *int      `json:"eta"`
	ShowTransfer bool      `json:"show_transfer"`
	BatchIndex   int       `json:"batch_index"`
	BatchTotal   int       `json:"batch_total"`
	Updated      time.Time `json:"updated"`
}

// QueuedProgress returns the snapshot a freshly queued job starts with.
func QueuedProgress(now time.Time) ProgressSnapshot {
	return ProgressSnapshot{Label: "Queued", Updated: now}
}

// TaskFailure records a single task that failed without failing its job.
type TaskFailure struct {
	Index   int       `json:"index"`
	VideoID string    `json:"video_id"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// JobRecord is the persisted aggregate owned by the job store.
type JobRecord struct {
	ID              string           `json:"id"`
	Config          JobConfig        `json:"config"`
	Tasks           []VideoTask      `json:"tasks"`
	Status          JobStatus        `json:"status"`
	NextIndex       int              `json:"next_index"`
	Error           string           `json:"error,omitempty"`
	Progress        ProgressSnapshot `json:"progress"`
	ResumeSupported bool             `json:"resume_supported"`
	ChannelMeta     *ChannelMeta     `json:"channel_meta,omitempty"`
	Failures        []TaskFailure    `json:"failures,omitempty"`
	Created         time.Time        `json:"created"`
	Updated         time.Time        `json:"updated"`
}

// Clone returns a deep copy of the record.
func (j *JobRecord) Clone() *JobRecord {
	c := *j
	c.Config.VideoIDs = append([]string(nil), j.Config.VideoIDs...)
	c.Tasks = append([]VideoTask(nil), j.Tasks...)
	c.Failures = append([]TaskFailure(nil), j.Failures...)
	if j.ChannelMeta != nil {
		meta := *j.ChannelMeta
		c.ChannelMeta = &meta
	}
	return &c
}

// ClampNextIndex keeps NextIndex within [1, len(Tasks)+1].
func (j *JobRecord) ClampNextIndex() {
	if j.NextIndex < 1 {
		j.NextIndex = 1
	}
	if max := len(j.Tasks) + 1; j.NextIndex > max {
		j.NextIndex = max
	}
}

// JobView is the read-only representation handed to callers and listeners.
type JobView struct {
	JobRecord
	QueuePosition  *int `json:"queue_position"`
	VideoCount     int  `json:"video_count"`
	PartialFailure bool `json:"partial_failure"`
}

// NewJobView builds a view from a record copy.
func NewJobView(j *JobRecord, queuePosition int) JobView {
	v := JobView{
		JobRecord:      *j.Clone(),
		VideoCount:     len(j.Tasks),
		PartialFailure: len(j.Failures) > 0,
	}
	if v.VideoCount == 0 {
		v.VideoCount = len(j.Config.VideoIDs)
	}
	if queuePosition > 0 {
		pos := queuePosition
		v.QueuePosition = &pos
	}
	return v
}

// WatchEntry is a persisted poll target for the watch scheduler.
type WatchEntry struct {
	ID              int64      `json:"id"`
	Handle          string     `json:"handle"`
	Mode            Command    `json:"mode"`
	IntervalMinutes int        `json:"interval_minutes"`
	LastCheckTS     *time.Time `json:"last_check_ts"`
	LastEnqueuedTS  *time.Time `json:"last_enqueued_ts"`
	Subs            bool       `json:"subs"`
	NoCache         bool       `json:"no_cache"`
	OutDir          string     `json:"out_dir"`
	LogLevel        string     `json:"log_level"`
	ClearScreen     bool       `json:"clear_screen"`
	Tags            []string   `json:"tags"`
}

// NormalizedHandle returns the handle with its leading marker.
func (w WatchEntry) NormalizedHandle() string {
	return NormalizeHandle(w.Handle)
}

// Due reports whether the entry should be checked at now.
func (w WatchEntry) Due(now time.Time) bool {
	if w.LastCheckTS == nil {
		return true
	}
	return now.Sub(*w.LastCheckTS) >= time.Duration(w.IntervalMinutes)*time.Minute
}

// VideoInfo contains metadata about a single video.
type VideoInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Duration    float64  `json:"duration"` // in seconds
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Filename    string   `json:"filename,omitempty"`
	Extractor   string   `json:"extractor,omitempty"`
	WebpageURL  string   `json:"webpage_url,omitempty"`
	Description string   `json:"description,omitempty"`
	Uploader    string   `json:"uploader,omitempty"`
	Channel     string   `json:"channel,omitempty"`
	UploadDate  string   `json:"upload_date,omitempty"`
	LiveStatus  string   `json:"live_status,omitempty"`
	MediaType   string   `json:"media_type,omitempty"`
	Ext         string   `json:"ext,omitempty"`
	Subtitles   []string `json:"-"`
}

// ListingEntry is one flat entry of a metadata listing. Entries of kind
// "playlist" carry nested entries instead of a video.
type ListingEntry struct {
	Type       string         `json:"_type"`
	ID         string         `json:"id"`
	IEKey      string         `json:"ie_key"`
	Title      string         `json:"title"`
	FullTitle  string         `json:"fulltitle"`
	URL        string         `json:"url"`
	WebpageURL string         `json:"webpage_url"`
	Uploader   string         `json:"uploader"`
	Channel    string         `json:"channel"`
	Duration   *float64       `json:"duration"`
	Entries    []ListingEntry `json:"entries"`
}

// Listing is the flat (non-recursive) metadata of a channel or playlist.
type Listing struct {
	ID                   string         `json:"id"`
	Title                string         `json:"title"`
	Channel              string         `json:"channel"`
	Uploader             string         `json:"uploader"`
	Description          string         `json:"description"`
	ChannelFollowerCount int64          `json:"channel_follower_count"`
	Entries              []ListingEntry `json:"entries"`
}

// TransferEvent is one low-level progress report from the fetch engine.
type TransferEvent struct {
	Status          string   // "downloading" or "finished"
	Filename        string
	DownloadedBytes float64
	TotalBytes      *float64
	Percent         *float64
	Speed           *float64
	ETA             *int
}
