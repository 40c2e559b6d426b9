package domain

import (
	"encoding/json"
	"regexp"
	"strings"
)

// JobSubmission is the body of a create-job request.
type JobSubmission struct {
	Command  string      `json:"command"`
	Handle   string      `json:"handle,omitempty"`
	VideoIDs VideoIDList `json:"video_ids,omitempty"`
	Out      string      `json:"out,omitempty"`
	Subs     bool        `json:"subs,omitempty"`
	NoCache  bool        `json:"no_cache,omitempty"`
	LogFile  string      `json:"log_file,omitempty"`
	LogLevel string      `json:"log_level,omitempty"`
	NoClear  bool        `json:"no_clear,omitempty"`
}

// Config converts the submission into a job config without validating it.
func (s JobSubmission) Config() JobConfig {
	return JobConfig{
		Command:     Command(strings.ToLower(strings.TrimSpace(s.Command))),
		Handle:      strings.TrimSpace(s.Handle),
		VideoIDs:    []string(s.VideoIDs),
		Out:         strings.TrimSpace(s.Out),
		Subs:        s.Subs,
		NoCache:     s.NoCache,
		LogFile:     strings.TrimSpace(s.LogFile),
		LogLevel:    strings.ToUpper(strings.TrimSpace(s.LogLevel)),
		ClearScreen: !s.NoClear,
	}.WithDefaults()
}

var idSeparators = regexp.MustCompile(`[\s,]+`)

// VideoIDList decodes either a JSON array of strings or one string holding
// IDs separated by whitespace or commas.
type VideoIDList []string

func (l *VideoIDList) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*l = SplitVideoIDs(raw)
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, SplitVideoIDs(item)...)
	}
	*l = out
	return nil
}

// SplitVideoIDs splits free text into non-empty ID tokens.
func SplitVideoIDs(raw string) []string {
	var out []string
	for _, part := range idSeparators.Split(strings.TrimSpace(raw), -1) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CreateJobResponse is returned when a job was accepted.
type CreateJobResponse struct {
	JobID string `json:"job_id"`
}

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// LogTailResponse carries the tail of a job log.
type LogTailResponse struct {
	JobID    string           `json:"job_id"`
	Status   JobStatus        `json:"status"`
	Progress ProgressSnapshot `json:"progress"`
	Tail     []string         `json:"tail"`
	TailText string           `json:"tail_text"`
}

// WatchListResponse wraps the watchlist.
type WatchListResponse struct {
	Entries []WatchEntry `json:"entries"`
}

// CreateWatchResponse is returned when a watch entry was added.
type CreateWatchResponse struct {
	EntryID int64 `json:"entry_id"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	QueueLength int    `json:"queue_length"`
	ActiveJob   string `json:"active_job,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
