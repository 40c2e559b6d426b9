// Package apiclient is a Go client for the archiver's HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

const (
	// DefaultTimeout covers job creation, which resolves listings before
	// answering.
	DefaultTimeout = 10 * time.Minute
	maxRedirects   = 5
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a running archiver server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends token as a bearer Authorization header.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    NewHTTPClient(DefaultTimeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient returns an HTTP client with bounded timeouts and redirects.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// Health returns the server health summary.
func (c *Client) Health(ctx context.Context) (*domain.HealthResponse, error) {
	var out domain.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateJob submits a job and returns its ID.
func (c *Client) CreateJob(ctx context.Context, sub domain.JobSubmission) (string, error) {
	var out domain.CreateJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", sub, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// ListJobs returns every job, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]domain.JobView, error) {
	var out domain.JobListResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// GetJob returns one job.
func (c *Client) GetJob(ctx context.Context, id string) (*domain.JobView, error) {
	var out domain.JobView
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PauseJob pauses a queued or running job.
func (c *Client) PauseJob(ctx context.Context, id string) (*domain.JobView, error) {
	return c.control(ctx, id, "pause")
}

// StopJob stops a job.
func (c *Client) StopJob(ctx context.Context, id string) (*domain.JobView, error) {
	return c.control(ctx, id, "stop")
}

// ResumeJob requeues a paused, stopped or failed job.
func (c *Client) ResumeJob(ctx context.Context, id string) (*domain.JobView, error) {
	return c.control(ctx, id, "resume")
}

func (c *Client) control(ctx context.Context, id, action string) (*domain.JobView, error) {
	var out domain.JobView
	path := "/api/jobs/" + url.PathEscape(id) + "/" + action
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteJob removes a job.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil)
}

// Logs returns the last lines of a job's log.
func (c *Client) Logs(ctx context.Context, id string, lines int) (*domain.LogTailResponse, error) {
	path := "/api/jobs/" + url.PathEscape(id) + "/log"
	if lines > 0 {
		path += "?lines=" + strconv.Itoa(lines)
	}
	var out domain.LogTailResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watchlist returns every watch entry.
func (c *Client) Watchlist(ctx context.Context) ([]domain.WatchEntry, error) {
	var out domain.WatchListResponse
	if err := c.do(ctx, http.MethodGet, "/api/watchlist", nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// AddWatch creates a watch entry and returns its ID.
func (c *Client) AddWatch(ctx context.Context, e domain.WatchEntry) (int64, error) {
	var out domain.CreateWatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/watchlist", e, &out); err != nil {
		return 0, err
	}
	return out.EntryID, nil
}

// RemoveWatch deletes a watch entry.
func (c *Client) RemoveWatch(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/watchlist/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body domain.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
