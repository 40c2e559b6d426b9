package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

type recorded struct {
	mu     sync.Mutex
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

func (r *recorded) snap() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorded{method: r.method, path: r.path, query: r.query, auth: r.auth, body: r.body}
}

func newServer(t *testing.T, status int, reply any) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if reply != nil {
			_ = json.NewEncoder(w).Encode(reply)
		}
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", WithToken("tok")), rec
}

func TestCreateJob(t *testing.T) {
	c, rec := newServer(t, http.StatusAccepted, domain.CreateJobResponse{JobID: "j1"})

	id, err := c.CreateJob(testContext(t), domain.JobSubmission{Command: "video", VideoIDs: domain.VideoIDList{"abc"}})
	require.NoError(t, err)
	assert.Equal(t, "j1", id)
	assert.Equal(t, http.MethodPost, rec.snap().method)
	assert.Equal(t, "/api/jobs", rec.snap().path)
	assert.Equal(t, "Bearer tok", rec.snap().auth)
	assert.Equal(t, "video", rec.snap().body["command"])
}

func TestControlPaths(t *testing.T) {
	c, rec := newServer(t, http.StatusOK, domain.JobView{JobRecord: domain.JobRecord{ID: "j1", Status: domain.JobStatusPaused}})

	view, err := c.PauseJob(testContext(t), "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaused, view.Status)
	assert.Equal(t, "/api/jobs/j1/pause", rec.snap().path)

	_, err = c.StopJob(testContext(t), "j1")
	require.NoError(t, err)
	assert.Equal(t, "/api/jobs/j1/stop", rec.snap().path)

	_, err = c.ResumeJob(testContext(t), "j1")
	require.NoError(t, err)
	assert.Equal(t, "/api/jobs/j1/resume", rec.snap().path)
}

func TestDeleteNoContent(t *testing.T) {
	c, rec := newServer(t, http.StatusNoContent, nil)

	require.NoError(t, c.DeleteJob(testContext(t), "j1"))
	assert.Equal(t, http.MethodDelete, rec.snap().method)

	require.NoError(t, c.RemoveWatch(testContext(t), 7))
	assert.Equal(t, "/api/watchlist/7", rec.snap().path)
}

func TestLogsQuery(t *testing.T) {
	c, rec := newServer(t, http.StatusOK, domain.LogTailResponse{JobID: "j1", Tail: []string{"x"}})

	resp, err := c.Logs(testContext(t), "j1", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, resp.Tail)
	assert.Equal(t, "/api/jobs/j1/log", rec.snap().path)
	assert.Equal(t, "lines=50", rec.snap().query)
}

func TestAPIError(t *testing.T) {
	c, _ := newServer(t, http.StatusNotFound, domain.ErrorResponse{Error: "job not found", Code: "JOB_NOT_FOUND"})

	_, err := c.GetJob(testContext(t), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "JOB_NOT_FOUND", apiErr.Code)
	assert.Equal(t, "job not found", apiErr.Message)
}

func TestWatchlist(t *testing.T) {
	c, rec := newServer(t, http.StatusCreated, domain.CreateWatchResponse{EntryID: 3})

	id, err := c.AddWatch(testContext(t), domain.WatchEntry{Handle: "@x", Mode: domain.CommandChannel, ClearScreen: true})
	require.NoError(t, err)
	assert.EqualValues(t, 3, id)
	assert.Equal(t, "@x", rec.snap().body["handle"])
	assert.Equal(t, true, rec.snap().body["clear_screen"])
}
