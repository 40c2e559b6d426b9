package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

type call struct {
	method string
	path   string
	body   map[string]any
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) at(i int) call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// fakeServer answers every request with the reply registered for its path.
func fakeServer(t *testing.T, replies map[string]any) *recorder {
	t.Helper()
	calls := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{method: r.Method, path: r.URL.Path}
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		calls.mu.Lock()
		calls.calls = append(calls.calls, c)
		calls.mu.Unlock()

		reply, ok := replies[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(domain.ErrorResponse{Error: "not found", Code: "NOT_FOUND"})
			return
		}
		if reply == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)

	testChdir(t, t.TempDir())
	t.Setenv("SERVER_URL", srv.URL)
	t.Setenv("API_TOKEN", "")
	return calls
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Run(testContext(t), args, &out)
	return out.String(), err
}

func TestUsage(t *testing.T) {
	out, err := run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "watchlist add")

	testChdir(t, t.TempDir())
	_, err = run(t, "bogus")
	assert.ErrorContains(t, err, "unknown command")
}

func TestCreateVideoJob(t *testing.T) {
	calls := fakeServer(t, map[string]any{
		"POST /api/jobs": domain.CreateJobResponse{JobID: "j1"},
	})

	out, err := run(t, "create", "--subs", "video", "abc,def", "ghi")
	require.NoError(t, err)
	assert.Equal(t, "j1\n", out)

	require.Equal(t, 1, calls.len())
	body := calls.at(0).body
	assert.Equal(t, "video", body["command"])
	assert.Equal(t, []any{"abc", "def", "ghi"}, body["video_ids"])
	assert.Equal(t, true, body["subs"])
}

func TestCreateChannelJob(t *testing.T) {
	calls := fakeServer(t, map[string]any{
		"POST /api/jobs": domain.CreateJobResponse{JobID: "j2"},
	})

	_, err := run(t, "create", "channel", "@Creator")
	require.NoError(t, err)
	assert.Equal(t, "@Creator", calls.at(0).body["handle"])

	_, err = run(t, "create", "channel")
	assert.ErrorContains(t, err, "usage")
}

func TestListJobs(t *testing.T) {
	pos := 1
	fakeServer(t, map[string]any{
		"GET /api/jobs": domain.JobListResponse{Jobs: []domain.JobView{{
			JobRecord: domain.JobRecord{
				ID:        "j1",
				Status:    domain.JobStatusQueued,
				Config:    domain.JobConfig{Command: domain.CommandChannel, Handle: "@x"},
				NextIndex: 3,
				Failures:  []domain.TaskFailure{{Index: 1, VideoID: "a"}},
			},
			QueuePosition:  &pos,
			VideoCount:     5,
			PartialFailure: true,
		}}},
	})

	out, err := run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "@x")
	assert.Contains(t, out, "2/5 (1 failed)")
}

func TestControlAndDelete(t *testing.T) {
	calls := fakeServer(t, map[string]any{
		"POST /api/jobs/j1/pause": domain.JobView{JobRecord: domain.JobRecord{ID: "j1", Status: domain.JobStatusPaused}},
		"DELETE /api/jobs/j1":     nil,
	})

	out, err := run(t, "pause", "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1 paused\n", out)

	_, err = run(t, "delete", "j1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, calls.at(1).method)

	_, err = run(t, "resume", "missing")
	assert.ErrorContains(t, err, "not found")
}

func TestLogs(t *testing.T) {
	fakeServer(t, map[string]any{
		"GET /api/jobs/j1/log": domain.LogTailResponse{JobID: "j1", TailText: "a\nb"},
	})

	out, err := run(t, "logs", "--lines", "2", "j1")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)
}

func TestWatchlistCommands(t *testing.T) {
	checked := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	calls := fakeServer(t, map[string]any{
		"POST /api/watchlist": domain.CreateWatchResponse{EntryID: 4},
		"GET /api/watchlist": domain.WatchListResponse{Entries: []domain.WatchEntry{{
			ID: 4, Handle: "@x", Mode: domain.CommandShorts, IntervalMinutes: 30, LastCheckTS: &checked, Tags: []string{"a"},
		}}},
		"DELETE /api/watchlist/4": nil,
	})

	out, err := run(t, "watchlist", "add", "--mode", "shorts", "--interval", "30", "--tags", "a,b", "@x")
	require.NoError(t, err)
	assert.Equal(t, "4\n", out)
	body := calls.at(0).body
	assert.Equal(t, "shorts", body["mode"])
	assert.EqualValues(t, 30, body["interval_minutes"])
	assert.Equal(t, []any{"a", "b"}, body["tags"])

	out, err = run(t, "watchlist", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "@x")
	assert.Contains(t, out, "never")

	out, err = run(t, "watchlist", "rm", "4")
	require.NoError(t, err)
	assert.Equal(t, "removed 4\n", out)

	_, err = run(t, "watchlist", "rm", "four")
	assert.ErrorContains(t, err, "invalid entry id")
}
