// Package http exposes the job store and the watchlist over JSON endpoints
// and a WebSocket feed.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/emanuelef/yt-archiver/internal/domain"
	"github.com/emanuelef/yt-archiver/internal/infra/sqlite"
	"github.com/emanuelef/yt-archiver/internal/service/queue"
	"github.com/emanuelef/yt-archiver/internal/transport/http/middleware"
)

const defaultTailLines = 200

// JobService is the job store surface served over HTTP.
type JobService interface {
	CreateJob(ctx context.Context, cfg domain.JobConfig) (string, error)
	PauseJob(id string) error
	StopJob(id string) error
	ResumeJob(id string) error
	DeleteJob(id string) error
	GetJob(id string) (domain.JobView, error)
	ListJobs() []domain.JobView
	LogTail(id string, n int) ([]string, error)
	Subscribe(l queue.Listener) (unsubscribe func())
	QueueLength() int
	ActiveJob() (string, bool)
}

// WatchlistService is the watchlist store surface served over HTTP.
type WatchlistService interface {
	List(ctx context.Context) ([]domain.WatchEntry, error)
	Get(ctx context.Context, id int64) (domain.WatchEntry, error)
	Create(ctx context.Context, e domain.WatchEntry) (int64, error)
	Update(ctx context.Context, id int64, p sqlite.WatchPatch) error
	Delete(ctx context.Context, id int64) error
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	jobs      JobService
	watchlist WatchlistService
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance. watchlist may be nil, in
// which case the watchlist endpoints answer 503.
func NewHandlers(jobs JobService, watchlist WatchlistService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{jobs: jobs, watchlist: watchlist, logger: logger}
}

// HealthHandler handles GET /api/health requests.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	active, _ := h.jobs.ActiveJob()
	writeJSON(w, http.StatusOK, &domain.HealthResponse{
		Status:      "ok",
		QueueLength: h.jobs.QueueLength(),
		ActiveJob:   active,
	})
}

// ListJobsHandler handles GET /api/jobs.
func (h *Handlers) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &domain.JobListResponse{Jobs: h.jobs.ListJobs()})
}

// CreateJobHandler handles POST /api/jobs. Resolution runs before the
// response, so a 202 means the job is queued with its tasks.
func (h *Handlers) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.JobSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	cfg, err := middleware.ValidateSubmission(req)
	if err != nil {
		h.logger.Warn("job submission rejected", "error", err, "ip", middleware.GetClientIP(r))
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SUBMISSION")
		return
	}

	jobID, err := h.jobs.CreateJob(r.Context(), cfg)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.logger.Info("job submitted", "job_id", jobID, "command", cfg.Command, "ip", middleware.GetClientIP(r))
	writeJSON(w, http.StatusAccepted, &domain.CreateJobResponse{JobID: jobID})
}

// GetJobHandler handles GET /api/jobs/{job_id}.
func (h *Handlers) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(chi.URLParam(r, "job_id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteJobHandler handles DELETE /api/jobs/{job_id}.
func (h *Handlers) DeleteJobHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.DeleteJob(chi.URLParam(r, "job_id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JobActionHandler handles POST /api/jobs/{job_id}/{action} for pause, stop,
// resume and delete. It returns the job view after the action.
func (h *Handlers) JobActionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	action := chi.URLParam(r, "action")

	if err := h.control(id, action); err != nil {
		h.fail(w, err)
		return
	}
	if action == "delete" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	job, err := h.jobs.GetJob(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

var errUnknownAction = errors.New("unknown job action")

func (h *Handlers) control(id, action string) error {
	switch action {
	case "pause":
		return h.jobs.PauseJob(id)
	case "stop":
		return h.jobs.StopJob(id)
	case "resume":
		return h.jobs.ResumeJob(id)
	case "delete":
		return h.jobs.DeleteJob(id)
	default:
		return errUnknownAction
	}
}

// JobLogHandler handles GET /api/jobs/{job_id}/log?lines=N.
func (h *Handlers) JobLogHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	payload, err := h.logPayload(id, parseLines(r.URL.Query().Get("lines")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handlers) logPayload(id string, lines int) (*domain.LogTailResponse, error) {
	job, err := h.jobs.GetJob(id)
	if err != nil {
		return nil, err
	}
	tail, err := h.jobs.LogTail(id, lines)
	if err != nil {
		return nil, err
	}
	return &domain.LogTailResponse{
		JobID:    id,
		Status:   job.Status,
		Progress: job.Progress,
		Tail:     tail,
		TailText: strings.Join(tail, "\n"),
	}, nil
}

func parseLines(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultTailLines
	}
	return n
}

// fail maps domain errors onto status codes.
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error(), code)
}

func errorStatus(err error) (int, string) {
	var (
		resolution  *domain.ResolutionError
		persistence *domain.PersistenceError
	)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, "JOB_NOT_FOUND"
	case errors.Is(err, domain.ErrWatchNotFound):
		return http.StatusNotFound, "WATCH_NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, domain.ErrInvalidWatch), errors.Is(err, errUnknownAction):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.As(err, &resolution):
		return http.StatusUnprocessableEntity, "RESOLUTION_FAILED"
	case errors.As(err, &persistence):
		return http.StatusInternalServerError, "PERSISTENCE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, &domain.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
