package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/emanuelef/yt-archiver/internal/domain"
	"github.com/emanuelef/yt-archiver/internal/infra/sqlite"
)

// watchRequest is the create body; ClearScreen defaults to true.
type watchRequest struct {
	Handle          string         `json:"handle"`
	Mode            domain.Command `json:"mode"`
	IntervalMinutes int            `json:"interval_minutes"`
	Subs            bool           `json:"subs"`
	NoCache         bool           `json:"no_cache"`
	OutDir          string         `json:"out_dir"`
	LogLevel        string         `json:"log_level"`
	ClearScreen     *bool          `json:"clear_screen"`
	Tags            []string       `json:"tags"`
}

func (req watchRequest) entry() domain.WatchEntry {
	clearScreen := true
	if req.ClearScreen != nil {
		clearScreen = *req.ClearScreen
	}
	return domain.WatchEntry{
		Handle:          req.Handle,
		Mode:            req.Mode,
		IntervalMinutes: req.IntervalMinutes,
		Subs:            req.Subs,
		NoCache:         req.NoCache,
		OutDir:          req.OutDir,
		LogLevel:        req.LogLevel,
		ClearScreen:     clearScreen,
		Tags:            req.Tags,
	}
}

func (h *Handlers) watchlistReady(w http.ResponseWriter) bool {
	if h.watchlist == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist is not configured", "WATCHLIST_DISABLED")
		return false
	}
	return true
}

func watchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "entry_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid entry id", "INVALID_ENTRY_ID")
		return 0, false
	}
	return id, true
}

// ListWatchHandler handles GET /api/watchlist.
func (h *Handlers) ListWatchHandler(w http.ResponseWriter, r *http.Request) {
	if !h.watchlistReady(w) {
		return
	}
	entries, err := h.watchlist.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if entries == nil {
		entries = []domain.WatchEntry{}
	}
	writeJSON(w, http.StatusOK, &domain.WatchListResponse{Entries: entries})
}

// CreateWatchHandler handles POST /api/watchlist.
func (h *Handlers) CreateWatchHandler(w http.ResponseWriter, r *http.Request) {
	if !h.watchlistReady(w) {
		return
	}
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	id, err := h.watchlist.Create(r.Context(), req.entry())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("watch entry added", "entry_id", id, "handle", req.Handle)
	writeJSON(w, http.StatusCreated, &domain.CreateWatchResponse{EntryID: id})
}

// GetWatchHandler handles GET /api/watchlist/{entry_id}.
func (h *Handlers) GetWatchHandler(w http.ResponseWriter, r *http.Request) {
	if !h.watchlistReady(w) {
		return
	}
	id, ok := watchID(w, r)
	if !ok {
		return
	}
	entry, err := h.watchlist.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// UpdateWatchHandler handles PUT/PATCH /api/watchlist/{entry_id} as a
// partial update.
func (h *Handlers) UpdateWatchHandler(w http.ResponseWriter, r *http.Request) {
	if !h.watchlistReady(w) {
		return
	}
	id, ok := watchID(w, r)
	if !ok {
		return
	}
	var patch sqlite.WatchPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	if err := h.watchlist.Update(r.Context(), id, patch); err != nil {
		h.fail(w, err)
		return
	}
	entry, err := h.watchlist.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// DeleteWatchHandler handles DELETE /api/watchlist/{entry_id}.
func (h *Handlers) DeleteWatchHandler(w http.ResponseWriter, r *http.Request) {
	if !h.watchlistReady(w) {
		return
	}
	id, ok := watchID(w, r)
	if !ok {
		return
	}
	if err := h.watchlist.Delete(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
