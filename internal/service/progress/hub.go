// Package progress tracks the live transfer state of a job run and fans it
// out to any number of sinks.
package progress

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

const (
	samePercentInterval    = 750 * time.Millisecond
	unknownPercentInterval = 1500 * time.Millisecond
)

// Sink receives a copy of every emitted snapshot.
type Sink func(domain.ProgressSnapshot)

// Probe reports a pending interruption reason.
type Probe func() (domain.Reason, bool)

// Hub owns the current snapshot of one job run.
type Hub struct {
	mu          sync.Mutex
	state       domain.ProgressSnapshot
	lastPercent *int
	lastEmit    time.Time

	sinksMu sync.Mutex
	sinks   map[int]Sink
	nextID  int

	probe  Probe
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithLogger sets the logger used for sink and probe failures.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates a hub whose snapshot starts at "Queued".
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sinks:  make(map[int]Sink),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.state = domain.QueuedProgress(h.now())
	return h
}

// AddSink registers s and returns a function that removes it.
func (h *Hub) AddSink(s Sink) (remove func()) {
	h.sinksMu.Lock()
	id := h.nextID
	h.nextID++
	h.sinks[id] = s
	h.sinksMu.Unlock()

	return func() { h.RemoveSink(id) }
}

// RemoveSink unregisters the sink with the given id. Unknown ids are ignored.
func (h *Hub) RemoveSink(id int) {
	h.sinksMu.Lock()
	delete(h.sinks, id)
	h.sinksMu.Unlock()
}

// BindProbe installs the interruption probe consulted on every transfer
// event. A nil probe unbinds it.
func (h *Hub) BindProbe(p Probe) {
	h.mu.Lock()
	h.probe = p
	h.mu.Unlock()
}

// Snapshot returns the current state.
func (h *Hub) Snapshot() domain.ProgressSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Reset clears transfer counters before a new task.
func (h *Hub) Reset(detail string) {
	h.mu.Lock()
	h.state = domain.ProgressSnapshot{
		Label:      "Queued",
		Detail:     detail,
		BatchIndex: h.state.BatchIndex,
		BatchTotal: h.state.BatchTotal,
		Updated:    h.now(),
	}
	h.lastPercent = nil
	h.lastEmit = time.Time{}
	h.mu.Unlock()
}

// SetBatch records the position of the current task within the job.
func (h *Hub) SetBatch(index, total int) {
	h.mu.Lock()
	h.state.BatchIndex = index
	h.state.BatchTotal = total
	h.mu.Unlock()
}

// SetStage updates the label and detail and always emits.
func (h *Hub) SetStage(label, detail string, showTransfer bool) {
	h.mu.Lock()
	h.state.Label = label
	h.state.Detail = detail
	h.state.ShowTransfer = showTransfer
	snap := h.stampLocked(true)
	h.mu.Unlock()

	h.broadcast(*snap)
}

// Finish emits a final stage with transfer metrics hidden.
func (h *Hub) Finish(label, detail string) {
	h.SetStage(label, detail, false)
}

// OnTransferEvent consumes one low-level transfer report. It returns
// domain.ErrTransferCancelled when the bound probe reports a pending reason;
// the caller must abandon the transfer.
func (h *Hub) OnTransferEvent(ev domain.TransferEvent) error {
	h.mu.Lock()
	probe := h.probe
	h.mu.Unlock()

	if probe != nil {
		if reason, ok := probe(); ok {
			h.logger.Info("cancelling transfer", "reason", reason)
			return domain.ErrTransferCancelled
		}
	}

	var emits []domain.ProgressSnapshot

	h.mu.Lock()
	switch ev.Status {
	case "downloading":
		h.state.ShowTransfer = true
		h.state.Label = "Downloading"
		if name := filepath.Base(ev.Filename); ev.Filename != "" {
			h.state.Detail = name
		}
		h.state.Downloaded = ev.DownloadedBytes
		h.state.Total = ev.TotalBytes
		h.state.Speed = ev.Speed
		h.state.ETA = ev.ETA
		if snap := h.stampLocked(false); snap != nil {
			emits = append(emits, *snap)
		}
	case "finished":
		if h.state.Total != nil {
			h.state.Downloaded = *h.state.Total
		}
		h.state.Speed = nil
		h.state.ETA = nil
		emits = append(emits, *h.stampLocked(true))
		h.state.ShowTransfer = false
		h.state.Label = "Processing"
		h.state.Detail = "Download complete, finalizing media"
		emits = append(emits, *h.stampLocked(true))
	}
	h.mu.Unlock()

	for _, snap := range emits {
		h.broadcast(snap)
	}
	return nil
}

// stampLocked computes the percent, applies the throttle and returns the
// snapshot to emit, or nil when throttled.
func (h *Hub) stampLocked(force bool) *domain.ProgressSnapshot {
	now := h.now()

	var percent *int
	if h.state.ShowTransfer && h.state.Total != nil && *h.state.Total > 0 {
		p := int(h.state.Downloaded / *h.state.Total * 100)
		percent = &p
	}

	if !force {
		elapsed := now.Sub(h.lastEmit)
		if percent != nil && h.lastPercent != nil && *h.lastPercent == *percent && elapsed < samePercentInterval {
			return nil
		}
		if percent == nil && elapsed < unknownPercentInterval {
			return nil
		}
	}

	h.lastEmit = now
	if percent != nil {
		h.lastPercent = percent
	}
	h.state.Percent = percent
	h.state.Updated = now
	snap := h.state
	return &snap
}

func (h *Hub) broadcast(snap domain.ProgressSnapshot) {
	h.sinksMu.Lock()
	sinks := make([]Sink, 0, len(h.sinks))
	for _, s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.sinksMu.Unlock()

	for _, s := range sinks {
		h.deliver(s, snap)
	}
}

func (h *Hub) deliver(s Sink, snap domain.ProgressSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Debug("progress sink failed", "panic", r)
		}
	}()
	s(snap)
}
