package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emanuelef/yt-archiver/internal/domain"
	"github.com/emanuelef/yt-archiver/internal/service/queue"
	"github.com/emanuelef/yt-archiver/internal/transport/http/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// WebSocket message types.
const (
	msgJobsSnapshot  = "jobs_snapshot"
	msgJobUpdate     = "job_update"
	msgJobDeleted    = "job_deleted"
	msgJobLog        = "job_log"
	msgJobCreated    = "job_created"
	msgJobError      = "job_error"
	msgJobControlAck = "job_control_ack"

	reqLog     = "request_log"
	reqCreate  = "create_job"
	reqControl = "job_control"
)

type wsMessage struct {
	Type     string                   `json:"type"`
	Job      *domain.JobView          `json:"job,omitempty"`
	JobID    string                   `json:"job_id,omitempty"`
	Action   string                   `json:"action,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Status   domain.JobStatus         `json:"status,omitempty"`
	Progress *domain.ProgressSnapshot `json:"progress,omitempty"`
	Tail     []string                 `json:"tail,omitempty"`
	TailText *string                  `json:"tail_text,omitempty"`
}

type wsSnapshot struct {
	Type string           `json:"type"`
	Jobs []domain.JobView `json:"jobs"`
}

type wsRequest struct {
	Type    string                `json:"type"`
	JobID   string                `json:"job_id"`
	Action  string                `json:"action"`
	Lines   int                   `json:"lines"`
	Payload *domain.JobSubmission `json:"payload"`
}

// Hub fans job events out to WebSocket clients and serves their requests.
// Run owns the client set; every write to a client's send channel happens on
// the Run goroutine.
type Hub struct {
	jobs     JobService
	logger   *slog.Logger
	upgrader websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	direct     chan outbound
	subscribe  chan logSubscription
	done       chan struct{}

	pendingMu sync.Mutex
	pending   []domain.Event
	wake      chan struct{}

	// owned by Run
	clients map[*Client]struct{}
	logSubs map[string]map[*Client]int
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// owned by Run
	logJob string
}

type outbound struct {
	client *Client
	data   []byte
}

type logSubscription struct {
	client *Client
	jobID  string
	lines  int
}

// NewHub creates a hub. allowedOrigins restricts browser origins; "*" or an
// empty list accepts any.
func NewHub(jobs JobService, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		jobs:       jobs,
		logger:     logger.With("component", "ws"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan outbound, sendBuffer),
		subscribe:  make(chan logSubscription),
		done:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
		clients:    make(map[*Client]struct{}),
		logSubs:    make(map[string]map[*Client]int),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
			return true
		}
		return slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, origin) })
	}
}

// Run subscribes to the job store and serves clients until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	unsubscribe := h.jobs.Subscribe(h.enqueue)
	defer unsubscribe()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.deliver(c, mustMarshal(wsSnapshot{Type: msgJobsSnapshot, Jobs: h.jobs.ListJobs()}))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case m := <-h.direct:
			if _, ok := h.clients[m.client]; ok {
				h.deliver(m.client, m.data)
			}
		case s := <-h.subscribe:
			h.subscribeLog(s)
		case <-h.wake:
			for _, ev := range h.drain() {
				h.handleEvent(ev)
			}
		}
	}
}

// enqueue is the job store listener. It never blocks.
func (h *Hub) enqueue(ev domain.Event) {
	h.pendingMu.Lock()
	h.pending = append(h.pending, ev)
	h.pendingMu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) drain() []domain.Event {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	evs := h.pending
	h.pending = nil
	return evs
}

func (h *Hub) handleEvent(ev domain.Event) {
	switch e := ev.(type) {
	case domain.JobUpdated:
		job := e.Job
		h.broadcast(mustMarshal(wsMessage{Type: msgJobUpdate, Job: &job}))
		for c, lines := range h.logSubs[job.ID] {
			h.deliver(c, mustMarshal(logMessage(job, queue.ReadLogTail(job.Config.LogFile, lines))))
		}
	case domain.JobDeleted:
		for c := range h.logSubs[e.JobID] {
			c.logJob = ""
		}
		delete(h.logSubs, e.JobID)
		h.broadcast(mustMarshal(wsMessage{Type: msgJobDeleted, JobID: e.JobID}))
	}
}

func (h *Hub) subscribeLog(s logSubscription) {
	if _, ok := h.clients[s.client]; !ok {
		return
	}
	h.unsubscribeLog(s.client)
	subs, ok := h.logSubs[s.jobID]
	if !ok {
		subs = make(map[*Client]int)
		h.logSubs[s.jobID] = subs
	}
	subs[s.client] = s.lines
	s.client.logJob = s.jobID
}

func (h *Hub) unsubscribeLog(c *Client) {
	if c.logJob == "" {
		return
	}
	if subs := h.logSubs[c.logJob]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.logSubs, c.logJob)
		}
	}
	c.logJob = ""
}

func (h *Hub) broadcast(data []byte) {
	for c := range h.clients {
		h.deliver(c, data)
	}
}

// deliver queues data for c, dropping the client when it cannot keep up.
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("dropping slow websocket client")
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	h.unsubscribeLog(c)
	delete(h.clients, c)
	close(c.send)
}

// reply hands data to Run for delivery; it gives up once Run has exited.
func (h *Hub) reply(c *Client, data []byte) {
	select {
	case h.direct <- outbound{client: c, data: data}:
	case <-h.done:
	}
}

// ServeWS upgrades the request and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "ip", middleware.GetClientIP(r))
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		c.hub.handleRequest(c, req)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequest runs on the client's read goroutine.
func (h *Hub) handleRequest(c *Client, req wsRequest) {
	switch req.Type {
	case reqLog:
		h.handleLogRequest(c, req)
	case reqCreate:
		h.handleCreate(c, req)
	case reqControl:
		h.handleControl(c, req)
	}
}

func (h *Hub) handleLogRequest(c *Client, req wsRequest) {
	if req.JobID == "" {
		h.reply(c, mustMarshal(wsMessage{Type: msgJobLog, Error: "Job ID required."}))
		return
	}
	lines := req.Lines
	if lines <= 0 {
		lines = defaultTailLines
	}
	job, err := h.jobs.GetJob(req.JobID)
	if err != nil {
		h.reply(c, mustMarshal(wsMessage{Type: msgJobLog, JobID: req.JobID, Error: err.Error()}))
		return
	}

	select {
	case h.subscribe <- logSubscription{client: c, jobID: req.JobID, lines: lines}:
	case <-h.done:
		return
	}
	h.reply(c, mustMarshal(logMessage(job, queue.ReadLogTail(job.Config.LogFile, lines))))
}

func (h *Hub) handleCreate(c *Client, req wsRequest) {
	var sub domain.JobSubmission
	if req.Payload != nil {
		sub = *req.Payload
	}
	cfg, err := middleware.ValidateSubmission(sub)
	if err != nil {
		h.reply(c, mustMarshal(wsMessage{Type: msgJobError, Error: err.Error()}))
		return
	}
	id, err := h.jobs.CreateJob(context.Background(), cfg)
	if err != nil {
		h.reply(c, mustMarshal(wsMessage{Type: msgJobError, Error: err.Error()}))
		return
	}
	h.reply(c, mustMarshal(wsMessage{Type: msgJobCreated, JobID: id}))
}

func (h *Hub) handleControl(c *Client, req wsRequest) {
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if req.JobID == "" {
		h.reply(c, mustMarshal(wsMessage{Type: msgJobError, Action: action, Error: "Invalid job control request."}))
		return
	}

	var err error
	switch action {
	case "pause":
		err = h.jobs.PauseJob(req.JobID)
	case "stop":
		err = h.jobs.StopJob(req.JobID)
	case "resume":
		err = h.jobs.ResumeJob(req.JobID)
	case "delete":
		err = h.jobs.DeleteJob(req.JobID)
	default:
		h.reply(c, mustMarshal(wsMessage{Type: msgJobError, JobID: req.JobID, Action: action, Error: "Invalid job control request."}))
		return
	}
	if err != nil {
		h.reply(c, mustMarshal(wsMessage{Type: msgJobError, JobID: req.JobID, Action: action, Error: err.Error()}))
		return
	}
	h.reply(c, mustMarshal(wsMessage{Type: msgJobControlAck, JobID: req.JobID, Action: action}))
}

func logMessage(job domain.JobView, tail []string) wsMessage {
	text := strings.Join(tail, "\n")
	progress := job.Progress
	return wsMessage{
		Type:     msgJobLog,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: &progress,
		Tail:     tail,
		TailText: &text,
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Only plain structs are marshalled here.
		panic(err)
	}
	return data
}
