// Package control provides the cooperative cancellation token of a job run.
package control

import (
	"sync"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

// Control holds a set-once interruption reason. The first request wins; later
// requests are ignored. A Control is created per run and discarded afterwards.
type Control struct {
	mu     sync.Mutex
	reason domain.Reason
	done   chan struct{}
}

// New returns a Control with no pending reason.
func New() *Control {
	return &Control{done: make(chan struct{})}
}

// RequestPause asks the run to pause at its next check point.
func (c *Control) RequestPause() { c.request(domain.ReasonPaused) }

// RequestStop asks the run to stop at its next check point.
func (c *Control) RequestStop() { c.request(domain.ReasonStopped) }

func (c *Control) request(r domain.Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason != "" {
		return
	}
	c.reason = r
	close(c.done)
}

// Pending returns the requested reason, if any.
func (c *Control) Pending() (domain.Reason, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.reason != ""
}

// Done is closed once a reason has been set.
func (c *Control) Done() <-chan struct{} {
	return c.done
}

// Check returns an InterruptedError when a reason is pending.
func (c *Control) Check() error {
	if r, ok := c.Pending(); ok {
		return &domain.InterruptedError{Reason: r}
	}
	return nil
}
