package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNoVideosFound     = errors.New("no videos found")
	ErrInvalidState      = errors.New("invalid job state")
	ErrJobNotFound       = errors.New("job not found")
	ErrTransferCancelled = errors.New("transfer cancelled")
	ErrInvalidConfig     = errors.New("invalid job config")
	ErrWatchNotFound     = errors.New("watch entry not found")
	ErrInvalidWatch      = errors.New("invalid watch entry")
)

// ResolutionError means no job could be created for a request.
type ResolutionError struct {
	Target string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("resolve tasks: %v", e.Err)
	}
	return fmt.Sprintf("resolve tasks for %s: %v", e.Target, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// InvalidStateError is returned when a control action does not apply to the
// job's current status.
type InvalidStateError struct {
	JobID  string
	Action string
	Status JobStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s job %s while %s", e.Action, e.JobID, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// Reason is a cooperative cancellation reason.
type Reason string

const (
	ReasonPaused  Reason = "paused"
	ReasonStopped Reason = "stopped"
)

// Status maps the reason onto the job status it leads to.
func (r Reason) Status() JobStatus {
	if r == ReasonPaused {
		return JobStatusPaused
	}
	return JobStatusStopped
}

// InterruptedError unwinds a run after a pause or stop request.
type InterruptedError struct {
	Reason Reason
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("job interrupted: %s", e.Reason)
}

// PersistenceError wraps a failed read or write of the job table.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
