package domain

import "encoding/json"

// EventKind names a listener notification.
type EventKind string

const (
	EventJobUpdate  EventKind = "job_update"
	EventJobDeleted EventKind = "job_deleted"
)

// Event is a job store notification. Concrete kinds are JobUpdated and
// JobDeleted.
type Event interface {
	Kind() EventKind
	isEvent()
}

// JobUpdated carries the full view of a job after a mutation.
type JobUpdated struct {
	Job JobView
}

func (JobUpdated) Kind() EventKind { return EventJobUpdate }
func (JobUpdated) isEvent()        {}

func (e JobUpdated) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event EventKind `json:"event"`
		Job   JobView   `json:"job"`
	}{e.Kind(), e.Job})
}

// JobDeleted is emitted once a job leaves the store.
type JobDeleted struct {
	JobID string
}

func (JobDeleted) Kind() EventKind { return EventJobDeleted }
func (JobDeleted) isEvent()        {}

func (e JobDeleted) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event EventKind `json:"event"`
		JobID string    `json:"job_id"`
	}{e.Kind(), e.JobID})
}
