package worker

import "time"

// EventType identifies the kind of worker event
type EventType string

const (
	EventProgress      EventType = "progress"
	EventError         EventType = "error"
	EventLoginRequired EventType = "login_required"
	EventJobStarted    EventType = "job_started"
	EventJobSucceeded  EventType = "job_succeeded"
	EventJobFailed     EventType = "job_failed"
	EventQueueFinished EventType = "queue_finished"
)

// Event is a one-way notification from a worker to its consumers.
// Events for a given job are emitted in the order they occur and are never
// coalesced; EventQueueFinished is always the last event of a run.
type Event struct {
	Type      EventType `json:"type"`
	Worker    string    `json:"worker"`
	JobID     string    `json:"job_id,omitempty"`
	Context   string    `json:"context,omitempty"` // Error context, e.g. the failing operation
	Message   string    `json:"message,omitempty"`
	ResultRef string    `json:"result_ref,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
