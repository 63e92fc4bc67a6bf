package models

import "time"

// EventType classifies notification messages pushed to observers.
type EventType string

const (
	EventTypeJobUpdate    EventType = "job_update"
	EventTypePing         EventType = "ping"
	EventTypePong         EventType = "pong"
	EventTypeSystemStatus EventType = "system_status"
)

// Event is an immutable notification broadcast to connections.
// Build one per message and never mutate it after handing it to the hub.
type Event struct {
	Type      EventType      `json:"type"`
	JobID     string         `json:"job_id,omitempty"`
	Status    JobStatus      `json:"status,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewJobUpdate builds the job_update event for the current state of job.
func NewJobUpdate(job Job, at time.Time) Event {
	ev := Event{
		Type:      EventTypeJobUpdate,
		JobID:     job.ID,
		Status:    job.Status,
		Timestamp: at.UTC(),
	}
	switch job.Status {
	case JobStatusCompleted:
		ev.Result = job.Result
	case JobStatusFailed:
		ev.Error = job.Error
	}
	return ev
}

// NewPing builds a keepalive event.
func NewPing(at time.Time) Event {
	return Event{Type: EventTypePing, Timestamp: at.UTC()}
}

// NewPong builds the reply to a client frame.
func NewPong(at time.Time) Event {
	return Event{Type: EventTypePong, Timestamp: at.UTC()}
}

// NewSystemStatus builds a system_status event carrying payload.
func NewSystemStatus(payload map[string]any, at time.Time) Event {
	return Event{Type: EventTypeSystemStatus, Payload: payload, Timestamp: at.UTC()}
}
