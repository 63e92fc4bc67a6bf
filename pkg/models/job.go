// Package models contains shared data models used across the Rockwatch codebase.
package models

import (
	"maps"
	"slices"
	"time"
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one analysis execution request. Clients submit it, poll it via
// GET /api/v1/analyses/{job_id}, or watch job_update events on /ws/updates.
type Job struct {
	ID              string         `db:"id"               json:"id"`
	Kind            string         `db:"kind"             json:"kind"`
	Room            string         `db:"room"             json:"room,omitempty"`
	Parameters      map[string]any `db:"parameters"       json:"parameters"`
	InputReferences []string       `db:"input_references" json:"input_references"`
	Status          JobStatus      `db:"status"           json:"status"`
	Result          map[string]any `db:"result"           json:"result,omitempty"`
	Error           string         `db:"error_message"    json:"error,omitempty"`
	SubmittedAt     time.Time      `db:"submitted_at"     json:"submitted_at"`
	StartedAt       *time.Time     `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt     *time.Time     `db:"completed_at"     json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no mutable state with j.
// Nested values inside Parameters and Result are treated as read-only.
func (j Job) Clone() Job {
	out := j
	out.Parameters = maps.Clone(j.Parameters)
	out.Result = maps.Clone(j.Result)
	out.InputReferences = slices.Clone(j.InputReferences)
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
