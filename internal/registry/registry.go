// Package registry holds the authoritative in-memory lifecycle state of
// every analysis job.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rockwatch/pkg/models"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicate         = errors.New("job already registered")
	ErrTerminal          = errors.New("job already in a terminal state")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusCancelled},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to models.JobStatus) bool {
	return slices.Contains(validTransitions[from], to)
}

// entry guards one job. Its lock serializes every transition of that job.
type entry struct {
	mu  sync.Mutex
	job models.Job
}

// Registry is safe for concurrent use. The table lock only guards the map;
// per-job mutations take the job's own lock, so transitions on different
// jobs never contend.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Create registers job in Pending state. An empty ID is replaced with a
// generated one. Returns a snapshot of the stored job.
func (r *Registry) Create(job models.Job) (models.Job, error) {
	job = job.Clone()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = models.JobStatusPending
	job.Result = nil
	job.Error = ""
	job.StartedAt = nil
	job.CompletedAt = nil
	job.SubmittedAt = r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[job.ID]; exists {
		return models.Job{}, fmt.Errorf("%w: %s", ErrDuplicate, job.ID)
	}
	r.entries[job.ID] = &entry{job: job}
	return job.Clone(), nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (models.Job, bool) {
	e := r.lookup(id)
	if e == nil {
		return models.Job{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), true
}

type updateParams struct {
	result map[string]any
	errMsg string
}

// UpdateOption sets optional fields on a transition.
type UpdateOption func(*updateParams)

// WithResult attaches the result payload. Only honored for Completed.
func WithResult(result map[string]any) UpdateOption {
	return func(p *updateParams) {
		p.result = result
	}
}

// WithError attaches the failure reason. Only honored for Failed.
func WithError(msg string) UpdateOption {
	return func(p *updateParams) {
		p.errMsg = msg
	}
}

// Update moves job id to status. Returns ErrNotFound for unknown jobs,
// ErrTerminal when the job has already finished (late completions after a
// cancel land here), and ErrInvalidTransition for any other illegal edge.
func (r *Registry) Update(id string, status models.JobStatus, opts ...UpdateOption) (models.Job, error) {
	e := r.lookup(id)
	if e == nil {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	params := &updateParams{}
	for _, opt := range opts {
		opt(params)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.job.Status
	if current.IsTerminal() {
		return e.job.Clone(), fmt.Errorf("%w: %s is %s", ErrTerminal, id, current)
	}
	if !CanTransition(current, status) {
		return e.job.Clone(), fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	now := r.now().UTC()
	switch status {
	case models.JobStatusRunning:
		t := notBefore(now, e.job.SubmittedAt)
		e.job.StartedAt = &t
	case models.JobStatusCompleted:
		e.job.Result = params.result
		if e.job.Result == nil {
			e.job.Result = map[string]any{}
		}
		e.job.CompletedAt = finishedAt(e.job, now)
	case models.JobStatusFailed:
		e.job.Error = params.errMsg
		if e.job.Error == "" {
			e.job.Error = "analysis failed"
		}
		e.job.CompletedAt = finishedAt(e.job, now)
	case models.JobStatusCancelled:
		e.job.CompletedAt = finishedAt(e.job, now)
	}
	e.job.Status = status

	return e.job.Clone(), nil
}

// Cancel moves a Pending or Running job to Cancelled. It returns false for
// unknown jobs and jobs that already reached a terminal state.
func (r *Registry) Cancel(id string) (models.Job, bool) {
	job, err := r.Update(id, models.JobStatusCancelled)
	if err != nil {
		return models.Job{}, false
	}
	return job, true
}

// List returns snapshots ordered by submission time. An empty status
// returns every job.
func (r *Registry) List(status models.JobStatus) []models.Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	jobs := make([]models.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if status == "" || e.job.Status == status {
			jobs = append(jobs, e.job.Clone())
		}
		e.mu.Unlock()
	}

	slices.SortFunc(jobs, func(a, b models.Job) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return jobs
}

// Counts returns the number of jobs per status.
func (r *Registry) Counts() map[models.JobStatus]int {
	counts := make(map[models.JobStatus]int)
	for _, job := range r.List("") {
		counts[job.Status]++
	}
	return counts
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// notBefore keeps lifecycle timestamps ordered even if the wall clock steps back.
func notBefore(t, ref time.Time) time.Time {
	if t.Before(ref) {
		return ref
	}
	return t
}

func finishedAt(job models.Job, now time.Time) *time.Time {
	ref := job.SubmittedAt
	if job.StartedAt != nil {
		ref = *job.StartedAt
	}
	t := notBefore(now, ref)
	return &t
}
