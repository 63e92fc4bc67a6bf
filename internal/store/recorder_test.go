package store_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/rockwatch/internal/metrics"
	"github.com/kiranshivaraju/rockwatch/internal/store"
	"github.com/kiranshivaraju/rockwatch/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu   sync.Mutex
	jobs []models.Job
	err  error
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) UpsertJob(_ context.Context, job models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeStore) GetJob(context.Context, string) (models.Job, error) {
	return models.Job{}, store.ErrNotFound
}

func (f *fakeStore) ListJobs(context.Context, store.JobFilter) ([]models.Job, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) written() []models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Job(nil), f.jobs...)
}

type fakeMirror struct {
	mu       sync.Mutex
	statuses map[string]models.JobStatus
	jobs     map[string]models.Job
	err      error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{statuses: map[string]models.JobStatus{}, jobs: map[string]models.Job{}}
}

func (f *fakeMirror) SetJobStatus(_ context.Context, id string, status models.JobStatus, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeMirror) SetJob(_ context.Context, job models.Job, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeMirror) status(id string) (models.JobStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[id]
	return s, ok
}

func runRecorder(t *testing.T, r *store.Recorder) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, r.Run(ctx))
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestRecorder_PersistsAndMirrors(t *testing.T) {
	db := &fakeStore{}
	mirror := newFakeMirror()
	r := store.NewRecorder(db, mirror, store.RecorderOptions{})
	stop := runRecorder(t, r)

	r.ObserveJob(models.Job{ID: "a", Kind: "slope", Status: models.JobStatusPending})
	r.ObserveJob(models.Job{ID: "a", Kind: "slope", Status: models.JobStatusRunning})

	require.Eventually(t, func() bool { return len(db.written()) == 2 }, time.Second, 5*time.Millisecond)
	stop()

	written := db.written()
	assert.Equal(t, models.JobStatusPending, written[0].Status)
	assert.Equal(t, models.JobStatusRunning, written[1].Status)

	status, ok := mirror.status("a")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusRunning, status)
}

func TestRecorder_NilBackends(t *testing.T) {
	r := store.NewRecorder(nil, nil, store.RecorderOptions{})
	stop := runRecorder(t, r)
	r.ObserveJob(models.Job{ID: "a", Status: models.JobStatusPending})
	stop()
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := store.NewRecorder(&fakeStore{}, nil, store.RecorderOptions{Buffer: 1, Metrics: m})

	// Not running, so the second snapshot has nowhere to go.
	r.ObserveJob(models.Job{ID: "a", Status: models.JobStatusPending})
	r.ObserveJob(models.Job{ID: "b", Status: models.JobStatusPending})

	expected := `
# HELP rockwatch_recorder_dropped_total Number of job snapshots dropped because the recorder buffer was full
# TYPE rockwatch_recorder_dropped_total counter
rockwatch_recorder_dropped_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "rockwatch_recorder_dropped_total"))
}

func TestRecorder_FlushesOnShutdown(t *testing.T) {
	db := &fakeStore{}
	r := store.NewRecorder(db, nil, store.RecorderOptions{Buffer: 4})
	for _, id := range []string{"a", "b", "c"} {
		r.ObserveJob(models.Job{ID: id, Status: models.JobStatusCompleted})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	assert.Len(t, db.written(), 3)
}

func TestRecorder_BackendErrorsDoNotStop(t *testing.T) {
	db := &fakeStore{err: errors.New("connection refused")}
	mirror := newFakeMirror()
	mirror.err = errors.New("redis down")
	r := store.NewRecorder(db, mirror, store.RecorderOptions{})
	stop := runRecorder(t, r)

	r.ObserveJob(models.Job{ID: "a", Status: models.JobStatusFailed})

	db.mu.Lock()
	db.err = nil
	db.mu.Unlock()
	r.ObserveJob(models.Job{ID: "b", Status: models.JobStatusCompleted})

	require.Eventually(t, func() bool {
		for _, j := range db.written() {
			if j.ID == "b" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	stop()
}

func TestRecorder_SnapshotIsCopied(t *testing.T) {
	db := &fakeStore{}
	r := store.NewRecorder(db, nil, store.RecorderOptions{})

	job := models.Job{ID: "a", Status: models.JobStatusCompleted, Result: map[string]any{"risk_level": "low"}}
	r.ObserveJob(job)
	job.Result["risk_level"] = "high"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	require.Len(t, db.written(), 1)
	assert.Equal(t, "low", db.written()[0].Result["risk_level"])
}
