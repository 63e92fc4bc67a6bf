package registry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/rockwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id string) models.Job {
	return models.Job{
		ID:              id,
		Kind:            "sensorA",
		Parameters:      map[string]any{"threshold": 0.5},
		InputReferences: []string{"uploads/a.csv", "uploads/b.csv"},
	}
}

func TestCreate_SetsPendingAndTimestamps(t *testing.T) {
	r := New()
	job, err := r.Create(newJob("j1"))
	require.NoError(t, err)

	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.False(t, job.SubmittedAt.IsZero())
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.Nil(t, job.Result)
	assert.Empty(t, job.Error)
}

func TestCreate_AssignsID(t *testing.T) {
	r := New()
	job, err := r.Create(newJob(""))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	got, ok := r.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, job.ID, got.ID)
}

func TestCreate_Duplicate(t *testing.T) {
	r := New()
	_, err := r.Create(newJob("j1"))
	require.NoError(t, err)

	_, err = r.Create(newJob("j1"))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCreate_DoesNotAliasCallerSlices(t *testing.T) {
	r := New()
	in := newJob("j1")
	_, err := r.Create(in)
	require.NoError(t, err)

	in.InputReferences[0] = "tampered"
	in.Parameters["threshold"] = 9.9

	got, _ := r.Get("j1")
	assert.Equal(t, "uploads/a.csv", got.InputReferences[0])
	assert.Equal(t, 0.5, got.Parameters["threshold"])
}

func TestGet_Unknown(t *testing.T) {
	_, ok := New().Get("missing")
	assert.False(t, ok)
}

func TestUpdate_HappyPathCompleted(t *testing.T) {
	r := New()
	_, err := r.Create(newJob("j1"))
	require.NoError(t, err)

	running, err := r.Update("j1", models.JobStatusRunning)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	assert.False(t, running.StartedAt.Before(running.SubmittedAt))

	done, err := r.Update("j1", models.JobStatusCompleted, WithResult(map[string]any{"risk": "low"}))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, "low", done.Result["risk"])
	assert.Empty(t, done.Error)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.CompletedAt.Before(*done.StartedAt))
}

func TestUpdate_Failed(t *testing.T) {
	r := New()
	_, _ = r.Create(newJob("j1"))
	_, _ = r.Update("j1", models.JobStatusRunning)

	failed, err := r.Update("j1", models.JobStatusFailed,
		WithError("exit status 1"), WithResult(map[string]any{"ignored": true}))
	require.NoError(t, err)
	assert.Equal(t, "exit status 1", failed.Error)
	assert.Nil(t, failed.Result, "result and error are mutually exclusive")
}

func TestUpdate_InvalidEdges(t *testing.T) {
	cases := []struct {
		name string
		prep []models.JobStatus
		to   models.JobStatus
		err  error
	}{
		{"pending to completed", nil, models.JobStatusCompleted, ErrInvalidTransition},
		{"pending to failed", nil, models.JobStatusFailed, ErrInvalidTransition},
		{"pending to pending", nil, models.JobStatusPending, ErrInvalidTransition},
		{"running to running", []models.JobStatus{models.JobStatusRunning}, models.JobStatusRunning, ErrInvalidTransition},
		{"running to pending", []models.JobStatus{models.JobStatusRunning}, models.JobStatusPending, ErrInvalidTransition},
		{"completed is sticky", []models.JobStatus{models.JobStatusRunning, models.JobStatusCompleted}, models.JobStatusFailed, ErrTerminal},
		{"failed is sticky", []models.JobStatus{models.JobStatusRunning, models.JobStatusFailed}, models.JobStatusCancelled, ErrTerminal},
		{"cancelled is sticky", []models.JobStatus{models.JobStatusCancelled}, models.JobStatusRunning, ErrTerminal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			_, _ = r.Create(newJob("j1"))
			for _, s := range tc.prep {
				_, err := r.Update("j1", s)
				require.NoError(t, err)
			}
			before, _ := r.Get("j1")

			_, err := r.Update("j1", tc.to)
			assert.ErrorIs(t, err, tc.err)

			after, _ := r.Get("j1")
			assert.Equal(t, before.Status, after.Status)
		})
	}
}

func TestUpdate_Unknown(t *testing.T) {
	_, err := New().Update("missing", models.JobStatusRunning)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel(t *testing.T) {
	r := New()
	_, _ = r.Create(newJob("pending"))
	_, _ = r.Create(newJob("running"))
	_, _ = r.Update("running", models.JobStatusRunning)

	job, ok := r.Cancel("pending")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)

	_, ok = r.Cancel("running")
	assert.True(t, ok)

	_, ok = r.Cancel("pending")
	assert.False(t, ok, "already terminal")

	_, ok = r.Cancel("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len(), "cancelling an unknown job has no side effects")
}

func TestCancel_LateCompletionRejected(t *testing.T) {
	r := New()
	_, _ = r.Create(newJob("j1"))
	_, _ = r.Update("j1", models.JobStatusRunning)
	_, ok := r.Cancel("j1")
	require.True(t, ok)

	_, err := r.Update("j1", models.JobStatusCompleted, WithResult(map[string]any{"late": true}))
	assert.ErrorIs(t, err, ErrTerminal)

	got, _ := r.Get("j1")
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Nil(t, got.Result)
}

func TestUpdate_ConcurrentTerminalRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := New()
		_, _ = r.Create(newJob("j1"))
		_, _ = r.Update("j1", models.JobStatusRunning)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for _, to := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled} {
			wg.Add(1)
			go func(to models.JobStatus) {
				defer wg.Done()
				if _, err := r.Update("j1", to); err == nil {
					wins.Add(1)
				}
			}(to)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load(), "exactly one terminal transition wins")
	}
}

func TestList_FilterAndOrder(t *testing.T) {
	r := New()
	clock := time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Create(newJob(id))
		require.NoError(t, err)
	}
	_, _ = r.Update("a", models.JobStatusRunning)

	all := r.List("")
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})

	running := r.List(models.JobStatusRunning)
	require.Len(t, running, 1)
	assert.Equal(t, "a", running[0].ID)

	counts := r.Counts()
	assert.Equal(t, 2, counts[models.JobStatusPending])
	assert.Equal(t, 1, counts[models.JobStatusRunning])
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.JobStatusPending, models.JobStatusRunning))
	assert.True(t, CanTransition(models.JobStatusPending, models.JobStatusCancelled))
	assert.True(t, CanTransition(models.JobStatusRunning, models.JobStatusFailed))
	assert.False(t, CanTransition(models.JobStatusCompleted, models.JobStatusRunning))
	assert.False(t, CanTransition(models.JobStatusCancelled, models.JobStatusCancelled))
}
