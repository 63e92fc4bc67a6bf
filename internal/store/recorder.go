package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/rockwatch/internal/metrics"
	"github.com/kiranshivaraju/rockwatch/pkg/models"
)

// StatusMirror is the slice of the cache the recorder writes job snapshots to.
type StatusMirror interface {
	SetJobStatus(ctx context.Context, jobID string, status models.JobStatus, ttl time.Duration) error
	SetJob(ctx context.Context, job models.Job, ttl time.Duration) error
}

// Recorder persists job snapshots off the notification path. ObserveJob
// never blocks; a full buffer drops the snapshot.
type Recorder struct {
	store   Store
	mirror  StatusMirror
	ch      chan models.Job
	ttl     time.Duration
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type RecorderOptions struct {
	Buffer    int
	StatusTTL time.Duration
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// NewRecorder builds a recorder. Either backend may be nil.
func NewRecorder(s Store, mirror StatusMirror, opts RecorderOptions) *Recorder {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 24 * time.Hour
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recorder{
		store:   s,
		mirror:  mirror,
		ch:      make(chan models.Job, opts.Buffer),
		ttl:     opts.StatusTTL,
		timeout: 5 * time.Second,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// ObserveJob queues a snapshot for persistence.
func (r *Recorder) ObserveJob(job models.Job) {
	select {
	case r.ch <- job.Clone():
	default:
		r.metrics.RecordRecorderDrop()
		r.logger.Warn("recorder buffer full, dropping job snapshot", "job_id", job.ID, "status", job.Status)
	}
}

// Run writes queued snapshots until ctx is done, then flushes what is
// already buffered.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case job := <-r.ch:
			r.record(ctx, job)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case job := <-r.ch:
			r.record(context.Background(), job)
		default:
			return
		}
	}
}

func (r *Recorder) record(parent context.Context, job models.Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	defer cancel()

	if r.store != nil {
		if err := r.store.UpsertJob(ctx, job); err != nil {
			r.metrics.RecordRecorderFailure("postgres")
			r.logger.Error("failed to persist job", "job_id", job.ID, "status", job.Status, "error", err)
		}
	}
	if r.mirror != nil {
		if err := r.mirror.SetJobStatus(ctx, job.ID, job.Status, r.ttl); err != nil {
			r.metrics.RecordRecorderFailure("redis")
			r.logger.Warn("failed to mirror job status", "job_id", job.ID, "error", err)
			return
		}
		if err := r.mirror.SetJob(ctx, job, r.ttl); err != nil {
			r.metrics.RecordRecorderFailure("redis")
			r.logger.Warn("failed to mirror job snapshot", "job_id", job.ID, "error", err)
		}
	}
}
