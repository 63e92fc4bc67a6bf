// Package orchestrator composes the submission queue, job registry,
// concurrency governor, executor and notification hub into the analysis
// service. Every job transition is written to the registry and announced on
// the hub.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rockwatch/internal/executor"
	"github.com/kiranshivaraju/rockwatch/internal/hub"
	"github.com/kiranshivaraju/rockwatch/internal/metrics"
	"github.com/kiranshivaraju/rockwatch/internal/queue"
	"github.com/kiranshivaraju/rockwatch/internal/registry"
	"github.com/kiranshivaraju/rockwatch/internal/resource"
	"github.com/kiranshivaraju/rockwatch/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidID is returned by Submit for a caller-chosen id outside
// [A-Za-z0-9_-]{1,128}.
var ErrInvalidID = errors.New("invalid job id")

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Executor runs analyses and knows which kinds it can serve.
// *executor.Dispatcher implements it.
type Executor interface {
	executor.Executor
	Supports(kind string) bool
	Timeout(kind string, ceiling time.Duration) time.Duration
}

// JobObserver is told about every job transition. ObserveJob must not block.
type JobObserver interface {
	ObserveJob(job models.Job)
}

// Options tunes the orchestrator. Zero durations fall back to defaults.
type Options struct {
	// AnalysisTimeout is the system-wide ceiling for one run.
	AnalysisTimeout time.Duration
	MaxIdle         time.Duration
	PruneInterval   time.Duration
	PingInterval    time.Duration
	// RecheckInterval bounds how long the consume loop waits before
	// re-reading the worker budget when no slot has been released.
	RecheckInterval time.Duration
	// UpdateTimeout bounds one job_update fan-out. Peers that miss it are
	// dropped.
	UpdateTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.AnalysisTimeout <= 0 {
		o.AnalysisTimeout = time.Hour
	}
	if o.MaxIdle <= 0 {
		o.MaxIdle = 5 * time.Minute
	}
	if o.PruneInterval <= 0 {
		o.PruneInterval = time.Minute
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.RecheckInterval <= 0 {
		o.RecheckInterval = time.Second
	}
	if o.UpdateTimeout <= 0 {
		o.UpdateTimeout = 2 * time.Second
	}
}

// Deps are the collaborators the orchestrator drives. Monitor, Metrics and
// Observers are optional.
type Deps struct {
	Executor  Executor
	Hub       *hub.Hub
	Governor  *resource.Governor
	Monitor   *resource.Monitor
	Metrics   *metrics.Metrics
	Observers []JobObserver
	Logger    *slog.Logger
}

// SubmitRequest describes a new analysis.
type SubmitRequest struct {
	// ID is optional; one is generated when empty.
	ID              string
	Kind            string
	Parameters      map[string]any
	InputReferences []string
	// Room scopes the job's notifications. Empty broadcasts globally.
	Room string
}

type Orchestrator struct {
	queue    *queue.Queue
	registry *registry.Registry
	exec     Executor
	hub      *hub.Hub
	governor *resource.Governor
	monitor  *resource.Monitor
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
	now      func() time.Time

	observersMu sync.RWMutex
	observers   []JobObserver

	// jobLocks serializes registry update + emit per job so observers see
	// each job's events in transition order.
	jobLocks sync.Map

	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc

	active    atomic.Int32
	slotFreed chan struct{}
	workers   sync.WaitGroup
}

// New wires an Orchestrator. When a Monitor is given, every sample feeds
// the Governor.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if deps.Governor == nil {
		return nil, fmt.Errorf("governor is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	opts.setDefaults()

	o := &Orchestrator{
		queue:     queue.New(),
		registry:  registry.New(),
		exec:      deps.Executor,
		hub:       deps.Hub,
		governor:  deps.Governor,
		monitor:   deps.Monitor,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		opts:      opts,
		now:       time.Now,
		observers: deps.Observers,
		cancels:   make(map[string]context.CancelFunc),
		slotFreed: make(chan struct{}, 1),
	}

	if o.monitor != nil {
		o.monitor.OnSample(func(s resource.Sample) {
			budget := o.governor.Observe(s)
			o.metrics.SetHostUtilization(s.CPUPercent, s.MemoryPercent)
			o.metrics.SetEffectiveWorkers(budget)
			o.wakeConsumer()
		})
	}
	o.metrics.SetEffectiveWorkers(o.governor.EffectiveWorkers())
	return o, nil
}

// AddObserver registers an additional transition observer.
func (o *Orchestrator) AddObserver(obs JobObserver) {
	o.observersMu.Lock()
	defer o.observersMu.Unlock()
	o.observers = append(o.observers, obs)
}

// Submit registers a new Pending job, announces it and enqueues it.
func (o *Orchestrator) Submit(req SubmitRequest) (models.Job, error) {
	if req.Kind == "" {
		return models.Job{}, fmt.Errorf("%w: kind is required", executor.ErrUnknownKind)
	}
	if !o.exec.Supports(req.Kind) {
		return models.Job{}, fmt.Errorf("%w: %q", executor.ErrUnknownKind, req.Kind)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if !jobIDPattern.MatchString(req.ID) {
		return models.Job{}, fmt.Errorf("%w: %q", ErrInvalidID, req.ID)
	}
	job, err := o.transition(req.ID, func() (models.Job, error) {
		return o.registry.Create(models.Job{
			ID:              req.ID,
			Kind:            req.Kind,
			Room:            req.Room,
			Parameters:      req.Parameters,
			InputReferences: req.InputReferences,
		})
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("registering job: %w", err)
	}

	o.metrics.RecordSubmitted(job.Kind)
	o.queue.Submit(job.ID)
	o.metrics.SetQueueDepth(o.queue.Len())

	o.logger.Info("analysis submitted", "job_id", job.ID, "kind", job.Kind, "room", job.Room)
	return job, nil
}

// Cancel moves a Pending or Running job to Cancelled. A running execution is
// interrupted on a best-effort basis. Returns false for unknown or finished
// jobs.
func (o *Orchestrator) Cancel(id string) bool {
	job, err := o.transition(id, func() (models.Job, error) {
		job, ok := o.registry.Cancel(id)
		if !ok {
			return models.Job{}, registry.ErrNotFound
		}
		return job, nil
	})
	if err != nil {
		return false
	}

	o.cancelsMu.Lock()
	cancel, running := o.cancels[id]
	o.cancelsMu.Unlock()
	if running {
		cancel()
	}

	o.logger.Info("analysis cancelled", "job_id", id, "was_running", running, "kind", job.Kind)
	return true
}

// GetStatus returns a snapshot of the job.
func (o *Orchestrator) GetStatus(id string) (models.Job, bool) {
	return o.registry.Get(id)
}

// List returns jobs ordered by submission time. An empty status lists all.
func (o *Orchestrator) List(status models.JobStatus) []models.Job {
	return o.registry.List(status)
}

// Running returns the number of executions in flight.
func (o *Orchestrator) Running() int {
	return int(o.active.Load())
}

// QueueDepth returns the number of job ids waiting to be dequeued.
func (o *Orchestrator) QueueDepth() int {
	return o.queue.Len()
}

// Kinds lists the analysis kinds accepted by Submit.
func (o *Orchestrator) Kinds() []string {
	if k, ok := o.exec.(interface{ Kinds() []string }); ok {
		return k.Kinds()
	}
	return nil
}

// transition runs update under the job's emit lock and announces the
// resulting snapshot. Rejected updates emit nothing.
func (o *Orchestrator) transition(id string, update func() (models.Job, error)) (models.Job, error) {
	v, _ := o.jobLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	job, err := update()
	if err != nil {
		if cur, ok := o.registry.Get(id); !ok || cur.Status.IsTerminal() {
			o.jobLocks.Delete(id)
		}
		return job, err
	}
	o.emit(job)
	if job.Status.IsTerminal() {
		o.jobLocks.Delete(id)
	}
	return job, nil
}

// emit notifies the hub, the observers and the metrics of a job snapshot.
func (o *Orchestrator) emit(job models.Job) {
	o.metrics.RecordTransition(string(job.Status))
	if job.Status.IsTerminal() && job.StartedAt != nil && job.CompletedAt != nil {
		o.metrics.ObserveDuration(job.Kind, string(job.Status), job.CompletedAt.Sub(*job.StartedAt).Seconds())
	}

	event := models.NewJobUpdate(job, o.now())
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.UpdateTimeout)
	defer cancel()
	var d hub.Delivery
	if job.Room != "" {
		d = o.hub.BroadcastToRoom(ctx, job.Room, event, "")
	} else {
		d = o.hub.Broadcast(ctx, event, "")
	}
	if d.Failed > 0 {
		o.metrics.AddDeliveryFailures(d.Failed)
	}

	o.observersMu.RLock()
	observers := o.observers
	o.observersMu.RUnlock()
	for _, obs := range observers {
		obs.ObserveJob(job)
	}
}

// Run drives the background loops until ctx is cancelled, then waits for
// in-flight executions to wind down.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if o.monitor != nil {
		g.Go(func() error { return o.monitor.Run(gctx) })
	}
	g.Go(func() error { return o.consume(gctx) })
	g.Go(func() error {
		runEvery(gctx, o.logger, "prune", o.opts.PruneInterval, o.prune)
		return nil
	})
	g.Go(func() error {
		runEvery(gctx, o.logger, "heartbeat", o.opts.PingInterval, o.heartbeat)
		return nil
	})

	err := g.Wait()
	o.workers.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (o *Orchestrator) prune(context.Context) {
	if pruned := o.hub.PruneInactive(o.opts.MaxIdle); len(pruned) > 0 {
		o.logger.Info("pruned inactive connections", "count", len(pruned))
	}
	o.metrics.SetConnections(o.hub.ConnectionCount())
}

func (o *Orchestrator) heartbeat(ctx context.Context) {
	now := o.now()
	d := o.hub.Broadcast(ctx, models.NewPing(now), "")
	d2 := o.hub.Broadcast(ctx, models.NewSystemStatus(o.SystemStatus(), now), "")
	if failed := d.Failed + d2.Failed; failed > 0 {
		o.metrics.AddDeliveryFailures(failed)
	}
	o.metrics.SetConnections(o.hub.ConnectionCount())
}

// SystemStatus summarizes connections, rooms, workers and jobs.
func (o *Orchestrator) SystemStatus() map[string]any {
	jobs := make(map[string]any)
	for status, n := range o.registry.Counts() {
		jobs[string(status)] = n
	}

	status := map[string]any{
		"active_connections": o.hub.ConnectionCount(),
		"rooms":              o.hub.Rooms(),
		"workers": map[string]any{
			"effective": o.governor.EffectiveWorkers(),
			"max":       o.governor.Max(),
			"running":   o.Running(),
		},
		"queue_depth": o.queue.Len(),
		"jobs":        jobs,
	}
	if o.monitor != nil {
		if s, ok := o.monitor.Latest(); ok {
			status["resources"] = map[string]any{
				"cpu_percent":    s.CPUPercent,
				"memory_percent": s.MemoryPercent,
				"sampled_at":     s.TakenAt,
			}
		}
	}
	return status
}

// runEvery calls fn every interval until ctx is done. A panicking iteration
// is logged and the loop continues.
func runEvery(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("panic in background loop", "loop", name, "error", r)
					}
				}()
				fn(ctx)
			}()
		}
	}
}
