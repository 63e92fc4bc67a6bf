package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/rockwatch/internal/executor"
	"github.com/kiranshivaraju/rockwatch/internal/registry"
	"github.com/kiranshivaraju/rockwatch/pkg/models"
)

// consume is the single dequeue loop. It only pulls the next id once a
// worker slot is free under the current budget, so over-budget work stays
// Pending in the queue.
func (o *Orchestrator) consume(ctx context.Context) error {
	for {
		if err := o.waitForSlot(ctx); err != nil {
			return nil
		}
		id, err := o.queue.Next(ctx)
		if err != nil {
			return nil
		}
		o.metrics.SetQueueDepth(o.queue.Len())
		o.dispatch(ctx, id)
	}
}

func (o *Orchestrator) waitForSlot(ctx context.Context) error {
	var recheck *time.Ticker
	for o.Running() >= o.governor.EffectiveWorkers() {
		if recheck == nil {
			recheck = time.NewTicker(o.opts.RecheckInterval)
			defer recheck.Stop()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.slotFreed:
		case <-recheck.C:
		}
	}
	return nil
}

// wakeConsumer nudges a consume loop blocked on the budget.
func (o *Orchestrator) wakeConsumer() {
	select {
	case o.slotFreed <- struct{}{}:
	default:
	}
}

// dispatch moves a dequeued job to Running and starts its execution. Jobs
// cancelled while queued are dropped here and never executed.
func (o *Orchestrator) dispatch(ctx context.Context, id string) {
	job, ok := o.registry.Get(id)
	if !ok {
		o.logger.Warn("dequeued unknown job", "job_id", id)
		return
	}
	if job.Status != models.JobStatusPending {
		o.logger.Debug("skipping dequeued job", "job_id", id, "status", job.Status)
		return
	}

	// The cancel func is registered before the Running transition so a
	// concurrent Cancel always finds it once the job is Running.
	execCtx, cancel := context.WithCancel(ctx)
	o.trackCancel(id, cancel)

	job, err := o.transition(id, func() (models.Job, error) {
		return o.registry.Update(id, models.JobStatusRunning)
	})
	if err != nil {
		o.untrackCancel(id)
		cancel()
		o.logger.Debug("job not started", "job_id", id, "error", err)
		return
	}

	o.active.Add(1)
	o.metrics.SetRunning(o.Running())
	o.workers.Add(1)
	go o.execute(execCtx, job)
}

// execute runs one job to a terminal state. It recovers from panics and
// always marks the job as completed or failed unless it was cancelled.
func (o *Orchestrator) execute(ctx context.Context, job models.Job) {
	defer func() {
		o.untrackCancel(job.ID)
		o.active.Add(-1)
		o.metrics.SetRunning(o.Running())
		o.wakeConsumer()
		o.workers.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in analysis execution", "error", r, "job_id", job.ID)
			o.fail(job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	timeout := o.exec.Timeout(job.Kind, o.opts.AnalysisTimeout)
	start := time.Now()
	res, err := o.exec.Execute(ctx, executor.Request{
		JobID:           job.ID,
		Kind:            job.Kind,
		Parameters:      job.Parameters,
		InputReferences: job.InputReferences,
		Timeout:         timeout,
	})
	if err != nil {
		o.logger.Warn("analysis failed", "job_id", job.ID, "kind", job.Kind,
			"duration", time.Since(start), "error", err)
		o.fail(job.ID, failureReason(err))
		return
	}

	o.complete(job.ID, res.Payload)
	o.logger.Info("analysis completed", "job_id", job.ID, "kind", job.Kind, "duration", time.Since(start))
}

func (o *Orchestrator) complete(id string, payload map[string]any) {
	_, err := o.transition(id, func() (models.Job, error) {
		return o.registry.Update(id, models.JobStatusCompleted, registry.WithResult(payload))
	})
	o.logRejected(id, models.JobStatusCompleted, err)
}

func (o *Orchestrator) fail(id, reason string) {
	_, err := o.transition(id, func() (models.Job, error) {
		return o.registry.Update(id, models.JobStatusFailed, registry.WithError(reason))
	})
	o.logRejected(id, models.JobStatusFailed, err)
}

// logRejected records a terminal report that lost the race against another
// terminal transition, typically a cancel.
func (o *Orchestrator) logRejected(id string, status models.JobStatus, err error) {
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrTerminal):
		o.logger.Debug("discarding late result", "job_id", id, "status", status, "error", err)
	default:
		o.logger.Error("failed to record job result", "job_id", id, "status", status, "error", err)
	}
}

func failureReason(err error) string {
	var execErr *executor.ExecError
	if errors.As(err, &execErr) && execErr.CommandLog.Stderr != "" {
		return fmt.Sprintf("%v: %s", err, lastLine(execErr.CommandLog.Stderr))
	}
	return err.Error()
}

// lastLine returns the last non-empty line of s, which for a failed notebook
// is usually the exception.
func lastLine(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == '\n' || s[end-1] == '\r' || s[end-1] == ' ') {
		end--
	}
	start := end
	for start > 0 && s[start-1] != '\n' {
		start--
	}
	return s[start:end]
}

func (o *Orchestrator) trackCancel(id string, cancel context.CancelFunc) {
	o.cancelsMu.Lock()
	defer o.cancelsMu.Unlock()
	o.cancels[id] = cancel
}

func (o *Orchestrator) untrackCancel(id string) {
	o.cancelsMu.Lock()
	cancel, ok := o.cancels[id]
	delete(o.cancels, id)
	o.cancelsMu.Unlock()
	if ok {
		cancel()
	}
}
