package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kiranshivaraju/rockwatch/internal/config"
)

type route struct {
	exec    Executor
	timeout time.Duration
}

// Dispatcher routes a Request to the Executor registered for its kind and
// enforces the request timeout.
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[string]route
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[string]route)}
}

// NewNotebookDispatcher builds a Dispatcher with one NotebookExecutor per
// catalog entry. Called once at server startup.
func NewNotebookDispatcher(kinds []config.KindDefinition, cfg config.ExecutorConfig) (*Dispatcher, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no analysis kinds configured")
	}
	d := NewDispatcher()
	for _, kd := range kinds {
		d.Register(kd.Kind, NewNotebookExecutor(kd.Notebook, cfg), kd.Timeout)
	}
	return d, nil
}

// Register binds kind to exec. A positive timeout caps runs of this kind
// below the system-wide maximum. Registering the same kind again replaces it.
func (d *Dispatcher) Register(kind string, exec Executor, timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[kind] = route{exec: exec, timeout: timeout}
}

// Supports reports whether kind has a registered executor.
func (d *Dispatcher) Supports(kind string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (d *Dispatcher) Kinds() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	kinds := make([]string, 0, len(d.routes))
	for k := range d.routes {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Timeout returns the effective timeout for kind: the kind's own limit when
// it is set and tighter than ceiling, otherwise ceiling.
func (d *Dispatcher) Timeout(kind string, ceiling time.Duration) time.Duration {
	d.mu.RLock()
	r, ok := d.routes[kind]
	d.mu.RUnlock()
	if !ok || r.timeout <= 0 {
		return ceiling
	}
	if ceiling > 0 && r.timeout > ceiling {
		return ceiling
	}
	return r.timeout
}

// Execute runs req on the executor registered for req.Kind. A run that
// outlives req.Timeout fails with ErrTimeout.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (Result, error) {
	d.mu.RLock()
	r, ok := d.routes[req.Kind]
	d.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	res, err := r.exec.Execute(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			return Result{}, fmt.Errorf("%w after %s: %w", ErrTimeout, req.Timeout, err)
		}
		return Result{}, err
	}
	if res.Payload == nil {
		res.Payload = map[string]any{}
	}
	return res, nil
}

var _ Executor = (*Dispatcher)(nil)
