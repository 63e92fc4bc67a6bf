package mock

import (
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/rockwatch/internal/executor"
)

// MockExecutor satisfies executor.Executor for testing.
type MockExecutor struct {
	ExecuteFunc func(ctx context.Context, req executor.Request) (executor.Result, error)

	calls atomic.Int64
}

func (m *MockExecutor) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	m.calls.Add(1)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, req)
	}
	return executor.Result{Payload: map[string]any{}}, nil
}

// Calls returns how many times Execute was invoked.
func (m *MockExecutor) Calls() int {
	return int(m.calls.Load())
}

// NewMockExecutor returns a MockExecutor that succeeds with a payload echoing
// the request.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		ExecuteFunc: func(_ context.Context, req executor.Request) (executor.Result, error) {
			return executor.Result{Payload: map[string]any{
				"analysis_id": req.JobID,
				"kind":        req.Kind,
				"risk_level":  "low",
			}}, nil
		},
	}
}

// NewFailingExecutor returns a MockExecutor that always returns the given error.
func NewFailingExecutor(err error) *MockExecutor {
	return &MockExecutor{
		ExecuteFunc: func(_ context.Context, _ executor.Request) (executor.Result, error) {
			return executor.Result{}, err
		},
	}
}

// NewBlockingExecutor returns a MockExecutor that blocks until ctx is done.
func NewBlockingExecutor() *MockExecutor {
	return &MockExecutor{
		ExecuteFunc: func(ctx context.Context, _ executor.Request) (executor.Result, error) {
			<-ctx.Done()
			return executor.Result{}, ctx.Err()
		},
	}
}

// NewGatedExecutor returns a MockExecutor whose runs block until release is
// closed or receives a value. started receives the job id of every run as it
// begins; it may be nil.
func NewGatedExecutor(started chan<- string, release <-chan struct{}) *MockExecutor {
	return &MockExecutor{
		ExecuteFunc: func(ctx context.Context, req executor.Request) (executor.Result, error) {
			if started != nil {
				select {
				case started <- req.JobID:
				case <-ctx.Done():
					return executor.Result{}, ctx.Err()
				}
			}
			select {
			case <-release:
				return executor.Result{Payload: map[string]any{"analysis_id": req.JobID}}, nil
			case <-ctx.Done():
				return executor.Result{}, ctx.Err()
			}
		},
	}
}

// NewPanickingExecutor returns a MockExecutor that panics with v.
func NewPanickingExecutor(v any) *MockExecutor {
	return &MockExecutor{
		ExecuteFunc: func(context.Context, executor.Request) (executor.Result, error) {
			panic(v)
		},
	}
}

// Compile-time check that MockExecutor implements Executor.
var _ executor.Executor = (*MockExecutor)(nil)
