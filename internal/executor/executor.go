// Package executor runs the actual analysis computation for a job. The
// orchestrator treats every Executor as opaque: it hands over a Request and
// gets back a payload or an error.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownKind     = errors.New("unknown analysis kind")
	ErrTimeout         = errors.New("analysis timed out")
	ErrMalformedOutput = errors.New("analysis produced malformed output")
	ErrProcessFailed   = errors.New("analysis process failed")
)

// Request describes one analysis invocation.
type Request struct {
	JobID           string
	Kind            string
	Parameters      map[string]any
	InputReferences []string
	// Timeout bounds the run. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Result is the structured output of a successful run.
type Result struct {
	Payload map[string]any
}

// Executor must be safe for concurrent use. Implementations should return
// promptly once ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// CommandLog captures one external command invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// ExecError is a stage-aware failure with optional command context.
type ExecError struct {
	Stage      string
	Message    string
	CommandLog CommandLog
	Err        error
}

func (e *ExecError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Stage, e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *ExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
