package driver

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when the driver did not finish before its deadline.
	// The process (and its process group) has been killed by then.
	ErrTimeout = errors.New("driver timed out")
	// ErrCanceled is returned when the caller went away mid-invocation.
	ErrCanceled = errors.New("driver invocation canceled")
)

// SpawnError reports that the driver process could not be created at all.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return "Failed to execute driver: " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Output is everything the driver produced for one invocation.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Invoker runs exactly one driver invocation per call and never retries.
// Implementations return *SpawnError when nothing could be started, ErrTimeout
// or ErrCanceled when the context ended first (possibly with partial Output),
// and a nil error whenever the driver ran to completion, whatever its exit code.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Output, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) (*Output, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (*Output, error) {
	return f(ctx, req)
}
