package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single driver run when none is configured.
const DefaultTimeout = 15 * time.Second

// waitDelay gives a killed driver this long to release its output pipes
// before Wait gives up on them.
const waitDelay = 2 * time.Second

// ProcessInvoker runs the driver as a child process: Command, then Args, then
// the operation's positional arguments.
type ProcessInvoker struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the gateway's own environment
	Timeout time.Duration
}

// Invoke spawns the driver and collects its output once it exits.
func (p *ProcessInvoker) Invoke(ctx context.Context, req Request) (*Output, error) {
	opArgs, err := req.Args()
	if err != nil {
		return nil, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, 0, len(p.Args)+len(opArgs))
	args = append(args, p.Args...)
	args = append(args, opArgs...)

	cmd := exec.CommandContext(ctx, p.Command, args...)
	cmd.Dir = p.Dir
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Err: err}
	}
	waitErr := cmd.Wait()

	out := &Output{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return out, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return out, ErrCanceled
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return out, fmt.Errorf("wait for driver: %w", waitErr)
	}
	return out, nil
}
