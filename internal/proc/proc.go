// Package proc runs external processes with captured output. The transfer
// primitives and the batch executor both shell out through it.
package proc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of one process run. Output is captured in full;
// callers parse what they need from it.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes a command synchronously. A non-zero exit returns both a
// populated Result and a non-nil error, so callers can still inspect the
// captured output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct {
	// Timeout bounds each run; zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout bounds a single process run. Archive transfers of large
// acquisitions are the slowest consumers.
const DefaultTimeout = 30 * time.Minute

// Run executes the command and captures stdout/stderr.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%s timed out after %s", name, timeout)
	}
	if err != nil {
		return res, fmt.Errorf("%s %s: %w (stderr: %s)", name, strings.Join(args, " "), err, res.Stderr)
	}
	return res, nil
}
