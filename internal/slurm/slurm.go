// Package slurm adapts the cluster's batch CLI. The two free-text parses
// (submission echo and job state) live here and nowhere else; everything
// above this boundary works with typed statuses.
package slurm

import (
	"context"
	"fmt"
	"regexp"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
	"github.com/linnemanlabs/plateflow/internal/proc"
)

var (
	submittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)
	jobStateRe  = regexp.MustCompile(`JobState=(\w+)`)
)

// Client submits and inspects batch jobs via sbatch/scontrol.
type Client struct {
	runner   proc.Runner
	sbatch   string
	scontrol string
}

// New creates a slurm client. Empty command names fall back to the
// conventional binaries.
func New(runner proc.Runner, sbatch, scontrol string) *Client {
	if sbatch == "" {
		sbatch = "sbatch"
	}
	if scontrol == "" {
		scontrol = "scontrol"
	}
	return &Client{runner: runner, sbatch: sbatch, scontrol: scontrol}
}

// Submit hands a command to the cluster and returns the opaque job id
// parsed from the submission echo. A non-zero exit or an echo the pattern
// cannot match is an external-submission error.
func (c *Client) Submit(ctx context.Context, command string, args []string) (string, error) {
	runArgs := append([]string{command}, args...)
	res, err := c.runner.Run(ctx, c.sbatch, runArgs...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", acquisition.ErrExternalSubmission, err)
	}
	m := submittedRe.FindStringSubmatch(res.Stdout)
	if m == nil {
		return "", fmt.Errorf("%w: no job id in %q", acquisition.ErrExternalSubmission, res.Stdout)
	}
	return m[1], nil
}

// State queries the cluster for a job's current state word. Text the
// state pattern cannot match is an external-state-parse error.
func (c *Client) State(ctx context.Context, jobID string) (string, error) {
	res, err := c.runner.Run(ctx, c.scontrol, "show", "job", jobID)
	if err != nil {
		return "", fmt.Errorf("query job %s: %w", jobID, err)
	}
	m := jobStateRe.FindStringSubmatch(res.Stdout)
	if m == nil {
		return "", fmt.Errorf("%w: no JobState in scontrol output for job %s", acquisition.ErrExternalStateParse, jobID)
	}
	return m[1], nil
}
