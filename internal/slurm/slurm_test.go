package slurm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
	"github.com/linnemanlabs/plateflow/internal/proc"
	"github.com/linnemanlabs/plateflow/internal/slurm"
)

// cannedRunner returns fixed output and records the invocation.
type cannedRunner struct {
	stdout string
	err    error
	name   string
	args   []string
}

func (r *cannedRunner) Run(_ context.Context, name string, args ...string) (proc.Result, error) {
	r.name = name
	r.args = args
	if r.err != nil {
		return proc.Result{ExitCode: 1, Stderr: "sbatch: error"}, r.err
	}
	return proc.Result{Stdout: r.stdout}, nil
}

func TestSubmit_ParsesJobID(t *testing.T) {
	t.Parallel()

	runner := &cannedRunner{stdout: "Submitted batch job 412987"}
	c := slurm.New(runner, "", "")

	id, err := c.Submit(context.Background(), "run_analysis.sh", []string{"--plate", "exp42"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "412987" {
		t.Errorf("job id = %q, want 412987", id)
	}
	if runner.name != "sbatch" {
		t.Errorf("command = %q, want sbatch", runner.name)
	}
	want := []string{"run_analysis.sh", "--plate", "exp42"}
	if len(runner.args) != len(want) {
		t.Fatalf("args = %v, want %v", runner.args, want)
	}
	for i := range want {
		if runner.args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, runner.args[i], want[i])
		}
	}
}

func TestSubmit_UnparseableEcho(t *testing.T) {
	t.Parallel()

	runner := &cannedRunner{stdout: "sbatch: queue is closed"}
	c := slurm.New(runner, "", "")

	_, err := c.Submit(context.Background(), "run_analysis.sh", nil)
	if !errors.Is(err, acquisition.ErrExternalSubmission) {
		t.Fatalf("err = %v, want ErrExternalSubmission", err)
	}
}

func TestSubmit_RunnerError(t *testing.T) {
	t.Parallel()

	runner := &cannedRunner{err: errors.New("exit status 1")}
	c := slurm.New(runner, "", "")

	_, err := c.Submit(context.Background(), "run_analysis.sh", nil)
	if !errors.Is(err, acquisition.ErrExternalSubmission) {
		t.Fatalf("err = %v, want ErrExternalSubmission", err)
	}
}

func TestSubmit_CustomCommandNames(t *testing.T) {
	t.Parallel()

	runner := &cannedRunner{stdout: "Submitted batch job 7"}
	c := slurm.New(runner, "/opt/slurm/bin/sbatch", "/opt/slurm/bin/scontrol")

	if _, err := c.Submit(context.Background(), "job.sh", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if runner.name != "/opt/slurm/bin/sbatch" {
		t.Errorf("command = %q", runner.name)
	}
}

func TestState_ParsesJobState(t *testing.T) {
	t.Parallel()

	runner := &cannedRunner{stdout: "JobId=412987 JobName=run_analysis.sh\n   JobState=RUNNING Reason=None"}
	c := slurm.New(runner, "", "")

	state, err := c.State(context.Background(), "412987")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != "RUNNING" {
		t.Errorf("state = %q, want RUNNING", state)
	}
	if runner.name != "scontrol" {
		t.Errorf("command = %q, want scontrol", runner.name)
	}
	want := []string{"show", "job", "412987"}
	for i := range want {
		if runner.args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, runner.args[i], want[i])
		}
	}
}

func TestState_UnparseableOutput(t *testing.T) {
	t.Parallel()

	runner := &cannedRunner{stdout: "slurm_load_jobs error: Invalid job id specified"}
	c := slurm.New(runner, "", "")

	_, err := c.State(context.Background(), "999999")
	if !errors.Is(err, acquisition.ErrExternalStateParse) {
		t.Fatalf("err = %v, want ErrExternalStateParse", err)
	}
}
