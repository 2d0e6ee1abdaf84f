package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
)

// stateTable is the closed mapping from executor state words to job
// statuses. Any word not listed maps to UNHANDLED rather than failing
// the reconcile pass.
var stateTable = map[string]acquisition.JobStatus{
	"PENDING":   acquisition.JobPending,
	"RUNNING":   acquisition.JobRunning,
	"COMPLETED": acquisition.JobCompleted,
	"FAILED":    acquisition.JobFailed,
	"CANCELLED": acquisition.JobCancelled,
	"PREEMPTED": acquisition.JobPreempted,
	"SUSPENDED": acquisition.JobSuspended,
}

// MapState translates an executor state word to a job status.
func MapState(word string) acquisition.JobStatus {
	if st, ok := stateTable[word]; ok {
		return st
	}
	return acquisition.JobUnhandled
}

// IngestHook runs once per job when its completion is first observed.
type IngestHook func(ctx context.Context, job *acquisition.Job) error

// Reconciler polls the executor for every non-terminal job and writes the
// observed status back. Each job is handled independently; one failing
// query never blocks the rest of the pass.
type Reconciler struct {
	store    acquisition.Store
	executor Executor
	ingest   IngestHook
	logger   log.Logger
	metrics  *Metrics
}

// NewReconciler creates a reconciler. ingest may be nil.
func NewReconciler(store acquisition.Store, executor Executor, ingest IngestHook, logger log.Logger, metrics *Metrics) *Reconciler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Reconciler{store: store, executor: executor, ingest: ingest, logger: logger, metrics: metrics}
}

// Tick reconciles all active jobs once.
func (r *Reconciler) Tick(ctx context.Context) error {
	jobs, err := r.store.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	for _, job := range jobs {
		if err := r.reconcileJob(ctx, job); err != nil {
			r.metrics.observeReconcile("error")
			r.logger.Error(ctx, err, "reconcile job", "job_id", job.ID, "batch_id", job.BatchID)
			continue
		}
		r.metrics.observeReconcile("ok")
	}
	return nil
}

func (r *Reconciler) reconcileJob(ctx context.Context, job *acquisition.Job) error {
	word, err := r.executor.State(ctx, job.BatchID)
	if err != nil {
		return err
	}
	status := MapState(word)
	if status == job.Status {
		return nil
	}

	firstCompletion := status == acquisition.JobCompleted && !job.Ingested

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	if firstCompletion {
		// Marked before the hook runs so the hook fires at most once
		// even if it fails; ingestion errors are logged, not retried.
		job.Ingested = true
	}
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	r.logger.Info(ctx, "job status changed", "job_id", job.ID, "batch_id", job.BatchID, "status", status)

	if firstCompletion && r.ingest != nil {
		if err := r.ingest(ctx, job); err != nil {
			r.logger.Error(ctx, err, "ingest hook", "job_id", job.ID)
		}
	}
	return nil
}
