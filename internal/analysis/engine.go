// Package analysis decides when batch-analysis specs fire, submits them to
// the external executor, and reconciles job status from the cluster.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
	"github.com/linnemanlabs/plateflow/internal/lifecycle"
)

// Executor is the external batch executor boundary: submit returns an
// opaque job id, State returns the cluster's state word for one.
type Executor interface {
	Submit(ctx context.Context, command string, args []string) (string, error)
	State(ctx context.Context, jobID string) (string, error)
}

// Eligible is the pure trigger decision: does this spec fire given the
// acquisition's progress? It is deliberately free of I/O so the rules are
// testable without process execution. Whether the spec was already
// submitted is part of the decision: submitted specs never fire again.
func Eligible(spec *acquisition.AnalysisSpec, progress acquisition.PlanProgress) bool {
	if spec.Status != acquisition.JobUnsubmitted {
		return false
	}
	switch spec.Trigger {
	case acquisition.TriggerImmediate:
		return progress.HasCollections
	case acquisition.TriggerPostRead:
		// Exact match: fires when the completed count first equals k,
		// not when it later exceeds it.
		return progress.HasPlan && spec.TriggerValue != nil && progress.Completed == *spec.TriggerValue
	case acquisition.TriggerEndOfRun:
		return progress.Resolved()
	}
	return false
}

// Engine evaluates triggers for acquisitions and submits eligible specs.
type Engine struct {
	svc      *acquisition.Service
	lm       *lifecycle.Manager
	executor Executor
	logger   log.Logger
	metrics  *Metrics
}

// NewEngine creates an analysis engine.
func NewEngine(svc *acquisition.Service, lm *lifecycle.Manager, executor Executor, logger log.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{svc: svc, lm: lm, executor: executor, logger: logger, metrics: metrics}
}

// Evaluate checks every spec of the acquisition's analysis plan and
// submits the eligible ones. It is idempotent: specs already submitted or
// already bound to a job never fire twice. Called on every read completion
// and again from the periodic tick.
func (e *Engine) Evaluate(ctx context.Context, acq *acquisition.Acquisition) error {
	store := e.svc.Store()

	plan, ok, err := store.GetAnalysisPlanByAcquisition(ctx, acq.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	specs, err := store.ListAnalysisSpecs(ctx, plan.ID)
	if err != nil {
		return fmt.Errorf("list analysis specs: %w", err)
	}

	progress, err := e.svc.Progress(ctx, acq.ID)
	if err != nil {
		return err
	}

	var eligible []*acquisition.AnalysisSpec
	for _, spec := range specs {
		if Eligible(spec, progress) {
			eligible = append(eligible, spec)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	if err := e.stage(ctx, acq); err != nil {
		return err
	}

	var errs []error
	for _, spec := range eligible {
		if err := e.submit(ctx, spec); err != nil {
			errs = append(errs, err)
			continue
		}
		e.logger.Info(ctx, "submitted analysis",
			"acquisition", acq.Name,
			"spec_id", spec.ID,
			"trigger", spec.Trigger,
			"command", spec.Command,
		)
	}
	return errors.Join(errs...)
}

// stage refreshes the analysis-tier working copy of the acquisition data
// so the submitted job sees current files. If the hot copy is gone (e.g.
// already archived) an existing analysis-tier copy is good enough.
func (e *Engine) stage(ctx context.Context, acq *acquisition.Acquisition) error {
	store := e.svc.Store()

	hot, ok, err := store.GetCollection(ctx, acq.ID, acquisition.ArtifactAcquisitionData, acquisition.TierAcquisition)
	if err != nil {
		return err
	}
	if ok {
		if _, err := e.lm.Copy(ctx, hot, acquisition.TierAnalysis); err != nil {
			return err
		}
		return nil
	}

	if _, ok, err := store.GetCollection(ctx, acq.ID, acquisition.ArtifactAcquisitionData, acquisition.TierAnalysis); err != nil {
		return err
	} else if ok {
		return nil
	}
	return acquisition.NotFoundf("acquisition %s has no acquisition data collection to stage", acq.Name)
}

// submit hands one spec to the executor and binds the resulting job.
// Submission failure is a distinct error from "trigger not met": the
// caller already decided the trigger fired.
func (e *Engine) submit(ctx context.Context, spec *acquisition.AnalysisSpec) error {
	store := e.svc.Store()

	// A job bound to the spec means an earlier submission won but the
	// spec flip was lost; repair the flag instead of resubmitting.
	if _, ok, err := store.GetJobBySpec(ctx, spec.ID); err != nil {
		return err
	} else if ok {
		return store.UpdateAnalysisSpecStatus(ctx, spec.ID, acquisition.JobSubmitted)
	}

	batchID, err := e.executor.Submit(ctx, spec.Command, spec.Args)
	if err != nil {
		e.metrics.observeSubmission("error")
		return fmt.Errorf("submit spec %s: %w", spec.ID, err)
	}

	now := time.Now().UTC()
	job := &acquisition.Job{
		ID:          ulid.Make().String(),
		SpecID:      spec.ID,
		BatchID:     batchID,
		Status:      acquisition.JobPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := store.InsertJob(ctx, job); err != nil {
		if errors.Is(err, acquisition.ErrConflict) {
			// Lost a race with a concurrent submission; ours is a
			// duplicate the cluster will run to completion, but the
			// winner's row is the one we track.
			e.logger.Warn(ctx, "duplicate submission race", "spec_id", spec.ID, "batch_id", batchID)
		} else {
			return fmt.Errorf("insert job: %w", err)
		}
	}
	if err := store.UpdateAnalysisSpecStatus(ctx, spec.ID, acquisition.JobSubmitted); err != nil {
		return fmt.Errorf("update spec status: %w", err)
	}
	e.metrics.observeSubmission("ok")
	return nil
}
