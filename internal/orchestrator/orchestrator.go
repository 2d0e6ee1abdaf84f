// Package orchestrator runs the control loops: the scheduler tick, the
// job reconcile tick, and the read-completion pipeline. Each line runs
// serialized on its own goroutine, so at most one tick per line is in
// flight, and a transfer parked on the completion line never delays read
// dispatch.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
	"github.com/linnemanlabs/plateflow/internal/analysis"
	"github.com/linnemanlabs/plateflow/internal/lifecycle"
	"github.com/linnemanlabs/plateflow/internal/scheduler"
	"github.com/linnemanlabs/plateflow/internal/timeutil"
)

const completionBuffer = 64

// Options configures the orchestrator's loop periods.
type Options struct {
	ScheduleEvery  time.Duration
	ReconcileEvery time.Duration
}

// Orchestrator owns the background loops of the run coordinator.
type Orchestrator struct {
	svc    *acquisition.Service
	sched  *scheduler.Scheduler
	lm     *lifecycle.Manager
	engine *analysis.Engine
	recon  *analysis.Reconciler
	clock  timeutil.Clock
	logger log.Logger
	opts   Options

	completions chan string
	done        chan struct{}
	wg          sync.WaitGroup
}

// New creates an orchestrator. clock may be nil for the real clock.
func New(svc *acquisition.Service, sched *scheduler.Scheduler, lm *lifecycle.Manager, engine *analysis.Engine, recon *analysis.Reconciler, clock timeutil.Clock, logger log.Logger, opts Options) *Orchestrator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.ScheduleEvery <= 0 {
		opts.ScheduleEvery = 15 * time.Second
	}
	if opts.ReconcileEvery <= 0 {
		opts.ReconcileEvery = time.Minute
	}
	return &Orchestrator{
		svc:         svc,
		sched:       sched,
		lm:          lm,
		engine:      engine,
		recon:       recon,
		clock:       clock,
		logger:      logger,
		opts:        opts,
		completions: make(chan string, completionBuffer),
		done:        make(chan struct{}),
	}
}

// Start launches one goroutine per control line.
func (o *Orchestrator) Start() {
	o.wg.Add(3)
	go o.scheduleLoop()
	go o.reconcileLoop()
	go o.completionLoop()
}

// Stop signals the loops to exit and waits for them, bounded by ctx.
func (o *Orchestrator) Stop(ctx context.Context) error {
	close(o.done)
	stopped := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyReadCompleted queues a completed read for processing. The send
// never blocks; a full queue is dropped because the periodic evaluation
// sweep picks the acquisition up anyway.
func (o *Orchestrator) NotifyReadCompleted(readID string) {
	select {
	case o.completions <- readID:
	case <-o.done:
	default:
		o.logger.Warn(context.Background(), "completion queue full, dropping", "read_id", readID)
	}
}

// scheduleLoop drives read dispatch and deadline cancellation. Nothing
// else runs on this goroutine; dispatch stays prompt while the other
// lines sit in a transfer or an executor call.
func (o *Orchestrator) scheduleLoop() {
	defer o.wg.Done()

	ctx := context.Background()
	ticker := o.clock.NewTicker(o.opts.ScheduleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C():
			if err := o.sched.Tick(ctx); err != nil {
				o.logger.Error(ctx, err, "scheduler tick")
			}
		}
	}
}

func (o *Orchestrator) reconcileLoop() {
	defer o.wg.Done()

	ctx := context.Background()
	ticker := o.clock.NewTicker(o.opts.ReconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C():
			o.reconcileTick(ctx)
		}
	}
}

func (o *Orchestrator) completionLoop() {
	defer o.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-o.done:
			return
		case readID := <-o.completions:
			if err := o.handleCompletion(ctx, readID); err != nil {
				o.logger.Error(ctx, err, "handle read completion", "read_id", readID)
			}
		}
	}
}

// reconcileTick polls the executor for job status and re-evaluates the
// triggers of every active acquisition. The sweep catches submissions a
// lost completion event or earlier failure left behind.
func (o *Orchestrator) reconcileTick(ctx context.Context) {
	if err := o.recon.Tick(ctx); err != nil {
		o.logger.Error(ctx, err, "reconcile tick")
	}
	acqs, err := o.svc.Store().ListActiveAcquisitions(ctx)
	if err != nil {
		o.logger.Error(ctx, err, "list active acquisitions")
		return
	}
	for _, acq := range acqs {
		if err := o.engine.Evaluate(ctx, acq); err != nil {
			o.logger.Error(ctx, err, "evaluate triggers", "acquisition", acq.Name)
		}
	}
}

// handleCompletion runs the post-read pipeline: make sure the hot data
// collection is tracked, evaluate analysis triggers, and once every read
// of the plan reached an endstate, retire the data to the archive tier.
func (o *Orchestrator) handleCompletion(ctx context.Context, readID string) error {
	store := o.svc.Store()

	read, ok, err := store.GetRead(ctx, readID)
	if err != nil {
		return err
	}
	if !ok {
		return acquisition.NotFoundf("read %s", readID)
	}
	plan, ok, err := store.GetPlan(ctx, read.PlanID)
	if err != nil {
		return err
	}
	if !ok {
		return acquisition.NotFoundf("plan %s", read.PlanID)
	}
	acq, ok, err := store.GetAcquisition(ctx, plan.AcquisitionID)
	if err != nil {
		return err
	}
	if !ok {
		return acquisition.NotFoundf("acquisition %s", plan.AcquisitionID)
	}

	// The instrument wrote into the hot tier; track it if this was the
	// first completed read, and bump the row so updated_at reflects the
	// latest read's data.
	hot, err := o.svc.EnsureCollection(ctx, acq, acquisition.ArtifactAcquisitionData, acquisition.TierAcquisition)
	if err != nil {
		return err
	}
	if err := store.TouchCollection(ctx, hot.ID, o.clock.Now()); err != nil {
		return err
	}

	var errs []error
	if err := o.engine.Evaluate(ctx, acq); err != nil {
		errs = append(errs, err)
	}

	progress, err := o.svc.Progress(ctx, acq.ID)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if progress.Resolved() {
		if err := o.retire(ctx, acq, hot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// retire fans the hot data collection out to the analysis and archive
// tiers, drops the hot copy, and marks the acquisition inactive. The hot
// copy survives any partial fan-out failure.
func (o *Orchestrator) retire(ctx context.Context, acq *acquisition.Acquisition, hot *acquisition.Collection) error {
	o.logger.Info(ctx, "plan resolved, archiving", "acquisition", acq.Name)
	if _, err := o.lm.SyncAndArchive(ctx, hot); err != nil {
		return err
	}
	acq.IsActive = false
	if err := o.svc.Store().PutAcquisition(ctx, acq); err != nil {
		return err
	}
	return nil
}
