// Package scheduler decides which plate read runs next. Each tick cancels
// overdue reads, then dispatches at most one read, keeping LOW-priority
// work from ever delaying an imminent NORMAL read.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
	"github.com/linnemanlabs/plateflow/internal/timeutil"
)

// DefaultSlackWindow is how far ahead the scheduler looks for an upcoming
// NORMAL read before it lets a LOW read occupy the instrument.
const DefaultSlackWindow = 6 * time.Hour

// DispatchRequest carries everything the instrument boundary needs to
// start a read.
type DispatchRequest struct {
	Read        *acquisition.Read
	Plan        *acquisition.Plan
	Acquisition *acquisition.Acquisition
	Wellplate   *acquisition.Wellplate
}

// Dispatcher hands a read off to the instrument-control channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *DispatchRequest) error
}

// Scheduler runs the dispatch decision. The tick host guarantees at most
// one Tick is in flight at a time; the scheduler itself keeps no state
// between ticks and re-reads the store every time.
type Scheduler struct {
	svc        *acquisition.Service
	dispatcher Dispatcher
	clock      timeutil.Clock
	slack      time.Duration
	logger     log.Logger
	metrics    *Metrics
}

// New creates a scheduler. A zero slack window falls back to the default.
func New(svc *acquisition.Service, dispatcher Dispatcher, clock timeutil.Clock, slack time.Duration, logger log.Logger, metrics *Metrics) *Scheduler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if slack <= 0 {
		slack = DefaultSlackWindow
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		svc:        svc,
		dispatcher: dispatcher,
		clock:      clock,
		slack:      slack,
		logger:     logger,
		metrics:    metrics,
	}
}

// Tick executes one scheduling pass. Cancellation strictly precedes
// dispatch; dispatch failures propagate so the tick host can retry the
// whole tick (the cancellation half is idempotent).
func (s *Scheduler) Tick(ctx context.Context) error {
	store := s.svc.Store()
	now := s.clock.Now()

	cancelled, err := store.CancelPastDeadline(ctx, now)
	if err != nil {
		return fmt.Errorf("cancel past deadline: %w", err)
	}
	if cancelled > 0 {
		s.logger.Info(ctx, "cancelled overdue reads", "count", cancelled)
		s.metrics.observeCancelled(cancelled)
	}

	// Hard admission control: at most one read runs globally.
	running, err := store.AnyReadRunning(ctx)
	if err != nil {
		return fmt.Errorf("check running reads: %w", err)
	}
	if running {
		s.logger.Info(ctx, "a read is running; not dispatching")
		s.metrics.observeTick("busy")
		return nil
	}

	if read, ok, err := store.NextTask(ctx, acquisition.PriorityNormal, now); err != nil {
		return fmt.Errorf("next normal task: %w", err)
	} else if ok {
		if err := s.dispatch(ctx, read); err != nil {
			s.metrics.observeTick("dispatch_error")
			return err
		}
		s.metrics.observeDispatch(acquisition.PriorityNormal)
		s.metrics.observeTick("dispatched")
		return nil
	}

	// A NORMAL read due within the slack window blocks LOW dispatch so a
	// long LOW read can never delay it.
	if read, ok, err := store.NextTask(ctx, acquisition.PriorityNormal, now.Add(s.slack)); err != nil {
		return fmt.Errorf("upcoming normal task: %w", err)
	} else if ok {
		s.logger.Info(ctx, "normal read upcoming; holding instrument",
			"read_id", read.ID,
			"due_in", read.StartAfter.Sub(now).String(),
		)
		s.metrics.observeTick("held")
		return nil
	}

	if read, ok, err := store.NextTask(ctx, acquisition.PriorityLow, now); err != nil {
		return fmt.Errorf("next low task: %w", err)
	} else if ok {
		if err := s.dispatch(ctx, read); err != nil {
			s.metrics.observeTick("dispatch_error")
			return err
		}
		s.metrics.observeDispatch(acquisition.PriorityLow)
		s.metrics.observeTick("dispatched")
		return nil
	}

	s.metrics.observeTick("idle")
	return nil
}

// dispatch hands the read to the instrument and marks it SCHEDULED. The
// status flip happens second: if the handoff fails the read stays PENDING
// and a later tick retries it.
func (s *Scheduler) dispatch(ctx context.Context, read *acquisition.Read) error {
	store := s.svc.Store()

	plan, ok, err := store.GetPlan(ctx, read.PlanID)
	if err != nil {
		return err
	}
	if !ok {
		return acquisition.NotFoundf("plan %s for read %s", read.PlanID, read.ID)
	}
	acq, ok, err := store.GetAcquisition(ctx, plan.AcquisitionID)
	if err != nil {
		return err
	}
	if !ok {
		return acquisition.NotFoundf("acquisition %s for plan %s", plan.AcquisitionID, plan.ID)
	}
	plate, ok, err := store.GetWellplate(ctx, plan.WellplateID)
	if err != nil {
		return err
	}
	if !ok {
		return acquisition.NotFoundf("wellplate %s for plan %s", plan.WellplateID, plan.ID)
	}

	req := &DispatchRequest{
		Read:        read,
		Plan:        plan,
		Acquisition: acq,
		Wellplate:   plate,
	}
	if err := s.dispatcher.Dispatch(ctx, req); err != nil {
		return fmt.Errorf("dispatch read %s: %w", read.ID, err)
	}

	if _, err := s.svc.UpdateReadStatus(ctx, read.ID, acquisition.ReadScheduled); err != nil {
		return err
	}

	s.logger.Info(ctx, "dispatched read",
		"read_id", read.ID,
		"acquisition", acq.Name,
		"priority", plan.Priority,
		"protocol", plan.ProtocolName,
	)
	return nil
}
