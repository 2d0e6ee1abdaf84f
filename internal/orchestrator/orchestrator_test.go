package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
	"github.com/linnemanlabs/plateflow/internal/acquisition/memstore"
	"github.com/linnemanlabs/plateflow/internal/analysis"
	"github.com/linnemanlabs/plateflow/internal/lifecycle"
	"github.com/linnemanlabs/plateflow/internal/orchestrator"
	"github.com/linnemanlabs/plateflow/internal/scheduler"
	"github.com/linnemanlabs/plateflow/internal/timeutil"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	readIDs  []string
	requests int
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req *scheduler.DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readIDs = append(d.readIDs, req.Read.ID)
	d.requests++
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

type fakeExecutor struct {
	mu        sync.Mutex
	submitted int
	states    map[string]string
}

func (e *fakeExecutor) Submit(_ context.Context, _ string, _ []string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted++
	return fmt.Sprintf("%d", 5000+e.submitted), nil
}

func (e *fakeExecutor) State(_ context.Context, jobID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[jobID]; ok {
		return st, nil
	}
	return "PENDING", nil
}

func (e *fakeExecutor) submissions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitted
}

type nopTransferrer struct{}

func (nopTransferrer) SyncDir(_ context.Context, _, destBase string) (string, error) {
	return destBase, nil
}
func (nopTransferrer) Archive(_ context.Context, _, destBase string) (string, error) {
	return destBase, nil
}
func (nopTransferrer) Extract(_ context.Context, _, destBase string) (string, error) {
	return destBase, nil
}

// blockingTransferrer parks every SyncDir call until release is closed,
// signalling each entry on the entered channel.
type blockingTransferrer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTransferrer) SyncDir(_ context.Context, _, destBase string) (string, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return destBase, nil
}
func (b *blockingTransferrer) Archive(_ context.Context, _, destBase string) (string, error) {
	return destBase, nil
}
func (b *blockingTransferrer) Extract(_ context.Context, _, destBase string) (string, error) {
	return destBase, nil
}

type harness struct {
	store      acquisition.Store
	svc        *acquisition.Service
	clock      *timeutil.MockClock
	dispatcher *fakeDispatcher
	executor   *fakeExecutor
	orch       *orchestrator.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nopTransferrer{})
}

func newHarnessWith(t *testing.T, xfer lifecycle.Transferrer) *harness {
	t.Helper()
	store := memstore.New()
	svc := acquisition.NewService(store, nil, nil)
	// Reads are materialized with wall-clock start times, so the mock
	// clock starts at the wall clock and only moves forward from there.
	clock := timeutil.NewMockClock(time.Now().UTC())
	dispatcher := &fakeDispatcher{}
	executor := &fakeExecutor{states: map[string]string{}}

	base := t.TempDir()
	roots := acquisition.TierRoots{
		Acquisition: base + "/hot",
		Analysis:    base + "/scratch",
		Archive:     base + "/cold",
	}
	lm := lifecycle.NewManager(store, roots, xfer, nil, nil)
	engine := analysis.NewEngine(svc, lm, executor, nil, nil)
	recon := analysis.NewReconciler(store, executor, nil, nil, nil)
	sched := scheduler.New(svc, dispatcher, clock, time.Hour, nil, nil)

	orch := orchestrator.New(svc, sched, lm, engine, recon, clock, nil, orchestrator.Options{
		ScheduleEvery:  15 * time.Second,
		ReconcileEvery: time.Minute,
	})
	return &harness{
		store:      store,
		svc:        svc,
		clock:      clock,
		dispatcher: dispatcher,
		executor:   executor,
		orch:       orch,
	}
}

// seedRun creates a plate located at CQ1 with a one-read plan, an analysis
// plan and one END_OF_RUN spec, and materializes the read.
func (h *harness) seedRun(t *testing.T) *acquisition.Read {
	t.Helper()
	return h.seedNamedRun(t, "BC-0001", "exp42-plate1", 1)[0]
}

func (h *harness) seedNamedRun(t *testing.T, plateName, acqName string, nReads int) []*acquisition.Read {
	t.Helper()
	ctx := context.Background()

	wp, err := h.svc.CreateWellplate(ctx, plateName)
	if err != nil {
		t.Fatal(err)
	}
	acq, err := h.svc.CreateAcquisition(ctx, acqName, "cq1")
	if err != nil {
		t.Fatal(err)
	}
	plan, err := h.svc.CreatePlan(ctx, acquisition.PlanParams{
		AcquisitionID:   acq.ID,
		WellplateID:     wp.ID,
		StorageLocation: acquisition.LocationCQ1,
		NReads:          nReads,
		Interval:        time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	ap, err := h.svc.CreateAnalysisPlan(ctx, acq.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.AddAnalysisSpec(ctx, ap.ID, acquisition.TriggerEndOfRun, nil, "run_analysis.sh", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.UpdateWellplateLocation(ctx, wp.ID, acquisition.LocationCQ1); err != nil {
		t.Fatal(err)
	}
	reads, err := h.store.ListReads(ctx, plan.ID)
	if err != nil || len(reads) != nReads {
		t.Fatalf("ListReads: %v (%d reads)", err, len(reads))
	}
	return reads
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOrchestrator_SchedulerTickDispatches(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedRun(t)

	h.orch.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.orch.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	// Advancing on every poll covers the window before the loop goroutine
	// has registered its tickers.
	waitFor(t, "read dispatch", func() bool {
		h.clock.Advance(15 * time.Second)
		return h.dispatcher.count() == 1
	})
}

func TestOrchestrator_CompletionPipeline(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	read := h.seedRun(t)
	ctx := context.Background()

	// The instrument ran the read to completion.
	if _, err := h.svc.UpdateReadStatus(ctx, read.ID, acquisition.ReadCompleted); err != nil {
		t.Fatal(err)
	}

	h.orch.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.orch.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	h.orch.NotifyReadCompleted(read.ID)

	// END_OF_RUN fires: one job submitted against the executor.
	waitFor(t, "analysis submission", func() bool { return h.executor.submissions() == 1 })

	// The resolved plan retires the hot data: analysis + archive rows
	// exist, the hot row is gone, and the acquisition is inactive.
	waitFor(t, "hot tier retirement", func() bool {
		_, hot, _ := h.store.GetCollection(ctx, readAcquisitionID(t, h, read), acquisition.ArtifactAcquisitionData, acquisition.TierAcquisition)
		return !hot
	})
	acqID := readAcquisitionID(t, h, read)
	for _, tier := range []acquisition.Tier{acquisition.TierAnalysis, acquisition.TierArchive} {
		if _, ok, _ := h.store.GetCollection(ctx, acqID, acquisition.ArtifactAcquisitionData, tier); !ok {
			t.Errorf("no collection at %s after retirement", tier)
		}
	}
	acq, _, _ := h.store.GetAcquisition(ctx, acqID)
	if acq.IsActive {
		t.Error("acquisition still active after its plan resolved")
	}
}

func TestOrchestrator_TransferDoesNotStallDispatch(t *testing.T) {
	t.Parallel()

	xfer := &blockingTransferrer{entered: make(chan struct{}, 8), release: make(chan struct{})}
	h := newHarnessWith(t, xfer)
	ctx := context.Background()

	// The first acquisition resolves immediately: its completion pipeline
	// stages data for analysis and parks inside the transfer.
	readA := h.seedNamedRun(t, "BC-0001", "exp42-plate1", 1)[0]
	if _, err := h.svc.UpdateReadStatus(ctx, readA.ID, acquisition.ReadCompleted); err != nil {
		t.Fatal(err)
	}

	// The second acquisition has a due, co-located read waiting.
	readB := h.seedNamedRun(t, "BC-0002", "exp42-plate2", 1)[0]

	h.orch.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.orch.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()
	defer close(xfer.release)

	h.orch.NotifyReadCompleted(readA.ID)
	select {
	case <-xfer.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("completion pipeline never reached the transfer")
	}

	// Dispatch keeps ticking while the transfer is in flight.
	waitFor(t, "dispatch during in-flight transfer", func() bool {
		h.clock.Advance(15 * time.Second)
		return h.dispatcher.count() == 1
	})
	h.dispatcher.mu.Lock()
	got := h.dispatcher.readIDs[0]
	h.dispatcher.mu.Unlock()
	if got != readB.ID {
		t.Errorf("dispatched %s, want %s", got, readB.ID)
	}
}

func TestOrchestrator_CompletionRefreshesHotCollection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	reads := h.seedNamedRun(t, "BC-0001", "exp42-plate1", 2)
	ctx := context.Background()

	if _, err := h.svc.UpdateReadStatus(ctx, reads[0].ID, acquisition.ReadCompleted); err != nil {
		t.Fatal(err)
	}

	h.orch.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.orch.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	h.orch.NotifyReadCompleted(reads[0].ID)

	// One of two reads done: the plan is unresolved, so the hot row stays
	// and its timestamp tracks the latest completed read.
	acqID := readAcquisitionID(t, h, reads[0])
	waitFor(t, "hot collection refresh", func() bool {
		c, ok, _ := h.store.GetCollection(ctx, acqID, acquisition.ArtifactAcquisitionData, acquisition.TierAcquisition)
		return ok && c.UpdatedAt.Equal(h.clock.Now())
	})
}

func TestOrchestrator_ReconcileSweepEvaluatesTriggers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	// An ad hoc acquisition with data but no read plan: only the sweep
	// can fire its IMMEDIATE spec since no completion event ever arrives.
	acq, err := h.svc.CreateAcquisition(ctx, "adhoc-1", "cq1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.EnsureCollection(ctx, acq, acquisition.ArtifactAcquisitionData, acquisition.TierAcquisition); err != nil {
		t.Fatal(err)
	}
	ap, err := h.svc.CreateAnalysisPlan(ctx, acq.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.AddAnalysisSpec(ctx, ap.ID, acquisition.TriggerImmediate, nil, "run_analysis.sh", nil); err != nil {
		t.Fatal(err)
	}

	h.orch.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.orch.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	waitFor(t, "sweep submission", func() bool {
		h.clock.Advance(time.Minute)
		return h.executor.submissions() == 1
	})
}

func TestOrchestrator_StopIsBounded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.orch.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.orch.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func readAcquisitionID(t *testing.T, h *harness, read *acquisition.Read) string {
	t.Helper()
	plan, ok, err := h.store.GetPlan(context.Background(), read.PlanID)
	if err != nil || !ok {
		t.Fatalf("GetPlan: ok=%v err=%v", ok, err)
	}
	return plan.AcquisitionID
}
