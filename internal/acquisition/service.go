package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/plateflow/internal/events"
)

// Service is the business boundary for the acquisition data model: it owns
// entity creation, plan materialization, and status transitions, emitting
// an event for every externally visible change.
type Service struct {
	store  Store
	sink   events.Sink
	logger log.Logger
}

// NewService creates a new acquisition service.
func NewService(store Store, sink events.Sink, logger log.Logger) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: store, sink: sink, logger: logger}
}

// Store exposes the underlying store to the control loops wired in main.
func (s *Service) Store() Store { return s.store }

// CreateWellplate registers a plate by barcode name, located EXTERNAL.
func (s *Service) CreateWellplate(ctx context.Context, name string) (*Wellplate, error) {
	if name == "" {
		return nil, Validationf("wellplate name is required")
	}
	now := time.Now().UTC()
	w := &Wellplate{
		ID:        ulid.Make().String(),
		Name:      name,
		Location:  LocationExternal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutWellplate(ctx, w); err != nil {
		return nil, fmt.Errorf("put wellplate: %w", err)
	}
	return w, nil
}

// UpdateWellplateLocation records a plate relocation and emits the
// location-update event. Plans waiting on the plate's arrival at their
// storage location are implemented as a side effect, so their reads become
// visible to the scheduler.
func (s *Service) UpdateWellplateLocation(ctx context.Context, id string, dest PlateLocation) (*Wellplate, error) {
	w, ok, err := s.store.GetWellplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NotFoundf("wellplate %s", id)
	}
	before := w.Location
	if before == dest {
		return w, nil
	}

	w.Location = dest
	w.UpdatedAt = time.Now().UTC()
	if err := s.store.PutWellplate(ctx, w); err != nil {
		return nil, fmt.Errorf("put wellplate: %w", err)
	}
	s.sink.Emit(ctx, events.WellplateLocationUpdate(w.Name, string(before), string(dest)))

	if err := s.ImplementDuePlans(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// ImplementDuePlans materializes reads for every plan of the plate whose
// storage location now matches the plate's physical location and that has
// no reads yet.
func (s *Service) ImplementDuePlans(ctx context.Context, w *Wellplate) error {
	plans, err := s.store.ListPlansByWellplate(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}
	for _, p := range plans {
		if p.StorageLocation != w.Location {
			continue
		}
		reads, err := s.store.ListReads(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list reads: %w", err)
		}
		if len(reads) > 0 {
			continue
		}
		if _, err := s.ImplementPlan(ctx, p.ID, time.Now().UTC()); err != nil {
			return err
		}
		s.logger.Info(ctx, "implemented plan on plate arrival",
			"plan_id", p.ID,
			"wellplate", w.Name,
			"location", w.Location,
		)
	}
	return nil
}

// CreateAcquisition registers a uniquely named acquisition.
func (s *Service) CreateAcquisition(ctx context.Context, name, instrument string) (*Acquisition, error) {
	if name == "" {
		return nil, Validationf("acquisition name is required")
	}
	a := &Acquisition{
		ID:         ulid.Make().String(),
		Name:       name,
		Instrument: instrument,
		IsActive:   true,
	}
	if err := s.store.PutAcquisition(ctx, a); err != nil {
		return nil, fmt.Errorf("put acquisition: %w", err)
	}
	return a, nil
}

// PlanParams carries the fields needed to create a plan.
type PlanParams struct {
	AcquisitionID   string
	WellplateID     string
	StorageLocation PlateLocation
	ProtocolName    string
	NReads          int
	Interval        time.Duration
	DeadlineOffset  *time.Duration
	Priority        Priority
}

// CreatePlan creates a read plan for an acquisition. Reads are not
// materialized here; that happens when the plate reaches the plan's
// storage location (or via ImplementPlan directly).
func (s *Service) CreatePlan(ctx context.Context, params PlanParams) (*Plan, error) {
	if params.NReads < 1 {
		return nil, Validationf("n_reads must be >= 1, got %d", params.NReads)
	}
	if params.Interval < 0 {
		return nil, Validationf("interval must not be negative")
	}
	if params.DeadlineOffset != nil && *params.DeadlineOffset <= 0 {
		return nil, Validationf("deadline_offset must be positive when set")
	}
	if params.Priority == "" {
		params.Priority = PriorityNormal
	}
	if _, ok, err := s.store.GetWellplate(ctx, params.WellplateID); err != nil {
		return nil, err
	} else if !ok {
		return nil, NotFoundf("wellplate %s", params.WellplateID)
	}
	if _, ok, err := s.store.GetAcquisition(ctx, params.AcquisitionID); err != nil {
		return nil, err
	} else if !ok {
		return nil, NotFoundf("acquisition %s", params.AcquisitionID)
	}

	p := &Plan{
		ID:              ulid.Make().String(),
		AcquisitionID:   params.AcquisitionID,
		WellplateID:     params.WellplateID,
		StorageLocation: params.StorageLocation,
		ProtocolName:    params.ProtocolName,
		NReads:          params.NReads,
		Interval:        params.Interval,
		DeadlineOffset:  params.DeadlineOffset,
		Priority:        params.Priority,
	}
	if err := s.store.PutPlan(ctx, p); err != nil {
		return nil, fmt.Errorf("put plan: %w", err)
	}
	return p, nil
}

// ImplementPlan materializes the plan's reads in bulk:
//
//	start_after_i = base + i*interval
//	deadline_i    = start_after_i + deadline_offset (or unset)
//
// All reads start PENDING. If the plan already has reads, they are
// returned unchanged: implementation is one-shot.
func (s *Service) ImplementPlan(ctx context.Context, planID string, base time.Time) ([]*Read, error) {
	p, ok, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NotFoundf("plan %s", planID)
	}

	existing, err := s.store.ListReads(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list reads: %w", err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	reads := make([]*Read, 0, p.NReads)
	for i := 0; i < p.NReads; i++ {
		startAfter := base.Add(time.Duration(i) * p.Interval)
		var deadline *time.Time
		if p.DeadlineOffset != nil {
			d := startAfter.Add(*p.DeadlineOffset)
			deadline = &d
		}
		reads = append(reads, &Read{
			ID:         ulid.Make().String(),
			PlanID:     p.ID,
			StartAfter: startAfter,
			Deadline:   deadline,
			Status:     ReadPending,
		})
	}
	if err := s.store.CreateReads(ctx, reads); err != nil {
		return nil, fmt.Errorf("create reads: %w", err)
	}
	return reads, nil
}

// UpdateReadStatus transitions a read and emits the status-update event.
// Endstates are final: transitions out of them are rejected.
func (s *Service) UpdateReadStatus(ctx context.Context, id string, status ReadStatus) (*Read, error) {
	r, ok, err := s.store.GetRead(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NotFoundf("read %s", id)
	}
	before := r.Status
	if before == status {
		return r, nil
	}
	if before.IsEndstate() {
		return nil, Validationf("read %s is %s and cannot transition to %s", id, before, status)
	}
	if err := s.store.UpdateReadStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("update read status: %w", err)
	}
	r.Status = status
	s.sink.Emit(ctx, events.ReadStatusUpdate(r.ID, string(before), string(status)))
	return r, nil
}

// EnsureCollection returns the collection row for the key, creating it if
// absent. A concurrent insert losing the uniqueness race is re-fetched
// instead of surfacing the conflict.
func (s *Service) EnsureCollection(ctx context.Context, acq *Acquisition, at ArtifactType, tier Tier) (*Collection, error) {
	c, ok, err := s.store.GetCollection(ctx, acq.ID, at, tier)
	if err != nil {
		return nil, err
	}
	if ok {
		return c, nil
	}
	now := time.Now().UTC()
	c = &Collection{
		ID:              ulid.Make().String(),
		AcquisitionID:   acq.ID,
		AcquisitionName: acq.Name,
		ArtifactType:    at,
		Tier:            tier,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.InsertCollection(ctx, c); err != nil {
		if errors.Is(err, ErrConflict) {
			c, ok, err = s.store.GetCollection(ctx, acq.ID, at, tier)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, NotFoundf("collection vanished after conflict for acquisition %s", acq.ID)
			}
			return c, nil
		}
		return nil, fmt.Errorf("insert collection: %w", err)
	}
	return c, nil
}

// Progress summarizes the acquisition's read progress for trigger
// evaluation.
func (s *Service) Progress(ctx context.Context, acquisitionID string) (PlanProgress, error) {
	var progress PlanProgress

	collections, err := s.store.ListCollections(ctx, acquisitionID)
	if err != nil {
		return progress, fmt.Errorf("list collections: %w", err)
	}
	progress.HasCollections = len(collections) > 0

	plan, ok, err := s.store.GetPlanByAcquisition(ctx, acquisitionID)
	if err != nil {
		return progress, err
	}
	if !ok {
		return progress, nil
	}
	progress.HasPlan = true
	progress.TotalReads = plan.NReads

	reads, err := s.store.ListReads(ctx, plan.ID)
	if err != nil {
		return progress, fmt.Errorf("list reads: %w", err)
	}
	for _, r := range reads {
		if r.Status == ReadCompleted {
			progress.Completed++
		}
		if r.Status.IsEndstate() {
			progress.Endstates++
		}
	}
	return progress, nil
}

// CreateAnalysisPlan creates the (single) analysis plan for an acquisition.
func (s *Service) CreateAnalysisPlan(ctx context.Context, acquisitionID string) (*AnalysisPlan, error) {
	if _, ok, err := s.store.GetAcquisition(ctx, acquisitionID); err != nil {
		return nil, err
	} else if !ok {
		return nil, NotFoundf("acquisition %s", acquisitionID)
	}
	p := &AnalysisPlan{
		ID:            ulid.Make().String(),
		AcquisitionID: acquisitionID,
	}
	if err := s.store.PutAnalysisPlan(ctx, p); err != nil {
		return nil, fmt.Errorf("put analysis plan: %w", err)
	}
	return p, nil
}

// AddAnalysisSpec attaches a trigger-gated batch command to an analysis
// plan. POST_READ requires a positive trigger value; the other kinds
// reject one.
func (s *Service) AddAnalysisSpec(ctx context.Context, planID string, trigger TriggerKind, triggerValue *int, command string, args []string) (*AnalysisSpec, error) {
	if command == "" {
		return nil, Validationf("analysis command is required")
	}
	if _, ok, err := s.store.GetAnalysisPlan(ctx, planID); err != nil {
		return nil, err
	} else if !ok {
		return nil, NotFoundf("analysis plan %s", planID)
	}
	switch trigger {
	case TriggerPostRead:
		if triggerValue == nil || *triggerValue < 1 {
			return nil, Validationf("POST_READ requires a trigger value >= 1")
		}
	case TriggerImmediate, TriggerEndOfRun:
		if triggerValue != nil {
			return nil, Validationf("%s does not take a trigger value", trigger)
		}
	default:
		return nil, Validationf("unknown trigger kind %q", trigger)
	}

	spec := &AnalysisSpec{
		ID:             ulid.Make().String(),
		AnalysisPlanID: planID,
		Trigger:        trigger,
		TriggerValue:   triggerValue,
		Command:        command,
		Args:           args,
		Status:         JobUnsubmitted,
	}
	if err := s.store.PutAnalysisSpec(ctx, spec); err != nil {
		return nil, fmt.Errorf("put analysis spec: %w", err)
	}
	return spec, nil
}
