// Package memstore provides an in-memory implementation of
// acquisition.Store. Suitable for dev/testing; it enforces the same
// uniqueness rules the postgres schema does.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
)

// Store holds the acquisition data model in memory.
type Store struct {
	mu sync.RWMutex

	wellplates    map[string]*acquisition.Wellplate
	acquisitions  map[string]*acquisition.Acquisition
	plans         map[string]*acquisition.Plan
	reads         map[string]*acquisition.Read
	collections   map[string]*acquisition.Collection
	analysisPlans map[string]*acquisition.AnalysisPlan
	analysisSpecs map[string]*acquisition.AnalysisSpec
	jobs          map[string]*acquisition.Job
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		wellplates:    make(map[string]*acquisition.Wellplate),
		acquisitions:  make(map[string]*acquisition.Acquisition),
		plans:         make(map[string]*acquisition.Plan),
		reads:         make(map[string]*acquisition.Read),
		collections:   make(map[string]*acquisition.Collection),
		analysisPlans: make(map[string]*acquisition.AnalysisPlan),
		analysisSpecs: make(map[string]*acquisition.AnalysisSpec),
		jobs:          make(map[string]*acquisition.Job),
	}
}

// PutWellplate stores a copy of the wellplate.
func (s *Store) PutWellplate(_ context.Context, w *acquisition.Wellplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.wellplates {
		if existing.Name == w.Name && existing.ID != w.ID {
			return acquisition.Conflictf("wellplate name %q already taken", w.Name)
		}
	}
	cp := *w
	s.wellplates[w.ID] = &cp
	return nil
}

// GetWellplate retrieves a wellplate by ID. Returns a copy.
func (s *Store) GetWellplate(_ context.Context, id string) (*acquisition.Wellplate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wellplates[id]
	if !ok {
		return nil, false, nil
	}
	cp := *w
	return &cp, true, nil
}

// GetWellplateByName retrieves a wellplate by barcode name. Returns a copy.
func (s *Store) GetWellplateByName(_ context.Context, name string) (*acquisition.Wellplate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wellplates {
		if w.Name == name {
			cp := *w
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// PutAcquisition stores a copy of the acquisition, enforcing unique names.
func (s *Store) PutAcquisition(_ context.Context, a *acquisition.Acquisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.acquisitions {
		if existing.Name == a.Name && existing.ID != a.ID {
			return acquisition.Conflictf("acquisition name %q already taken", a.Name)
		}
	}
	cp := *a
	s.acquisitions[a.ID] = &cp
	return nil
}

// GetAcquisition retrieves an acquisition by ID. Returns a copy.
func (s *Store) GetAcquisition(_ context.Context, id string) (*acquisition.Acquisition, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.acquisitions[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// GetAcquisitionByName retrieves an acquisition by name. Returns a copy.
func (s *Store) GetAcquisitionByName(_ context.Context, name string) (*acquisition.Acquisition, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.acquisitions {
		if a.Name == name {
			cp := *a
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// PutPlan stores a copy of the plan. One plan per acquisition.
func (s *Store) PutPlan(_ context.Context, p *acquisition.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.plans {
		if existing.AcquisitionID == p.AcquisitionID && existing.ID != p.ID {
			return acquisition.Conflictf("acquisition %s already has a plan", p.AcquisitionID)
		}
	}
	cp := *p
	s.plans[p.ID] = &cp
	return nil
}

// GetPlan retrieves a plan by ID. Returns a copy.
func (s *Store) GetPlan(_ context.Context, id string) (*acquisition.Plan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

// GetPlanByAcquisition retrieves the plan linked to an acquisition.
func (s *Store) GetPlanByAcquisition(_ context.Context, acquisitionID string) (*acquisition.Plan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.AcquisitionID == acquisitionID {
			cp := *p
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// ListPlansByWellplate returns all plans referencing the wellplate.
func (s *Store) ListPlansByWellplate(_ context.Context, wellplateID string) ([]*acquisition.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acquisition.Plan
	for _, p := range s.plans {
		if p.WellplateID == wellplateID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateReads bulk-inserts reads.
func (s *Store) CreateReads(_ context.Context, reads []*acquisition.Read) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range reads {
		cp := *r
		s.reads[r.ID] = &cp
	}
	return nil
}

// GetRead retrieves a read by ID. Returns a copy.
func (s *Store) GetRead(_ context.Context, id string) (*acquisition.Read, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reads[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// ListReads returns the reads of a plan ordered by start_after.
func (s *Store) ListReads(_ context.Context, planID string) ([]*acquisition.Read, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acquisition.Read
	for _, r := range s.reads {
		if r.PlanID == planID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAfter.Before(out[j].StartAfter) })
	return out, nil
}

// UpdateReadStatus sets the status of a read.
func (s *Store) UpdateReadStatus(_ context.Context, id string, status acquisition.ReadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reads[id]
	if !ok {
		return acquisition.NotFoundf("read %s", id)
	}
	r.Status = status
	return nil
}

// CancelPastDeadline transitions PENDING reads with deadline < now to
// CANCELLED and returns how many were cancelled.
func (s *Store) CancelPastDeadline(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.reads {
		if r.Status == acquisition.ReadPending && r.Deadline != nil && r.Deadline.Before(now) {
			r.Status = acquisition.ReadCancelled
			n++
		}
	}
	return n, nil
}

// AnyReadRunning reports whether any read is RUNNING.
func (s *Store) AnyReadRunning(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reads {
		if r.Status == acquisition.ReadRunning {
			return true, nil
		}
	}
	return false, nil
}

// NextTask selects the earliest dispatchable PENDING read for a priority
// class, honoring the plate/plan co-location precondition.
func (s *Store) NextTask(_ context.Context, priority acquisition.Priority, before time.Time) (*acquisition.Read, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *acquisition.Read
	for _, r := range s.reads {
		if r.Status != acquisition.ReadPending || !r.StartAfter.Before(before) {
			continue
		}
		plan, ok := s.plans[r.PlanID]
		if !ok || plan.Priority != priority {
			continue
		}
		plate, ok := s.wellplates[plan.WellplateID]
		if !ok || plate.Location != plan.StorageLocation {
			continue
		}
		if best == nil || r.StartAfter.Before(best.StartAfter) {
			best = r
		}
	}
	if best == nil {
		return nil, false, nil
	}
	cp := *best
	return &cp, true, nil
}

// InsertCollection stores a collection, rejecting duplicates of the
// (acquisition, artifact type, tier) key.
func (s *Store) InsertCollection(_ context.Context, c *acquisition.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.collections {
		if existing.AcquisitionID == c.AcquisitionID &&
			existing.ArtifactType == c.ArtifactType &&
			existing.Tier == c.Tier {
			return acquisition.Conflictf("collection exists for (%s, %s, %s)",
				c.AcquisitionID, c.ArtifactType, c.Tier)
		}
	}
	cp := *c
	s.collections[c.ID] = &cp
	return nil
}

// GetCollection retrieves a collection by its unique key.
func (s *Store) GetCollection(_ context.Context, acquisitionID string, at acquisition.ArtifactType, tier acquisition.Tier) (*acquisition.Collection, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.collections {
		if c.AcquisitionID == acquisitionID && c.ArtifactType == at && c.Tier == tier {
			cp := *c
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// ListCollections returns all collections of an acquisition.
func (s *Store) ListCollections(_ context.Context, acquisitionID string) ([]*acquisition.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acquisition.Collection
	for _, c := range s.collections {
		if c.AcquisitionID == acquisitionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteCollection removes a collection row.
func (s *Store) DeleteCollection(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[id]; !ok {
		return acquisition.NotFoundf("collection %s", id)
	}
	delete(s.collections, id)
	return nil
}

// TouchCollection bumps a collection's last-update timestamp.
func (s *Store) TouchCollection(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[id]
	if !ok {
		return acquisition.NotFoundf("collection %s", id)
	}
	c.UpdatedAt = now
	return nil
}

// PutAnalysisPlan stores an analysis plan. One per acquisition.
func (s *Store) PutAnalysisPlan(_ context.Context, p *acquisition.AnalysisPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.analysisPlans {
		if existing.AcquisitionID == p.AcquisitionID && existing.ID != p.ID {
			return acquisition.Conflictf("acquisition %s already has an analysis plan", p.AcquisitionID)
		}
	}
	cp := *p
	s.analysisPlans[p.ID] = &cp
	return nil
}

// GetAnalysisPlan retrieves an analysis plan by id.
func (s *Store) GetAnalysisPlan(_ context.Context, id string) (*acquisition.AnalysisPlan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.analysisPlans[id]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

// GetAnalysisPlanByAcquisition retrieves the analysis plan of an acquisition.
func (s *Store) GetAnalysisPlanByAcquisition(_ context.Context, acquisitionID string) (*acquisition.AnalysisPlan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.analysisPlans {
		if p.AcquisitionID == acquisitionID {
			cp := *p
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// PutAnalysisSpec stores a copy of the spec.
func (s *Store) PutAnalysisSpec(_ context.Context, spec *acquisition.AnalysisSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *spec
	cp.Args = append([]string(nil), spec.Args...)
	s.analysisSpecs[spec.ID] = &cp
	return nil
}

// ListAnalysisSpecs returns the specs of an analysis plan.
func (s *Store) ListAnalysisSpecs(_ context.Context, analysisPlanID string) ([]*acquisition.AnalysisSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acquisition.AnalysisSpec
	for _, spec := range s.analysisSpecs {
		if spec.AnalysisPlanID == analysisPlanID {
			cp := *spec
			cp.Args = append([]string(nil), spec.Args...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateAnalysisSpecStatus sets a spec's submission status.
func (s *Store) UpdateAnalysisSpecStatus(_ context.Context, id string, status acquisition.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.analysisSpecs[id]
	if !ok {
		return acquisition.NotFoundf("analysis spec %s", id)
	}
	spec.Status = status
	return nil
}

// InsertJob stores a job, rejecting a second job for the same spec.
func (s *Store) InsertJob(_ context.Context, j *acquisition.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.SpecID == j.SpecID {
			return acquisition.Conflictf("spec %s already has job %s", j.SpecID, existing.ID)
		}
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

// GetJobBySpec retrieves the job bound to a spec.
func (s *Store) GetJobBySpec(_ context.Context, specID string) (*acquisition.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.SpecID == specID {
			cp := *j
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// ListActiveJobs returns jobs not yet in a terminal status.
func (s *Store) ListActiveJobs(_ context.Context) ([]*acquisition.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acquisition.Job
	for _, j := range s.jobs {
		if !j.Status.IsTerminal() {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateJob stores the job's current status and ingestion flag.
func (s *Store) UpdateJob(_ context.Context, j *acquisition.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return acquisition.NotFoundf("job %s", j.ID)
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

// ListActiveAcquisitions returns acquisitions flagged active.
func (s *Store) ListActiveAcquisitions(_ context.Context) ([]*acquisition.Acquisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acquisition.Acquisition
	for _, a := range s.acquisitions {
		if a.IsActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
