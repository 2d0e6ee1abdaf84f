package acquisition

import (
	"context"
	"time"
)

// Store is the persistence boundary for the acquisition data model. Both
// implementations (pgstore, memstore) enforce the same uniqueness rules:
// one collection row per (acquisition, artifact type, tier), one job per
// spec, and at most one RUNNING read globally.
//
// Lookups return (nil, false, nil) when the entity does not exist; errors
// are reserved for real failures.
type Store interface {
	// Wellplates.
	PutWellplate(ctx context.Context, w *Wellplate) error
	GetWellplate(ctx context.Context, id string) (*Wellplate, bool, error)
	GetWellplateByName(ctx context.Context, name string) (*Wellplate, bool, error)

	// Acquisitions.
	PutAcquisition(ctx context.Context, a *Acquisition) error
	GetAcquisition(ctx context.Context, id string) (*Acquisition, bool, error)
	GetAcquisitionByName(ctx context.Context, name string) (*Acquisition, bool, error)

	// Plans and reads.
	PutPlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, bool, error)
	GetPlanByAcquisition(ctx context.Context, acquisitionID string) (*Plan, bool, error)
	ListPlansByWellplate(ctx context.Context, wellplateID string) ([]*Plan, error)

	// CreateReads bulk-inserts the materialized reads of a plan.
	CreateReads(ctx context.Context, reads []*Read) error
	GetRead(ctx context.Context, id string) (*Read, bool, error)
	ListReads(ctx context.Context, planID string) ([]*Read, error)
	UpdateReadStatus(ctx context.Context, id string, status ReadStatus) error

	// CancelPastDeadline transitions every PENDING read whose deadline is
	// before now to CANCELLED and returns the number of reads cancelled.
	CancelPastDeadline(ctx context.Context, now time.Time) (int, error)

	// AnyReadRunning reports whether any read is RUNNING anywhere.
	AnyReadRunning(ctx context.Context) (bool, error)

	// NextTask returns the PENDING read with the smallest start_after
	// strictly before the given bound, restricted to plans of the given
	// priority whose wellplate currently sits at the plan's storage
	// location. Ties break by earliest start_after.
	NextTask(ctx context.Context, priority Priority, before time.Time) (*Read, bool, error)

	// Collections. InsertCollection returns ErrConflict (wrapped) when a
	// row for the same (acquisition, artifact type, tier) already exists.
	InsertCollection(ctx context.Context, c *Collection) error
	GetCollection(ctx context.Context, acquisitionID string, at ArtifactType, tier Tier) (*Collection, bool, error)
	ListCollections(ctx context.Context, acquisitionID string) ([]*Collection, error)
	DeleteCollection(ctx context.Context, id string) error
	TouchCollection(ctx context.Context, id string, now time.Time) error

	// Analysis plans, specs, jobs.
	PutAnalysisPlan(ctx context.Context, p *AnalysisPlan) error
	GetAnalysisPlan(ctx context.Context, id string) (*AnalysisPlan, bool, error)
	GetAnalysisPlanByAcquisition(ctx context.Context, acquisitionID string) (*AnalysisPlan, bool, error)
	PutAnalysisSpec(ctx context.Context, s *AnalysisSpec) error
	ListAnalysisSpecs(ctx context.Context, analysisPlanID string) ([]*AnalysisSpec, error)
	UpdateAnalysisSpecStatus(ctx context.Context, id string, status JobStatus) error

	// InsertJob returns ErrConflict (wrapped) when the spec already has a
	// job bound to it.
	InsertJob(ctx context.Context, j *Job) error
	GetJobBySpec(ctx context.Context, specID string) (*Job, bool, error)
	ListActiveJobs(ctx context.Context) ([]*Job, error)
	UpdateJob(ctx context.Context, j *Job) error

	// ListActiveAcquisitions returns acquisitions still flagged active,
	// used by the periodic trigger-evaluation tick.
	ListActiveAcquisitions(ctx context.Context) ([]*Acquisition, error)
}
