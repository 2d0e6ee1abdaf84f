// Package acquisition holds the shared data model for plate-imaging runs:
// wellplates, acquisition plans and their scheduled reads, artifact
// collections, and batch-analysis plans with their submitted jobs.
package acquisition

import "time"

// ReadStatus tracks where a plate read is in its lifecycle.
type ReadStatus string

const (
	// ReadPending means materialized from a plan, not yet dispatched.
	ReadPending ReadStatus = "PENDING"

	// ReadScheduled means handed off to the instrument-control channel.
	ReadScheduled ReadStatus = "SCHEDULED"

	// ReadRunning means the instrument is currently imaging the plate.
	ReadRunning ReadStatus = "RUNNING"

	// ReadCompleted means the read finished and produced data.
	ReadCompleted ReadStatus = "COMPLETED"

	// ReadCancelled means a user- or deadline-initiated stop.
	ReadCancelled ReadStatus = "CANCELLED"

	// ReadAborted means a system-initiated stop.
	ReadAborted ReadStatus = "ABORTED"

	// ReadReset is an administrative status; the scheduler ignores it.
	ReadReset ReadStatus = "RESET"
)

// IsEndstate reports whether the status is terminal.
func (s ReadStatus) IsEndstate() bool {
	return s == ReadCompleted || s == ReadCancelled || s == ReadAborted
}

// JobStatus tracks an analysis spec submission and its downstream batch job.
type JobStatus string

const (
	JobUnsubmitted JobStatus = "UNSUBMITTED"
	JobSubmitted   JobStatus = "SUBMITTED"
	JobPending     JobStatus = "PENDING"
	JobRunning     JobStatus = "RUNNING"
	JobCompleted   JobStatus = "COMPLETED"
	JobFailed      JobStatus = "FAILED"
	JobCancelled   JobStatus = "CANCELLED"
	JobPreempted   JobStatus = "PREEMPTED"
	JobSuspended   JobStatus = "SUSPENDED"
	JobUnhandled   JobStatus = "UNHANDLED"
)

// IsTerminal reports whether the cluster will never change this status again.
// UNHANDLED is terminal: it marks a state string we could not classify and
// that an operator has to look at.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobUnhandled:
		return true
	}
	return false
}

// Priority orders reads for dispatch. NORMAL reads always win over LOW.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// Tier names one of the three storage locations for artifact data.
type Tier string

const (
	// TierAcquisition is the hot store the instrument writes into.
	TierAcquisition Tier = "ACQUISITION_STORE"

	// TierAnalysis is the working copy the compute cluster reads from.
	TierAnalysis Tier = "ANALYSIS_STORE"

	// TierArchive holds one compressed tarball per collection.
	TierArchive Tier = "ARCHIVE_STORE"
)

// ArtifactType distinguishes raw capture data from derived analysis data.
type ArtifactType string

const (
	ArtifactAcquisitionData ArtifactType = "ACQUISITION_DATA"
	ArtifactAnalysisData    ArtifactType = "ANALYSIS_DATA"
)

// TriggerKind is the condition class that causes an analysis spec to submit.
type TriggerKind string

const (
	// TriggerImmediate fires as soon as any data collection exists.
	TriggerImmediate TriggerKind = "IMMEDIATE"

	// TriggerPostRead fires when the completed-read count first equals
	// the spec's trigger value (exact match, not >=).
	TriggerPostRead TriggerKind = "POST_READ"

	// TriggerEndOfRun fires when every read of the plan is in an endstate.
	TriggerEndOfRun TriggerKind = "END_OF_RUN"
)

// PlateLocation is a physical position a wellplate can occupy.
type PlateLocation string

const (
	LocationCQ1      PlateLocation = "CQ1"
	LocationKX2      PlateLocation = "KX2"
	LocationCytomat2 PlateLocation = "CYTOMAT2"
	LocationHotel    PlateLocation = "HOTEL"
	LocationExternal PlateLocation = "EXTERNAL"
)

// Wellplate is a physical plate tracked by barcode name.
type Wellplate struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Location PlateLocation `json:"location"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Plan is the template for n reads of one wellplate at a fixed interval.
// It is created once; reads are materialized from it (see
// Service.ImplementPlan) and it is effectively immutable afterwards.
type Plan struct {
	ID            string `json:"id"`
	AcquisitionID string `json:"acquisition_id"`
	WellplateID   string `json:"wellplate_id"`

	// StorageLocation is where the plate must physically sit for its
	// reads to be dispatchable (co-location precondition).
	StorageLocation PlateLocation `json:"storage_location"`

	ProtocolName   string         `json:"protocol_name"`
	NReads         int            `json:"n_reads"`
	Interval       time.Duration  `json:"interval"`
	DeadlineOffset *time.Duration `json:"deadline_offset,omitempty"`
	Priority       Priority       `json:"priority"`
}

// Read is one scheduled imaging pass of a wellplate.
type Read struct {
	ID     string `json:"id"`
	PlanID string `json:"plan_id"`

	StartAfter time.Time  `json:"start_after"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	Status     ReadStatus `json:"status"`
}

// Acquisition names a run and links its plan, analysis plan, instrument,
// and artifact collections. It may exist without a plan (ad hoc data).
type Acquisition struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Instrument string `json:"instrument"`
	IsActive   bool   `json:"is_active"`
}

// Collection is the file set for one (acquisition, artifact type) pair,
// resident in exactly one tier at a time. A row exists at a tier iff the
// backing data exists there.
type Collection struct {
	ID              string       `json:"id"`
	AcquisitionID   string       `json:"acquisition_id"`
	AcquisitionName string       `json:"acquisition_name"`
	ArtifactType    ArtifactType `json:"artifact_type"`
	Tier            Tier         `json:"tier"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnalysisPlan groups the batch-analysis specs for one acquisition.
type AnalysisPlan struct {
	ID            string `json:"id"`
	AcquisitionID string `json:"acquisition_id"`
}

// AnalysisSpec is one trigger-gated batch submission: when the trigger
// condition is met, Command+Args are handed to the external executor.
type AnalysisSpec struct {
	ID             string `json:"id"`
	AnalysisPlanID string `json:"analysis_plan_id"`

	Trigger TriggerKind `json:"trigger"`

	// TriggerValue is the read count k for POST_READ; nil otherwise.
	TriggerValue *int `json:"trigger_value,omitempty"`

	Command string    `json:"command"`
	Args    []string  `json:"args"`
	Status  JobStatus `json:"status"`
}

// Job binds one spec submission to the cluster's opaque job handle.
type Job struct {
	ID       string `json:"id"`
	SpecID   string `json:"spec_id"`
	BatchID  string `json:"batch_id"` // opaque id assigned by the executor
	Status   JobStatus `json:"status"`
	Ingested bool      `json:"ingested"` // downstream ingestion hook already fired

	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PlanProgress summarizes read progress for trigger evaluation.
type PlanProgress struct {
	// HasPlan is false for ad hoc acquisitions; only IMMEDIATE triggers
	// are evaluated then.
	HasPlan bool

	TotalReads int
	Completed  int
	Endstates  int

	// HasCollections reports whether any data collection exists for the
	// acquisition.
	HasCollections bool
}

// Resolved reports whether the plan's reads all reached an endstate.
func (p PlanProgress) Resolved() bool {
	return p.HasPlan && p.TotalReads > 0 && p.Endstates == p.TotalReads
}
