package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
)

//  Analysis plans and specs

// PutAnalysisPlan inserts or updates an analysis plan.
func (s *Store) PutAnalysisPlan(ctx context.Context, p *acquisition.AnalysisPlan) error {
	ctx, span := startSpan(ctx, "pgstore.PutAnalysisPlan", "UPSERT")
	defer span.End()

	query := `INSERT INTO analysis_plans (id, acquisition_id) VALUES ($1,$2)
	ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, p.ID, p.AcquisitionID)
	if err != nil {
		recordErr(span, err)
		if isUniqueViolation(err) {
			return acquisition.Conflictf("acquisition %s already has an analysis plan", p.AcquisitionID)
		}
		return fmt.Errorf("upsert analysis plan: %w", err)
	}
	return nil
}

// GetAnalysisPlan retrieves an analysis plan by id.
func (s *Store) GetAnalysisPlan(ctx context.Context, id string) (*acquisition.AnalysisPlan, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAnalysisPlan", "SELECT")
	defer span.End()

	var p acquisition.AnalysisPlan
	err := s.pool.QueryRow(ctx,
		`SELECT id, acquisition_id FROM analysis_plans WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.AcquisitionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("scan analysis plan: %w", err)
	}
	return &p, true, nil
}

// GetAnalysisPlanByAcquisition retrieves the analysis plan of an acquisition.
func (s *Store) GetAnalysisPlanByAcquisition(ctx context.Context, acquisitionID string) (*acquisition.AnalysisPlan, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAnalysisPlanByAcquisition", "SELECT")
	defer span.End()

	var p acquisition.AnalysisPlan
	err := s.pool.QueryRow(ctx,
		`SELECT id, acquisition_id FROM analysis_plans WHERE acquisition_id = $1`,
		acquisitionID,
	).Scan(&p.ID, &p.AcquisitionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("scan analysis plan: %w", err)
	}
	return &p, true, nil
}

const specColumns = `id, analysis_plan_id, trigger_kind, trigger_value, command, args, status`

// PutAnalysisSpec inserts or updates an analysis spec.
func (s *Store) PutAnalysisSpec(ctx context.Context, spec *acquisition.AnalysisSpec) error {
	ctx, span := startSpan(ctx, "pgstore.PutAnalysisSpec", "UPSERT")
	defer span.End()

	query := `INSERT INTO analysis_specs (` + specColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (id) DO UPDATE SET
		trigger_kind  = EXCLUDED.trigger_kind,
		trigger_value = EXCLUDED.trigger_value,
		command       = EXCLUDED.command,
		args          = EXCLUDED.args,
		status        = EXCLUDED.status`

	args := spec.Args
	if args == nil {
		args = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		spec.ID, spec.AnalysisPlanID, string(spec.Trigger), spec.TriggerValue,
		spec.Command, args, string(spec.Status),
	)
	if err != nil {
		recordErr(span, err)
		return fmt.Errorf("upsert analysis spec: %w", err)
	}
	return nil
}

// ListAnalysisSpecs returns every spec of an analysis plan.
func (s *Store) ListAnalysisSpecs(ctx context.Context, analysisPlanID string) ([]*acquisition.AnalysisSpec, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAnalysisSpecs", "SELECT")
	defer span.End()

	query := `SELECT ` + specColumns + ` FROM analysis_specs WHERE analysis_plan_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, analysisPlanID)
	if err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("list analysis specs: %w", err)
	}
	defer rows.Close()

	var out []*acquisition.AnalysisSpec
	for rows.Next() {
		var spec acquisition.AnalysisSpec
		var trigger, status string
		if err := rows.Scan(&spec.ID, &spec.AnalysisPlanID, &trigger, &spec.TriggerValue,
			&spec.Command, &spec.Args, &status); err != nil {
			recordErr(span, err)
			return nil, fmt.Errorf("scan analysis spec: %w", err)
		}
		spec.Trigger = acquisition.TriggerKind(trigger)
		spec.Status = acquisition.JobStatus(status)
		out = append(out, &spec)
	}
	if err := rows.Err(); err != nil {
		recordErr(span, err)
		return nil, err
	}
	return out, nil
}

// UpdateAnalysisSpecStatus sets a spec's submission status.
func (s *Store) UpdateAnalysisSpecStatus(ctx context.Context, id string, status acquisition.JobStatus) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateAnalysisSpecStatus", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE analysis_specs SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		recordErr(span, err)
		return fmt.Errorf("update analysis spec status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return acquisition.NotFoundf("analysis spec %s", id)
	}
	return nil
}

//  Jobs

const jobColumns = `id, spec_id, batch_id, status, ingested, submitted_at, updated_at`

// InsertJob binds a job to a spec. A second job for the same spec
// surfaces as ErrConflict.
func (s *Store) InsertJob(ctx context.Context, j *acquisition.Job) error {
	ctx, span := startSpan(ctx, "pgstore.InsertJob", "INSERT")
	defer span.End()

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.pool.Exec(ctx, query,
		j.ID, j.SpecID, j.BatchID, string(j.Status), j.Ingested, j.SubmittedAt, j.UpdatedAt,
	)
	if err != nil {
		recordErr(span, err)
		if isUniqueViolation(err) {
			return acquisition.Conflictf("spec %s already has a job", j.SpecID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJobBySpec retrieves the job bound to a spec.
func (s *Store) GetJobBySpec(ctx context.Context, specID string) (*acquisition.Job, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetJobBySpec", "SELECT")
	defer span.End()

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE spec_id = $1`
	return s.scanJob(span, s.pool.QueryRow(ctx, query, specID))
}

// ListActiveJobs returns every job not yet in a terminal status.
func (s *Store) ListActiveJobs(ctx context.Context) ([]*acquisition.Job, error) {
	ctx, span := startSpan(ctx, "pgstore.ListActiveJobs", "SELECT")
	defer span.End()

	query := `SELECT ` + jobColumns + ` FROM jobs
	WHERE status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED', 'UNHANDLED')
	ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var out []*acquisition.Job
	for rows.Next() {
		var j acquisition.Job
		var status string
		if err := rows.Scan(&j.ID, &j.SpecID, &j.BatchID, &status, &j.Ingested, &j.SubmittedAt, &j.UpdatedAt); err != nil {
			recordErr(span, err)
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Status = acquisition.JobStatus(status)
		out = append(out, &j)
	}
	if err := rows.Err(); err != nil {
		recordErr(span, err)
		return nil, err
	}
	return out, nil
}

// UpdateJob writes back a job's status fields.
func (s *Store) UpdateJob(ctx context.Context, j *acquisition.Job) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateJob", "UPDATE")
	defer span.End()

	query := `UPDATE jobs SET status = $2, ingested = $3, updated_at = $4 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, j.ID, string(j.Status), j.Ingested, j.UpdatedAt)
	if err != nil {
		recordErr(span, err)
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return acquisition.NotFoundf("job %s", j.ID)
	}
	return nil
}

func (s *Store) scanJob(span trace.Span, row pgx.Row) (*acquisition.Job, bool, error) {
	var j acquisition.Job
	var status string
	err := row.Scan(&j.ID, &j.SpecID, &j.BatchID, &status, &j.Ingested, &j.SubmittedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("scan job: %w", err)
	}
	j.Status = acquisition.JobStatus(status)
	return &j, true, nil
}
