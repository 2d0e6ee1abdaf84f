package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
)

//  Plans

const planColumns = `id, acquisition_id, wellplate_id, storage_location, protocol_name,
	n_reads, interval_ns, deadline_offset_ns, priority`

// PutPlan inserts or updates a plan.
func (s *Store) PutPlan(ctx context.Context, p *acquisition.Plan) error {
	ctx, span := startSpan(ctx, "pgstore.PutPlan", "UPSERT")
	defer span.End()

	var offsetNS *int64
	if p.DeadlineOffset != nil {
		ns := p.DeadlineOffset.Nanoseconds()
		offsetNS = &ns
	}

	query := `INSERT INTO plans (` + planColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (id) DO UPDATE SET
		storage_location   = EXCLUDED.storage_location,
		protocol_name      = EXCLUDED.protocol_name,
		n_reads            = EXCLUDED.n_reads,
		interval_ns        = EXCLUDED.interval_ns,
		deadline_offset_ns = EXCLUDED.deadline_offset_ns,
		priority           = EXCLUDED.priority`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.AcquisitionID, p.WellplateID, string(p.StorageLocation), p.ProtocolName,
		p.NReads, p.Interval.Nanoseconds(), offsetNS, string(p.Priority),
	)
	if err != nil {
		recordErr(span, err)
		if isUniqueViolation(err) {
			return acquisition.Conflictf("acquisition %s already has a plan", p.AcquisitionID)
		}
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan by ID.
func (s *Store) GetPlan(ctx context.Context, id string) (*acquisition.Plan, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetPlan", "SELECT")
	defer span.End()

	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	return s.scanPlan(span, s.pool.QueryRow(ctx, query, id))
}

// GetPlanByAcquisition retrieves the plan of an acquisition.
func (s *Store) GetPlanByAcquisition(ctx context.Context, acquisitionID string) (*acquisition.Plan, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetPlanByAcquisition", "SELECT")
	defer span.End()

	query := `SELECT ` + planColumns + ` FROM plans WHERE acquisition_id = $1`
	return s.scanPlan(span, s.pool.QueryRow(ctx, query, acquisitionID))
}

// ListPlansByWellplate returns every plan referencing the wellplate.
func (s *Store) ListPlansByWellplate(ctx context.Context, wellplateID string) ([]*acquisition.Plan, error) {
	ctx, span := startSpan(ctx, "pgstore.ListPlansByWellplate", "SELECT")
	defer span.End()

	query := `SELECT ` + planColumns + ` FROM plans WHERE wellplate_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, wellplateID)
	if err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []*acquisition.Plan
	for rows.Next() {
		p, _, err := s.scanPlanRow(span, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		recordErr(span, err)
		return nil, err
	}
	return out, nil
}

func (s *Store) scanPlan(span trace.Span, row pgx.Row) (*acquisition.Plan, bool, error) {
	p, ok, err := s.scanPlanRow(span, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	return p, ok, err
}

func (s *Store) scanPlanRow(span trace.Span, row pgx.Row) (*acquisition.Plan, bool, error) {
	var p acquisition.Plan
	var location, priority string
	var intervalNS int64
	var offsetNS *int64
	err := row.Scan(&p.ID, &p.AcquisitionID, &p.WellplateID, &location, &p.ProtocolName,
		&p.NReads, &intervalNS, &offsetNS, &priority)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("scan plan: %w", err)
	}
	p.StorageLocation = acquisition.PlateLocation(location)
	p.Priority = acquisition.Priority(priority)
	p.Interval = time.Duration(intervalNS)
	if offsetNS != nil {
		d := time.Duration(*offsetNS)
		p.DeadlineOffset = &d
	}
	return &p, true, nil
}

//  Reads

const readColumns = `id, plan_id, start_after, deadline, status`

// CreateReads bulk-inserts the materialized reads of a plan.
func (s *Store) CreateReads(ctx context.Context, reads []*acquisition.Read) error {
	ctx, span := startSpan(ctx, "pgstore.CreateReads", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		recordErr(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	query := `INSERT INTO plate_reads (` + readColumns + `) VALUES ($1,$2,$3,$4,$5)`
	for _, r := range reads {
		if _, err := tx.Exec(ctx, query, r.ID, r.PlanID, r.StartAfter, r.Deadline, string(r.Status)); err != nil {
			recordErr(span, err)
			return fmt.Errorf("insert read: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		recordErr(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetRead retrieves a read by ID.
func (s *Store) GetRead(ctx context.Context, id string) (*acquisition.Read, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetRead", "SELECT")
	defer span.End()

	query := `SELECT ` + readColumns + ` FROM plate_reads WHERE id = $1`
	return s.scanRead(span, s.pool.QueryRow(ctx, query, id))
}

// ListReads returns the plan's reads ordered by start_after.
func (s *Store) ListReads(ctx context.Context, planID string) ([]*acquisition.Read, error) {
	ctx, span := startSpan(ctx, "pgstore.ListReads", "SELECT")
	defer span.End()

	query := `SELECT ` + readColumns + ` FROM plate_reads WHERE plan_id = $1 ORDER BY start_after, id`
	rows, err := s.pool.Query(ctx, query, planID)
	if err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("list reads: %w", err)
	}
	defer rows.Close()

	var out []*acquisition.Read
	for rows.Next() {
		var r acquisition.Read
		var status string
		if err := rows.Scan(&r.ID, &r.PlanID, &r.StartAfter, &r.Deadline, &status); err != nil {
			recordErr(span, err)
			return nil, fmt.Errorf("scan read: %w", err)
		}
		r.Status = acquisition.ReadStatus(status)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		recordErr(span, err)
		return nil, err
	}
	return out, nil
}

// UpdateReadStatus sets the read's status.
func (s *Store) UpdateReadStatus(ctx context.Context, id string, status acquisition.ReadStatus) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateReadStatus", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE plate_reads SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		recordErr(span, err)
		if isUniqueViolation(err) {
			return acquisition.Conflictf("another read is already RUNNING")
		}
		return fmt.Errorf("update read status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return acquisition.NotFoundf("read %s", id)
	}
	return nil
}

// CancelPastDeadline cancels every PENDING read whose deadline passed.
func (s *Store) CancelPastDeadline(ctx context.Context, now time.Time) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.CancelPastDeadline", "UPDATE")
	defer span.End()

	query := `UPDATE plate_reads SET status = 'CANCELLED'
	WHERE status = 'PENDING' AND deadline IS NOT NULL AND deadline < $1`
	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		recordErr(span, err)
		return 0, fmt.Errorf("cancel past deadline: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AnyReadRunning reports whether any read is RUNNING anywhere.
func (s *Store) AnyReadRunning(ctx context.Context) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.AnyReadRunning", "SELECT")
	defer span.End()

	var running bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM plate_reads WHERE status = 'RUNNING')`).Scan(&running)
	if err != nil {
		recordErr(span, err)
		return false, fmt.Errorf("any read running: %w", err)
	}
	return running, nil
}

// NextTask returns the earliest dispatchable PENDING read for a priority,
// restricted to plans whose plate currently sits at the storage location.
func (s *Store) NextTask(ctx context.Context, priority acquisition.Priority, before time.Time) (*acquisition.Read, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.NextTask", "SELECT")
	defer span.End()

	query := `SELECT r.id, r.plan_id, r.start_after, r.deadline, r.status
	FROM plate_reads r
	JOIN plans p ON p.id = r.plan_id
	JOIN wellplates w ON w.id = p.wellplate_id
	WHERE r.status = 'PENDING'
	  AND p.priority = $1
	  AND r.start_after < $2
	  AND w.location = p.storage_location
	ORDER BY r.start_after, r.id
	LIMIT 1`
	return s.scanRead(span, s.pool.QueryRow(ctx, query, string(priority), before))
}

func (s *Store) scanRead(span trace.Span, row pgx.Row) (*acquisition.Read, bool, error) {
	var r acquisition.Read
	var status string
	err := row.Scan(&r.ID, &r.PlanID, &r.StartAfter, &r.Deadline, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("scan read: %w", err)
	}
	r.Status = acquisition.ReadStatus(status)
	return &r, true, nil
}
