// Package pgstore provides a PostgreSQL implementation of acquisition.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
)

var tracer = otel.Tracer("github.com/linnemanlabs/plateflow/internal/acquisition/pgstore")

//go:embed schema.sql
var schema string

// Store persists the acquisition data model in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ acquisition.Store = (*Store)(nil)

// New applies the schema and returns a ready Store. The pool stays owned
// by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

//  Wellplates

const wellplateColumns = `id, name, location, created_at, updated_at`

// PutWellplate inserts or updates a wellplate.
func (s *Store) PutWellplate(ctx context.Context, w *acquisition.Wellplate) error {
	ctx, span := startSpan(ctx, "pgstore.PutWellplate", "UPSERT")
	defer span.End()

	query := `INSERT INTO wellplates (` + wellplateColumns + `) VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (id) DO UPDATE SET
		name       = EXCLUDED.name,
		location   = EXCLUDED.location,
		updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query, w.ID, w.Name, string(w.Location), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		recordErr(span, err)
		if isUniqueViolation(err) {
			return acquisition.Conflictf("wellplate name %s already exists", w.Name)
		}
		return fmt.Errorf("upsert wellplate: %w", err)
	}
	return nil
}

// GetWellplate retrieves a wellplate by ID.
func (s *Store) GetWellplate(ctx context.Context, id string) (*acquisition.Wellplate, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetWellplate", "SELECT")
	defer span.End()

	query := `SELECT ` + wellplateColumns + ` FROM wellplates WHERE id = $1`
	return s.scanWellplate(span, s.pool.QueryRow(ctx, query, id))
}

// GetWellplateByName retrieves a wellplate by its barcode name.
func (s *Store) GetWellplateByName(ctx context.Context, name string) (*acquisition.Wellplate, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetWellplateByName", "SELECT")
	defer span.End()

	query := `SELECT ` + wellplateColumns + ` FROM wellplates WHERE name = $1`
	return s.scanWellplate(span, s.pool.QueryRow(ctx, query, name))
}

func (s *Store) scanWellplate(span trace.Span, row pgx.Row) (*acquisition.Wellplate, bool, error) {
	var w acquisition.Wellplate
	var location string
	err := row.Scan(&w.ID, &w.Name, &location, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("scan wellplate: %w", err)
	}
	w.Location = acquisition.PlateLocation(location)
	return &w, true, nil
}

//  Acquisitions

const acquisitionColumns = `id, name, instrument, is_active`

// PutAcquisition inserts or updates an acquisition.
func (s *Store) PutAcquisition(ctx context.Context, a *acquisition.Acquisition) error {
	ctx, span := startSpan(ctx, "pgstore.PutAcquisition", "UPSERT")
	defer span.End()

	query := `INSERT INTO acquisitions (` + acquisitionColumns + `) VALUES ($1,$2,$3,$4)
	ON CONFLICT (id) DO UPDATE SET
		name       = EXCLUDED.name,
		instrument = EXCLUDED.instrument,
		is_active  = EXCLUDED.is_active`

	_, err := s.pool.Exec(ctx, query, a.ID, a.Name, a.Instrument, a.IsActive)
	if err != nil {
		recordErr(span, err)
		if isUniqueViolation(err) {
			return acquisition.Conflictf("acquisition name %s already exists", a.Name)
		}
		return fmt.Errorf("upsert acquisition: %w", err)
	}
	return nil
}

// GetAcquisition retrieves an acquisition by ID.
func (s *Store) GetAcquisition(ctx context.Context, id string) (*acquisition.Acquisition, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAcquisition", "SELECT")
	defer span.End()

	query := `SELECT ` + acquisitionColumns + ` FROM acquisitions WHERE id = $1`
	return s.scanAcquisition(span, s.pool.QueryRow(ctx, query, id))
}

// GetAcquisitionByName retrieves an acquisition by name.
func (s *Store) GetAcquisitionByName(ctx context.Context, name string) (*acquisition.Acquisition, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAcquisitionByName", "SELECT")
	defer span.End()

	query := `SELECT ` + acquisitionColumns + ` FROM acquisitions WHERE name = $1`
	return s.scanAcquisition(span, s.pool.QueryRow(ctx, query, name))
}

// ListActiveAcquisitions returns every acquisition still flagged active.
func (s *Store) ListActiveAcquisitions(ctx context.Context) ([]*acquisition.Acquisition, error) {
	ctx, span := startSpan(ctx, "pgstore.ListActiveAcquisitions", "SELECT")
	defer span.End()

	query := `SELECT ` + acquisitionColumns + ` FROM acquisitions WHERE is_active ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("list active acquisitions: %w", err)
	}
	defer rows.Close()

	var out []*acquisition.Acquisition
	for rows.Next() {
		var a acquisition.Acquisition
		if err := rows.Scan(&a.ID, &a.Name, &a.Instrument, &a.IsActive); err != nil {
			recordErr(span, err)
			return nil, fmt.Errorf("scan acquisition: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		recordErr(span, err)
		return nil, err
	}
	return out, nil
}

func (s *Store) scanAcquisition(span trace.Span, row pgx.Row) (*acquisition.Acquisition, bool, error) {
	var a acquisition.Acquisition
	err := row.Scan(&a.ID, &a.Name, &a.Instrument, &a.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("scan acquisition: %w", err)
	}
	return &a, true, nil
}
