package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
)

const collectionColumns = `id, acquisition_id, acquisition_name, artifact_type, tier, created_at, updated_at`

// InsertCollection creates a collection row. A duplicate
// (acquisition, artifact type, tier) key surfaces as ErrConflict.
func (s *Store) InsertCollection(ctx context.Context, c *acquisition.Collection) error {
	ctx, span := startSpan(ctx, "pgstore.InsertCollection", "INSERT")
	defer span.End()

	query := `INSERT INTO collections (` + collectionColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.pool.Exec(ctx, query,
		c.ID, c.AcquisitionID, c.AcquisitionName, string(c.ArtifactType), string(c.Tier),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		recordErr(span, err)
		if isUniqueViolation(err) {
			return acquisition.Conflictf("collection %s/%s already exists in %s",
				c.AcquisitionName, c.ArtifactType, c.Tier)
		}
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

// GetCollection retrieves the collection for an exact key.
func (s *Store) GetCollection(ctx context.Context, acquisitionID string, at acquisition.ArtifactType, tier acquisition.Tier) (*acquisition.Collection, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCollection", "SELECT")
	defer span.End()

	query := `SELECT ` + collectionColumns + ` FROM collections
	WHERE acquisition_id = $1 AND artifact_type = $2 AND tier = $3`
	return s.scanCollection(span, s.pool.QueryRow(ctx, query, acquisitionID, string(at), string(tier)))
}

// ListCollections returns every collection of an acquisition.
func (s *Store) ListCollections(ctx context.Context, acquisitionID string) ([]*acquisition.Collection, error) {
	ctx, span := startSpan(ctx, "pgstore.ListCollections", "SELECT")
	defer span.End()

	query := `SELECT ` + collectionColumns + ` FROM collections WHERE acquisition_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, acquisitionID)
	if err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []*acquisition.Collection
	for rows.Next() {
		var c acquisition.Collection
		var at, tier string
		if err := rows.Scan(&c.ID, &c.AcquisitionID, &c.AcquisitionName, &at, &tier, &c.CreatedAt, &c.UpdatedAt); err != nil {
			recordErr(span, err)
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		c.ArtifactType = acquisition.ArtifactType(at)
		c.Tier = acquisition.Tier(tier)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		recordErr(span, err)
		return nil, err
	}
	return out, nil
}

// DeleteCollection removes a collection row.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "pgstore.DeleteCollection", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		recordErr(span, err)
		return fmt.Errorf("delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return acquisition.NotFoundf("collection %s", id)
	}
	return nil
}

// TouchCollection bumps a collection's updated_at.
func (s *Store) TouchCollection(ctx context.Context, id string, now time.Time) error {
	ctx, span := startSpan(ctx, "pgstore.TouchCollection", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE collections SET updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		recordErr(span, err)
		return fmt.Errorf("touch collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return acquisition.NotFoundf("collection %s", id)
	}
	return nil
}

func (s *Store) scanCollection(span trace.Span, row pgx.Row) (*acquisition.Collection, bool, error) {
	var c acquisition.Collection
	var at, tier string
	err := row.Scan(&c.ID, &c.AcquisitionID, &c.AcquisitionName, &at, &tier, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("scan collection: %w", err)
	}
	c.ArtifactType = acquisition.ArtifactType(at)
	c.Tier = acquisition.Tier(tier)
	return &c, true, nil
}
