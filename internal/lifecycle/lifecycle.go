// Package lifecycle moves artifact collections between storage tiers,
// keeping the metadata row and the backing data in lockstep: a row exists
// at a tier iff the data does.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
	"github.com/linnemanlabs/plateflow/internal/transfer"
)

// Transferrer executes the filesystem half of a tier transition. All three
// are blocking calls delegated to external processes.
type Transferrer interface {
	SyncDir(ctx context.Context, origin, destBase string) (string, error)
	Archive(ctx context.Context, origin, destBase string) (string, error)
	Extract(ctx context.Context, origin, destBase string) (string, error)
}

// Manager implements collection Copy/Move between tiers.
type Manager struct {
	store   acquisition.Store
	roots   acquisition.TierRoots
	xfer    Transferrer
	logger  log.Logger
	metrics *Metrics

	// remove is swappable for tests; defaults to transfer.Cleanup.
	remove func(path string) error
}

// NewManager creates a lifecycle manager.
func NewManager(store acquisition.Store, roots acquisition.TierRoots, xfer Transferrer, logger log.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{
		store:   store,
		roots:   roots,
		xfer:    xfer,
		logger:  logger,
		metrics: metrics,
		remove:  transfer.Cleanup,
	}
}

// Copy replicates a collection's data into the destination tier and
// creates the destination metadata row. The row is written only after the
// transfer succeeds: a crash mid-copy always looks like "row absent",
// never "row present, data missing". A retried copy whose destination row
// already exists returns that row idempotently.
func (m *Manager) Copy(ctx context.Context, c *acquisition.Collection, dest acquisition.Tier) (*acquisition.Collection, error) {
	if dest == c.Tier {
		return nil, acquisition.Validationf("collection %s already resides in %s", c.ID, dest)
	}

	mode := transferMode(c.Tier, dest)
	start := time.Now()
	if err := m.runTransfer(ctx, c, dest, mode); err != nil {
		m.metrics.observeTransfer(mode, "error", time.Since(start))
		return nil, fmt.Errorf("%s %s to %s: %w: %w", mode, c.ID, dest, acquisition.ErrTransfer, err)
	}
	m.metrics.observeTransfer(mode, "ok", time.Since(start))

	now := time.Now().UTC()
	dst := &acquisition.Collection{
		ID:              ulid.Make().String(),
		AcquisitionID:   c.AcquisitionID,
		AcquisitionName: c.AcquisitionName,
		ArtifactType:    c.ArtifactType,
		Tier:            dest,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.InsertCollection(ctx, dst); err != nil {
		// Concurrent or retried copy: the uniqueness constraint means the
		// data is already tracked there. Return the winner.
		if errors.Is(err, acquisition.ErrConflict) {
			existing, ok, err := m.store.GetCollection(ctx, c.AcquisitionID, c.ArtifactType, dest)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, acquisition.NotFoundf("collection vanished after conflict at %s", dest)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("insert collection row: %w", err)
	}

	m.logger.Info(ctx, "copied collection",
		"acquisition", c.AcquisitionName,
		"artifact_type", c.ArtifactType,
		"from", c.Tier,
		"to", dest,
		"mode", string(mode),
	)
	return dst, nil
}

// Move is Copy followed by deletion of the source, strictly in that order.
// On Copy failure the source is left fully intact. Deletion drops the row
// first so a crash between the two steps leaves at worst an untracked
// file, never a row without data.
func (m *Manager) Move(ctx context.Context, c *acquisition.Collection, dest acquisition.Tier) (*acquisition.Collection, error) {
	dst, err := m.Copy(ctx, c, dest)
	if err != nil {
		return nil, err
	}
	if err := m.deleteSource(ctx, c); err != nil {
		return nil, err
	}
	m.logger.Info(ctx, "moved collection",
		"acquisition", c.AcquisitionName,
		"artifact_type", c.ArtifactType,
		"from", c.Tier,
		"to", dest,
	)
	return dst, nil
}

// SyncAndArchive fans a hot collection out to the analysis and archive
// tiers concurrently, then retires the source. The transfers are
// order-independent; failures are aggregated, and the source is deleted
// only if every destination succeeded.
func (m *Manager) SyncAndArchive(ctx context.Context, c *acquisition.Collection) ([]*acquisition.Collection, error) {
	dests := []acquisition.Tier{acquisition.TierAnalysis, acquisition.TierArchive}

	results := make([]*acquisition.Collection, len(dests))
	errs := make([]error, len(dests))

	var wg sync.WaitGroup
	for i, dest := range dests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.Copy(ctx, c, dest)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("sync and archive %s: %w", c.ID, err)
	}
	if err := m.deleteSource(ctx, c); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *Manager) runTransfer(ctx context.Context, c *acquisition.Collection, dest acquisition.Tier, mode Mode) error {
	destBase := m.roots.AcquisitionDir(dest, c.AcquisitionName)
	if err := os.MkdirAll(destBase, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", destBase, err)
	}
	origin := m.roots.CollectionPath(c)

	var err error
	switch mode {
	case ModeExtract:
		_, err = m.xfer.Extract(ctx, origin, destBase)
	case ModeArchive:
		_, err = m.xfer.Archive(ctx, origin, destBase)
	default:
		_, err = m.xfer.SyncDir(ctx, origin, destBase)
	}
	return err
}

func (m *Manager) deleteSource(ctx context.Context, c *acquisition.Collection) error {
	if err := m.store.DeleteCollection(ctx, c.ID); err != nil {
		return fmt.Errorf("delete source row %s: %w", c.ID, err)
	}
	if err := m.remove(m.roots.CollectionPath(c)); err != nil {
		// The row is gone, so the tier invariant holds; the leftover file
		// is untracked and needs an operator.
		m.logger.Error(ctx, err, "failed to remove source data after move",
			"path", m.roots.CollectionPath(c),
		)
		return err
	}
	return nil
}

// Mode is the filesystem operation a tier pair maps to.
type Mode string

const (
	ModeSync    Mode = "sync"
	ModeArchive Mode = "archive"
	ModeExtract Mode = "extract"
)

// transferMode picks the filesystem operation for a (source, dest) pair:
// leaving the archive extracts, entering it compresses, anything else is a
// plain directory copy.
func transferMode(src, dest acquisition.Tier) Mode {
	switch {
	case src == acquisition.TierArchive:
		return ModeExtract
	case dest == acquisition.TierArchive:
		return ModeArchive
	default:
		return ModeSync
	}
}
