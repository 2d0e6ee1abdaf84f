// Package instrument hands scheduled reads off to the instrument-control
// channel. The handoff is a drop directory the instrument kiosk polls:
// one descriptor file per dispatched read.
package instrument

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/plateflow/internal/scheduler"
)

// Kiosk writes read descriptors into the drop directory.
type Kiosk struct {
	dir    string
	logger log.Logger
}

// NewKiosk creates a dispatcher writing into dir.
func NewKiosk(dir string, logger log.Logger) *Kiosk {
	if logger == nil {
		logger = log.Nop()
	}
	return &Kiosk{dir: dir, logger: logger}
}

var _ scheduler.Dispatcher = (*Kiosk)(nil)

// Dispatch writes one descriptor file for the read. The write is staged
// through a temp file and renamed so the kiosk never observes a partial
// descriptor.
func (k *Kiosk) Dispatch(ctx context.Context, req *scheduler.DispatchRequest) error {
	if err := os.MkdirAll(k.dir, 0o755); err != nil {
		return fmt.Errorf("kiosk dir: %w", err)
	}

	body := fmt.Sprintf(
		"read_id=%s\nacquisition=%s\nwellplate=%s\nlocation=%s\npriority=%s\nstart_after=%s\n",
		req.Read.ID,
		req.Acquisition.Name,
		req.Wellplate.Name,
		req.Wellplate.Location,
		req.Plan.Priority,
		req.Read.StartAfter.UTC().Format("2006-01-02T15:04:05Z"),
	)

	dest := filepath.Join(k.dir, req.Read.ID+".read")
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish descriptor: %w", err)
	}

	k.logger.Info(ctx, "dispatched read to kiosk", "read_id", req.Read.ID, "file", dest)
	return nil
}
