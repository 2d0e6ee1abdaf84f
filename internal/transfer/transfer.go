// Package transfer wraps the external file-transfer processes: recursive
// directory copy via rsync and archive/extract via tar+zstd. The flag sets
// differ by platform; the semantics do not.
package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/linnemanlabs/plateflow/internal/proc"
)

// TarZstExtension is the suffix of archive tarballs produced by Archive.
const TarZstExtension = ".tar.zst"

// Commands executes the transfer primitives.
type Commands struct {
	runner proc.Runner
	goos   string
}

// New creates transfer commands for the current platform.
func New(runner proc.Runner) *Commands {
	return &Commands{runner: runner, goos: runtime.GOOS}
}

// newForOS is used by tests to pin the platform.
func newForOS(runner proc.Runner, goos string) *Commands {
	return &Commands{runner: runner, goos: goos}
}

// SyncDir recursively copies origin into destBase and returns the
// resulting path destBase/<basename(origin)>.
func (c *Commands) SyncDir(ctx context.Context, origin, destBase string) (string, error) {
	if _, err := c.runner.Run(ctx, "rsync", "-r", origin, destBase); err != nil {
		return "", fmt.Errorf("sync %s to %s: %w", origin, destBase, err)
	}
	dest := filepath.Join(destBase, filepath.Base(origin))
	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("sync %s to %s: result missing: %w", origin, destBase, err)
	}
	return dest, nil
}

// Archive compresses origin into destBase/<basename(origin)>.tar.zst and
// returns the tarball path.
func (c *Commands) Archive(ctx context.Context, origin, destBase string) (string, error) {
	dest := filepath.Join(destBase, filepath.Base(origin)+TarZstExtension)

	var args []string
	switch c.goos {
	case "darwin":
		args = []string{"-c", "--zstd", "--options", "zstd:compression-level=4",
			"-f", dest, "-C", filepath.Dir(origin), filepath.Base(origin)}
	default:
		args = []string{"-c", "-I", "zstd -T4",
			"-f", dest, "-C", filepath.Dir(origin), filepath.Base(origin)}
	}
	if _, err := c.runner.Run(ctx, "tar", args...); err != nil {
		return "", fmt.Errorf("archive %s to %s: %w", origin, destBase, err)
	}
	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("archive %s to %s: result missing: %w", origin, destBase, err)
	}
	return dest, nil
}

// Extract decompresses the tarball at origin into destBase and returns the
// extracted path destBase/<basename(origin) without suffix>.
func (c *Commands) Extract(ctx context.Context, origin, destBase string) (string, error) {
	var args []string
	switch c.goos {
	case "darwin":
		args = []string{"-x", "--zstd", "-f", origin, "-C", destBase}
	default:
		args = []string{"-x", "-I", "zstd", "-f", origin, "-C", destBase}
	}
	if _, err := c.runner.Run(ctx, "tar", args...); err != nil {
		return "", fmt.Errorf("extract %s to %s: %w", origin, destBase, err)
	}
	dest := filepath.Join(destBase, strings.TrimSuffix(filepath.Base(origin), TarZstExtension))
	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("extract %s to %s: result missing: %w", origin, destBase, err)
	}
	return dest, nil
}

// Cleanup removes a file or directory tree.
func Cleanup(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("cleanup %s: %w", path, err)
	}
	return nil
}
