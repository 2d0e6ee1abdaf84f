package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
	"github.com/linnemanlabs/plateflow/internal/acquisition/memstore"
)

// fakeTransferrer records calls and fails on configured destinations.
type fakeTransferrer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error // keyed by destBase
}

func (f *fakeTransferrer) record(op, origin, destBase string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+origin+" -> "+destBase)
	if err := f.fail[destBase]; err != nil {
		return "", err
	}
	return destBase, nil
}

func (f *fakeTransferrer) SyncDir(_ context.Context, origin, destBase string) (string, error) {
	return f.record("sync", origin, destBase)
}

func (f *fakeTransferrer) Archive(_ context.Context, origin, destBase string) (string, error) {
	return f.record("archive", origin, destBase)
}

func (f *fakeTransferrer) Extract(_ context.Context, origin, destBase string) (string, error) {
	return f.record("extract", origin, destBase)
}

func testRoots(t *testing.T) acquisition.TierRoots {
	t.Helper()
	base := t.TempDir()
	return acquisition.TierRoots{
		Acquisition: base + "/hot",
		Analysis:    base + "/scratch",
		Archive:     base + "/cold",
	}
}

func hotCollection() *acquisition.Collection {
	return &acquisition.Collection{
		ID:              "col-hot",
		AcquisitionID:   "acq1",
		AcquisitionName: "exp42-plate1",
		ArtifactType:    acquisition.ArtifactAcquisitionData,
		Tier:            acquisition.TierAcquisition,
	}
}

func TestCopy_SameTierRejected(t *testing.T) {
	t.Parallel()

	m := NewManager(memstore.New(), testRoots(t), &fakeTransferrer{}, nil, nil)
	_, err := m.Copy(context.Background(), hotCollection(), acquisition.TierAcquisition)
	if !errors.Is(err, acquisition.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestCopy_RowWrittenAfterTransfer(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	xfer := &fakeTransferrer{}
	m := NewManager(store, testRoots(t), xfer, nil, nil)
	ctx := context.Background()

	dst, err := m.Copy(ctx, hotCollection(), acquisition.TierAnalysis)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if dst.Tier != acquisition.TierAnalysis {
		t.Errorf("dst.Tier = %q, want analysis tier", dst.Tier)
	}
	if dst.ID == "col-hot" {
		t.Error("destination reused the source row ID")
	}
	if _, ok, _ := store.GetCollection(ctx, "acq1", acquisition.ArtifactAcquisitionData, acquisition.TierAnalysis); !ok {
		t.Error("destination row missing after successful copy")
	}
	if len(xfer.calls) != 1 {
		t.Errorf("transfer calls = %v, want exactly one", xfer.calls)
	}
}

func TestCopy_TransferFailureLeavesNoRow(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	roots := testRoots(t)
	destBase := roots.AcquisitionDir(acquisition.TierAnalysis, "exp42-plate1")
	xfer := &fakeTransferrer{fail: map[string]error{destBase: errors.New("rsync exited 12")}}
	m := NewManager(store, roots, xfer, nil, nil)
	ctx := context.Background()

	_, err := m.Copy(ctx, hotCollection(), acquisition.TierAnalysis)
	if !errors.Is(err, acquisition.ErrTransfer) {
		t.Fatalf("err = %v, want ErrTransfer", err)
	}
	if _, ok, _ := store.GetCollection(ctx, "acq1", acquisition.ArtifactAcquisitionData, acquisition.TierAnalysis); ok {
		t.Error("destination row exists despite failed transfer")
	}
}

func TestCopy_ConflictReturnsExistingRow(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ctx := context.Background()
	existing := &acquisition.Collection{
		ID:              "col-prior",
		AcquisitionID:   "acq1",
		AcquisitionName: "exp42-plate1",
		ArtifactType:    acquisition.ArtifactAcquisitionData,
		Tier:            acquisition.TierAnalysis,
	}
	if err := store.InsertCollection(ctx, existing); err != nil {
		t.Fatal(err)
	}
	m := NewManager(store, testRoots(t), &fakeTransferrer{}, nil, nil)

	dst, err := m.Copy(ctx, hotCollection(), acquisition.TierAnalysis)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if dst.ID != "col-prior" {
		t.Errorf("dst.ID = %q, want the pre-existing row", dst.ID)
	}
}

func TestMove_DeletesSourceRowThenData(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ctx := context.Background()
	src := hotCollection()
	if err := store.InsertCollection(ctx, src); err != nil {
		t.Fatal(err)
	}
	roots := testRoots(t)
	m := NewManager(store, roots, &fakeTransferrer{}, nil, nil)

	var removed []string
	m.remove = func(path string) error {
		removed = append(removed, path)
		return nil
	}

	dst, err := m.Move(ctx, src, acquisition.TierArchive)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if dst.Tier != acquisition.TierArchive {
		t.Errorf("dst.Tier = %q", dst.Tier)
	}
	if _, ok, _ := store.GetCollection(ctx, "acq1", acquisition.ArtifactAcquisitionData, acquisition.TierAcquisition); ok {
		t.Error("source row still present after move")
	}
	want := roots.CollectionPath(src)
	if len(removed) != 1 || removed[0] != want {
		t.Errorf("removed = %v, want [%s]", removed, want)
	}
}

func TestMove_CopyFailureLeavesSourceIntact(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ctx := context.Background()
	src := hotCollection()
	if err := store.InsertCollection(ctx, src); err != nil {
		t.Fatal(err)
	}
	roots := testRoots(t)
	destBase := roots.AcquisitionDir(acquisition.TierArchive, "exp42-plate1")
	xfer := &fakeTransferrer{fail: map[string]error{destBase: errors.New("tar exited 2")}}
	m := NewManager(store, roots, xfer, nil, nil)

	var removed []string
	m.remove = func(path string) error {
		removed = append(removed, path)
		return nil
	}

	if _, err := m.Move(ctx, src, acquisition.TierArchive); err == nil {
		t.Fatal("Move succeeded despite failed copy")
	}
	if _, ok, _ := store.GetCollection(ctx, "acq1", acquisition.ArtifactAcquisitionData, acquisition.TierAcquisition); !ok {
		t.Error("source row removed despite failed copy")
	}
	if len(removed) != 0 {
		t.Errorf("source data removed despite failed copy: %v", removed)
	}
}

func TestSyncAndArchive_FansOutToBothTiers(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ctx := context.Background()
	src := hotCollection()
	if err := store.InsertCollection(ctx, src); err != nil {
		t.Fatal(err)
	}
	m := NewManager(store, testRoots(t), &fakeTransferrer{}, nil, nil)

	var removed []string
	m.remove = func(path string) error {
		removed = append(removed, path)
		return nil
	}

	results, err := m.SyncAndArchive(ctx, src)
	if err != nil {
		t.Fatalf("SyncAndArchive: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, tier := range []acquisition.Tier{acquisition.TierAnalysis, acquisition.TierArchive} {
		if _, ok, _ := store.GetCollection(ctx, "acq1", acquisition.ArtifactAcquisitionData, tier); !ok {
			t.Errorf("no row at %s after fan-out", tier)
		}
	}
	if _, ok, _ := store.GetCollection(ctx, "acq1", acquisition.ArtifactAcquisitionData, acquisition.TierAcquisition); ok {
		t.Error("source row still present after full fan-out")
	}
	if len(removed) != 1 {
		t.Errorf("removed = %v, want the single source path", removed)
	}
}

func TestSyncAndArchive_PartialFailureKeepsSource(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ctx := context.Background()
	src := hotCollection()
	if err := store.InsertCollection(ctx, src); err != nil {
		t.Fatal(err)
	}
	roots := testRoots(t)
	archiveBase := roots.AcquisitionDir(acquisition.TierArchive, "exp42-plate1")
	xfer := &fakeTransferrer{fail: map[string]error{archiveBase: errors.New("disk full")}}
	m := NewManager(store, roots, xfer, nil, nil)

	var removed []string
	m.remove = func(path string) error {
		removed = append(removed, path)
		return nil
	}

	if _, err := m.SyncAndArchive(ctx, src); err == nil {
		t.Fatal("SyncAndArchive succeeded despite archive failure")
	}
	if _, ok, _ := store.GetCollection(ctx, "acq1", acquisition.ArtifactAcquisitionData, acquisition.TierAcquisition); !ok {
		t.Error("source row removed despite partial failure")
	}
	if len(removed) != 0 {
		t.Errorf("source data removed despite partial failure: %v", removed)
	}
	// The analysis copy that succeeded stays; a retry converges on it.
	if _, ok, _ := store.GetCollection(ctx, "acq1", acquisition.ArtifactAcquisitionData, acquisition.TierAnalysis); !ok {
		t.Error("successful analysis copy was rolled back")
	}
}

func TestTransferMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src, dest acquisition.Tier
		want      Mode
	}{
		{acquisition.TierAcquisition, acquisition.TierAnalysis, ModeSync},
		{acquisition.TierAcquisition, acquisition.TierArchive, ModeArchive},
		{acquisition.TierAnalysis, acquisition.TierArchive, ModeArchive},
		{acquisition.TierArchive, acquisition.TierAnalysis, ModeExtract},
		{acquisition.TierArchive, acquisition.TierAcquisition, ModeExtract},
		{acquisition.TierAnalysis, acquisition.TierAcquisition, ModeSync},
	}
	for _, tt := range tests {
		if got := transferMode(tt.src, tt.dest); got != tt.want {
			t.Errorf("transferMode(%s, %s) = %s, want %s", tt.src, tt.dest, got, tt.want)
		}
	}
}
