package acquisition_test

import (
	"testing"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
)

func TestCollectionPath(t *testing.T) {
	t.Parallel()

	roots := acquisition.TierRoots{
		Acquisition: "/mnt/hot",
		Analysis:    "/mnt/scratch",
		Archive:     "/mnt/cold",
	}

	tests := []struct {
		name string
		c    acquisition.Collection
		want string
	}{
		{
			name: "hot tier is a directory",
			c: acquisition.Collection{
				AcquisitionName: "exp42-plate1",
				ArtifactType:    acquisition.ArtifactAcquisitionData,
				Tier:            acquisition.TierAcquisition,
			},
			want: "/mnt/hot/exp42-plate1/acquisition_data",
		},
		{
			name: "analysis tier is a directory",
			c: acquisition.Collection{
				AcquisitionName: "exp42-plate1",
				ArtifactType:    acquisition.ArtifactAnalysisData,
				Tier:            acquisition.TierAnalysis,
			},
			want: "/mnt/scratch/exp42-plate1/analysis_data",
		},
		{
			name: "archive tier is a tarball",
			c: acquisition.Collection{
				AcquisitionName: "exp42-plate1",
				ArtifactType:    acquisition.ArtifactAcquisitionData,
				Tier:            acquisition.TierArchive,
			},
			want: "/mnt/cold/exp42-plate1/acquisition_data.tar.zst",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := roots.CollectionPath(&tt.c); got != tt.want {
				t.Errorf("CollectionPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTierRootsRoot_UnknownTierIsEmpty(t *testing.T) {
	t.Parallel()

	roots := acquisition.TierRoots{Acquisition: "/mnt/hot"}
	if got := roots.Root(acquisition.Tier("GLACIER")); got != "" {
		t.Errorf("Root() = %q, want empty", got)
	}
}
