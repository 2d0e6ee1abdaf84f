package acquisition

import (
	"path/filepath"
	"strings"
)

// TarZstExtension is the suffix of archived collection tarballs.
const TarZstExtension = ".tar.zst"

// TierRoots maps each storage tier to its filesystem root.
type TierRoots struct {
	Acquisition string
	Analysis    string
	Archive     string
}

// Root returns the filesystem root for a tier.
func (r TierRoots) Root(tier Tier) string {
	switch tier {
	case TierAcquisition:
		return r.Acquisition
	case TierAnalysis:
		return r.Analysis
	case TierArchive:
		return r.Archive
	}
	return ""
}

// AcquisitionDir returns <root>/<acquisition_name> for a tier.
func (r TierRoots) AcquisitionDir(tier Tier, acquisitionName string) string {
	return filepath.Join(r.Root(tier), acquisitionName)
}

// CollectionPath returns the path of a collection's data within its tier:
// <root>/<acquisition_name>/<artifact_type>, with the artifact type
// lowercased. In the archive tier the collection is a single tarball, so
// the path carries the .tar.zst suffix instead of naming a directory.
func (r TierRoots) CollectionPath(c *Collection) string {
	name := strings.ToLower(string(c.ArtifactType))
	if c.Tier == TierArchive {
		name += TarZstExtension
	}
	return filepath.Join(r.AcquisitionDir(c.Tier, c.AcquisitionName), name)
}
