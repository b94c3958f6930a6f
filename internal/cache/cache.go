// Package cache finds bundle descriptors already produced for a membership
// fingerprint, so identical groups are assembled at most once per stage.
package cache

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/hash"
)

// CacheInconsistencyError reports more than one descriptor registered for the
// same stage and fingerprint.
type CacheInconsistencyError struct {
	StageID     string
	Fingerprint hash.Fingerprint
	IDs         []string
}

func (e *CacheInconsistencyError) Error() string {
	return fmt.Sprintf("cache inconsistency: %d descriptors for stage %q fingerprint %s: %s",
		len(e.IDs), e.StageID, e.Fingerprint, strings.Join(e.IDs, ", "))
}

// Lookup returns the descriptor whose process record contains an operation
// for (stageID, fp), or nil on a miss.
func Lookup(descriptors []*catalog.FileResource, stageID string, fp hash.Fingerprint) (*catalog.FileResource, error) {
	want := fp.String()

	var found []*catalog.FileResource
	for _, d := range descriptors {
		if d.Process == nil {
			continue
		}
		if slices.ContainsFunc(d.Process.Operations, func(op catalog.Operation) bool {
			return op.StageID == stageID && op.Fingerprint == want
		}) {
			found = append(found, d)
		}
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	}

	ids := make([]string, len(found))
	for i, d := range found {
		ids[i] = d.ID
	}
	return nil, &CacheInconsistencyError{StageID: stageID, Fingerprint: fp, IDs: ids}
}

// Reuse records buildID on desc. It reports whether the id was added.
func Reuse(desc *catalog.FileResource, buildID string) bool {
	if desc.Process == nil {
		desc.Process = &catalog.ProcessRecord{}
	}
	if desc.Process.HasBuild(buildID) {
		return false
	}
	desc.Process.MediaBundleIDs = append(desc.Process.MediaBundleIDs, buildID)
	return true
}

// NewProcessRecord returns the provenance of a freshly assembled descriptor.
func NewProcessRecord(stageID string, fp hash.Fingerprint, buildID string) *catalog.ProcessRecord {
	return &catalog.ProcessRecord{
		Operations:     []catalog.Operation{{StageID: stageID, Fingerprint: fp.String()}},
		MediaBundleIDs: []string{buildID},
	}
}
