// Package rehydrate points the members of bundle descriptors at their
// location inside the archive.
package rehydrate

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mediabundler/mediabundler/internal/catalog"
)

const scheme = "bundle://"

// ComposeLocator returns the locator of memberID inside bundle bundleID.
func ComposeLocator(bundleID, memberID string) string {
	return scheme + bundleID + "/" + memberID
}

// ParseLocator splits a locator produced by ComposeLocator.
func ParseLocator(locator string) (bundleID, memberID string, ok bool) {
	rest, ok := strings.CutPrefix(locator, scheme)
	if !ok {
		return "", "", false
	}
	bundleID, memberID, ok = strings.Cut(rest, "/")
	if !ok || bundleID == "" || memberID == "" {
		return "", "", false
	}
	return bundleID, memberID, true
}

// Change is a locator written to a resource.
type Change struct {
	Resource *catalog.FileResource
	StageID  string
	Locator  string
}

// Rehydrate sets URL[stageID] on every member of every descriptor produced by
// stageID that is still present in set. A member packaged by more than one
// descriptor points at a descriptor tagged with buildID if there is one, and
// otherwise at the one added to set last. Other locator keys are never
// touched. It returns the resources whose locator changed.
func Rehydrate(set *catalog.Set, stageID, buildID string) []Change {
	var descriptors []*catalog.FileResource
	for _, d := range set.Descriptors() {
		if !d.Removed && d.Bundle.StageID == stageID {
			descriptors = append(descriptors, d)
		}
	}
	slices.SortStableFunc(descriptors, func(a, b *catalog.FileResource) int {
		return cmp.Compare(servedBuild(a, buildID), servedBuild(b, buildID))
	})

	locators := make(map[string]string)
	var order []string
	for _, d := range descriptors {
		for _, id := range d.Bundle.Members {
			if _, ok := locators[id]; !ok {
				order = append(order, id)
			}
			locators[id] = ComposeLocator(d.ID, id)
		}
	}

	var changes []Change
	for _, id := range order {
		f, ok := set.File(id)
		if !ok || f.Removed {
			continue
		}
		if f.SetLocator(stageID, locators[id]) {
			changes = append(changes, Change{Resource: f, StageID: stageID, Locator: locators[id]})
		}
	}
	return changes
}

// servedBuild ranks descriptors tagged with buildID after the others so
// their locators win.
func servedBuild(d *catalog.FileResource, buildID string) int {
	if buildID != "" && d.Process != nil && d.Process.HasBuild(buildID) {
		return 1
	}
	return 0
}

// Persist writes changes to store.
func Persist(ctx context.Context, store catalog.Store, changes []Change) error {
	for _, c := range changes {
		if err := store.SetLocator(ctx, c.Resource.ID, c.StageID, c.Locator); err != nil {
			return fmt.Errorf("failed to store locator of %q: %w", c.Resource.ID, err)
		}
	}
	return nil
}
