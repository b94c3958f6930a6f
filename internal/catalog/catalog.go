// Package catalog holds the resource records a build operates on: plain
// files, groups of files and the bundle descriptors produced from them.
package catalog

import (
	"context"
	"path/filepath"
	"slices"
)

// Record is either a *FileResource or a *GroupResource.
type Record interface {
	RecordID() string
	IsRemoved() bool
	record()
}

// FileResource is a single binary resource. Bundle descriptors are file
// resources with Bundle set.
type FileResource struct {
	ID       string            `json:"id"`
	Label    string            `json:"label,omitempty"`
	MimeType string            `json:"mime_type,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Episodes []string          `json:"episodes,omitempty"`
	URL      map[string]string `json:"url,omitempty"` // locator per producing stage id
	Removed  bool              `json:"removed,omitempty"`
	Process  *ProcessRecord    `json:"process,omitempty"`
	Bundle   *BundleInfo       `json:"bundle,omitempty"`

	Path     string `json:"path,omitempty"` // relative to the media root
	FileName string `json:"file_name,omitempty"`
	XXHash   string `json:"xxhash,omitempty"`
	MD5      string `json:"md5,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

func (f *FileResource) RecordID() string { return f.ID }
func (f *FileResource) IsRemoved() bool  { return f.Removed }
func (*FileResource) record()            {}

// IsBundle reports whether f is a bundle descriptor.
func (f *FileResource) IsBundle() bool {
	return f.Bundle != nil
}

// ProducedBy reports whether f is a bundle descriptor created by the given stage.
func (f *FileResource) ProducedBy(stageID string) bool {
	if f.Bundle != nil && f.Bundle.StageID == stageID {
		return true
	}
	if f.Process == nil {
		return false
	}
	return slices.ContainsFunc(f.Process.Operations, func(op Operation) bool {
		return op.StageID == stageID
	})
}

// SetLocator writes the locator for stageID, replacing any previous value
// under the same key. It returns false if the value was already present.
func (f *FileResource) SetLocator(stageID, locator string) bool {
	if f.URL == nil {
		f.URL = make(map[string]string)
	}
	if f.URL[stageID] == locator {
		return false
	}
	f.URL[stageID] = locator
	return true
}

// GroupResource groups alternative files (e.g. renditions of one asset).
type GroupResource struct {
	ID       string   `json:"id"`
	Label    string   `json:"label,omitempty"`
	Files    []string `json:"files,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Episodes []string `json:"episodes,omitempty"`
	Removed  bool     `json:"removed,omitempty"`
}

func (g *GroupResource) RecordID() string { return g.ID }
func (g *GroupResource) IsRemoved() bool  { return g.Removed }
func (*GroupResource) record()            {}

// Operation is one step of a produced artifact's provenance chain.
type Operation struct {
	StageID     string `json:"stage_id"`
	Fingerprint string `json:"fingerprint"`
}

// ProcessRecord is the provenance of a produced artifact and the set of
// builds that requested it.
type ProcessRecord struct {
	Operations     []Operation `json:"operations"`
	MediaBundleIDs []string    `json:"media_bundle_ids"`
}

func (p *ProcessRecord) HasBuild(buildID string) bool {
	return slices.Contains(p.MediaBundleIDs, buildID)
}

// BundleInfo marks a FileResource as an archive produced by a stage.
type BundleInfo struct {
	StageID string   `json:"stage_id"`
	Members []string `json:"members"` // sorted member resource ids
}

// Store persists the mutations a build applies to the resource set.
type Store interface {
	InsertDescriptor(ctx context.Context, desc *FileResource) error
	AddBuild(ctx context.Context, resourceID, buildID string) error
	SetLocator(ctx context.Context, resourceID, stageID, locator string) error
}

// Locator resolves a file resource to its on-disk location.
type Locator interface {
	Path(ctx context.Context, f *FileResource) (string, error)
}

// DirLocator resolves resources relative to a media root directory.
type DirLocator struct {
	Root string
}

func (l DirLocator) Path(_ context.Context, f *FileResource) (string, error) {
	p := f.Path
	if p == "" {
		p = f.ID
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	return filepath.Join(l.Root, filepath.FromSlash(p)), nil
}
