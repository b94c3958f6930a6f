// Package stage describes pipeline stages as plain values: a descriptor
// with the stage identity and the capabilities it implements, plus the
// functions implementing them.
package stage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/rehydrate"
	"github.com/mediabundler/mediabundler/internal/resolver"
	"github.com/mediabundler/mediabundler/internal/service"
)

type Capability uint8

const (
	CapabilityResolve Capability = 1 << iota
	CapabilityBuild
	CapabilityRehydrate
)

func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	var names []string
	for _, x := range []struct {
		c    Capability
		name string
	}{{CapabilityResolve, "resolve"}, {CapabilityBuild, "build"}, {CapabilityRehydrate, "rehydrate"}} {
		if c.Has(x.c) {
			names = append(names, x.name)
		}
	}
	return strings.Join(names, ",")
}

type ExtensionDescriptor struct {
	ID           string
	Label        string
	Capabilities Capability
}

type (
	ResolveFunc   func(ctx context.Context, group *config.Group, set *catalog.Set) (resolver.Result, error)
	BuildFunc     func(ctx context.Context, set *catalog.Set, groups []*config.Group, buildID string) (service.Summary, error)
	RehydrateFunc func(set *catalog.Set, buildID string) []rehydrate.Change
)

// Extension is a stage. A function must be set for every capability the
// descriptor declares.
type Extension struct {
	Descriptor ExtensionDescriptor
	Resolve    ResolveFunc
	Build      BuildFunc
	Rehydrate  RehydrateFunc
}

func (e *Extension) validate() error {
	if e.Descriptor.ID == "" {
		return errors.New("extension id must not be empty")
	}
	for _, x := range []struct {
		c   Capability
		set bool
	}{
		{CapabilityResolve, e.Resolve != nil},
		{CapabilityBuild, e.Build != nil},
		{CapabilityRehydrate, e.Rehydrate != nil},
	} {
		if e.Descriptor.Capabilities.Has(x.c) != x.set {
			return fmt.Errorf("extension %q: capability %v declared=%v implemented=%v",
				e.Descriptor.ID, x.c, e.Descriptor.Capabilities.Has(x.c), x.set)
		}
	}
	return nil
}

// NewMediaBundle returns the bundling stage backed by bundler.
func NewMediaBundle(st *config.Stage, bundler *service.Bundler) *Extension {
	return &Extension{
		Descriptor: ExtensionDescriptor{
			ID:           st.ID,
			Label:        st.Label,
			Capabilities: CapabilityResolve | CapabilityBuild | CapabilityRehydrate,
		},
		Resolve: func(ctx context.Context, group *config.Group, set *catalog.Set) (resolver.Result, error) {
			return resolver.Resolve(ctx, group, set, st.ID)
		},
		Build: bundler.Build,
		Rehydrate: func(set *catalog.Set, buildID string) []rehydrate.Change {
			return rehydrate.Rehydrate(set, st.ID, buildID)
		},
	}
}

// Registry dispatches to extensions by id.
type Registry struct {
	exts map[string]*Extension
}

func NewRegistry() *Registry {
	return &Registry{exts: make(map[string]*Extension)}
}

func (r *Registry) Register(e *Extension) error {
	if err := e.validate(); err != nil {
		return err
	}
	if _, ok := r.exts[e.Descriptor.ID]; ok {
		return fmt.Errorf("extension %q already registered", e.Descriptor.ID)
	}
	r.exts[e.Descriptor.ID] = e
	return nil
}

func (r *Registry) Get(id string) (*Extension, bool) {
	e, ok := r.exts[id]
	return e, ok
}

// WithCapability returns the extensions implementing c, sorted by id.
func (r *Registry) WithCapability(c Capability) []*Extension {
	var exts []*Extension
	for _, id := range slices.Sorted(maps.Keys(r.exts)) {
		if e := r.exts[id]; e.Descriptor.Capabilities.Has(c) {
			exts = append(exts, e)
		}
	}
	return exts
}

// Descriptors returns the descriptors of all extensions, sorted by id.
func (r *Registry) Descriptors() []ExtensionDescriptor {
	var ds []ExtensionDescriptor
	for _, id := range slices.Sorted(maps.Keys(r.exts)) {
		ds = append(ds, r.exts[id].Descriptor)
	}
	return ds
}
