package stage

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/logging"
	"github.com/mediabundler/mediabundler/internal/rehydrate"
	"github.com/mediabundler/mediabundler/internal/service"
)

func rehydrateOnly(id string) *Extension {
	return &Extension{
		Descriptor: ExtensionDescriptor{ID: id, Capabilities: CapabilityRehydrate},
		Rehydrate:  func(*catalog.Set, string) []rehydrate.Change { return nil },
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	st := &config.Stage{ID: "media-bundle", Label: "Media bundle"}
	mb := NewMediaBundle(st, service.NewBundler(st, catalog.DirLocator{}, logging.NewNop()))

	for _, e := range []*Extension{rehydrateOnly("z-links"), mb, rehydrateOnly("a-links")} {
		if err := r.Register(e); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.Register(rehydrateOnly("a-links")); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	var ids []string
	for _, e := range r.WithCapability(CapabilityRehydrate) {
		ids = append(ids, e.Descriptor.ID)
	}
	if diff := cmp.Diff([]string{"a-links", "media-bundle", "z-links"}, ids); diff != "" {
		t.Fatal(diff)
	}

	builders := r.WithCapability(CapabilityBuild)
	if len(builders) != 1 || builders[0] != mb {
		t.Fatalf("unexpected builders %v", builders)
	}

	if got, ok := r.Get("media-bundle"); !ok || got.Descriptor.Label != "Media bundle" {
		t.Fatal("expected media bundle stage")
	}
	if got := mb.Descriptor.Capabilities.String(); got != "resolve,build,rehydrate" {
		t.Fatalf("unexpected capabilities %q", got)
	}
	if len(r.Descriptors()) != 3 {
		t.Fatal("expected three descriptors")
	}
}

func TestRegisterValidates(t *testing.T) {
	cases := []struct {
		note string
		ext  *Extension
	}{
		{note: "empty id", ext: &Extension{}},
		{note: "declared but missing", ext: &Extension{Descriptor: ExtensionDescriptor{ID: "x", Capabilities: CapabilityBuild}}},
		{note: "implemented but undeclared", ext: &Extension{
			Descriptor: ExtensionDescriptor{ID: "x"},
			Rehydrate:  func(*catalog.Set, string) []rehydrate.Change { return nil },
		}},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			if err := NewRegistry().Register(tc.ext); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMediaBundleResolve(t *testing.T) {
	st := &config.Stage{ID: "media-bundle"}
	mb := NewMediaBundle(st, service.NewBundler(st, catalog.DirLocator{}, logging.NewNop()))

	set := catalog.NewSet(&catalog.FileResource{ID: "a", Tags: []string{"x"}})
	res, err := mb.Resolve(context.Background(), &config.Group{Name: "g", TagContains: config.StringSet{"x"}}, set)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a"}, res.MemberIDs()); diff != "" {
		t.Fatal(diff)
	}
}
