package resolver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/resolver"
)

const stageID = "media-bundle"

func testSet() *catalog.Set {
	set := catalog.NewSet(
		&catalog.FileResource{ID: "r3", MimeType: "audio/mpeg", Tags: []string{"intro"}, Episodes: []string{"ep1"}, Size: 300},
		&catalog.FileResource{ID: "r1", MimeType: "image/png", Tags: []string{"intro", "bg"}, Episodes: []string{"ep1"}, Size: 100},
		&catalog.FileResource{ID: "r2", MimeType: "image/jpeg", Tags: []string{"outro"}, Episodes: []string{"ep2"}, Size: 2000},
		&catalog.FileResource{ID: "gone", MimeType: "image/png", Tags: []string{"intro"}, Episodes: []string{"ep1"}, Removed: true},
		&catalog.GroupResource{ID: "grp", Files: []string{"r1", "r2"}, Tags: []string{"intro"}},
		&catalog.FileResource{
			ID:     "bundle-1",
			Tags:   []string{"intro"},
			Bundle: &catalog.BundleInfo{StageID: stageID, Members: []string{"r1"}},
			Process: &catalog.ProcessRecord{
				Operations: []catalog.Operation{{StageID: stageID, Fingerprint: "x"}},
			},
		},
		&catalog.FileResource{
			ID:     "other-stage",
			Tags:   []string{"intro"},
			Bundle: &catalog.BundleInfo{StageID: "thumbnails"},
		},
	)
	set.Episodes = []string{"ep1", "ep2", "ep3"}
	return set
}

func TestResolve(t *testing.T) {
	cases := []struct {
		note  string
		group config.Group
		exp   []string
		empty bool
	}{
		{
			note:  "unscoped selects every plain file",
			group: config.Group{Name: "all"},
			exp:   []string{"other-stage", "r1", "r2", "r3"},
		},
		{
			note:  "episode and tag",
			group: config.Group{Name: "g", EpisodeIs: config.StringSet{"ep1"}, TagContains: config.StringSet{"intro"}},
			exp:   []string{"r1", "r3"},
		},
		{
			note:  "episode union",
			group: config.Group{Name: "g", EpisodeIs: config.StringSet{"ep1"}, EpisodeContains: config.StringSet{"ep2"}},
			exp:   []string{"r1", "r2", "r3"},
		},
		{
			note:  "tag any",
			group: config.Group{Name: "g", TagContains: config.StringSet{"bg", "outro"}},
			exp:   []string{"r1", "r2"},
		},
		{
			note:  "mime glob",
			group: config.Group{Name: "g", MimeTypes: config.StringSet{"image/*"}},
			exp:   []string{"r1", "r2"},
		},
		{
			note:  "rego filter",
			group: config.Group{Name: "g", MimeTypes: config.StringSet{"image/*"}, Filter: "input.resource.size < 1000"},
			exp:   []string{"r1"},
		},
		{
			note:  "rego filter over tags",
			group: config.Group{Name: "g", Filter: `"bg" in input.resource.tags`},
			exp:   []string{"r1"},
		},
		{
			note:  "no match",
			group: config.Group{Name: "g", EpisodeIs: config.StringSet{"ep3"}},
			empty: true,
		},
		{
			note:  "episode empty",
			group: config.Group{Name: "g", TagContains: config.StringSet{"intro"}, EpisodeIsEmpty: true},
			empty: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			res, err := resolver.Resolve(context.Background(), &tc.group, testSet(), stageID)
			if err != nil {
				t.Fatal(err)
			}
			if res.Empty != tc.empty {
				t.Fatalf("expected empty=%v, got %v", tc.empty, res.Empty)
			}
			if diff := cmp.Diff(tc.exp, res.MemberIDs(), cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("unexpected members (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveConfigurationError(t *testing.T) {
	cases := []struct {
		note  string
		group config.Group
	}{
		{note: "undefined episode", group: config.Group{Name: "g", EpisodeIs: config.StringSet{"ep9"}}},
		{note: "bad glob", group: config.Group{Name: "g", MimeTypes: config.StringSet{"image/[png"}}},
		{note: "bad filter", group: config.Group{Name: "g", Filter: "input.resource.size <"}},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			_, err := resolver.Resolve(context.Background(), &tc.group, testSet(), stageID)
			var cerr *resolver.ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if cerr.Group != "g" {
				t.Fatalf("unexpected group %q", cerr.Group)
			}
		})
	}
}

func TestResolveUnknownEpisodesWithoutCatalog(t *testing.T) {
	set := testSet()
	set.Episodes = nil

	res, err := resolver.Resolve(context.Background(), &config.Group{Name: "g", EpisodeIs: config.StringSet{"ep9"}}, set, stageID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Empty {
		t.Fatal("expected empty result")
	}
}

func TestResolveDoesNotMutate(t *testing.T) {
	set := testSet()
	before := len(set.Records())
	if _, err := resolver.Resolve(context.Background(), &config.Group{Name: "g"}, set, stageID); err != nil {
		t.Fatal(err)
	}
	if len(set.Records()) != before {
		t.Fatal("resolve mutated the set")
	}
	if f, _ := set.File("r1"); f.URL != nil {
		t.Fatal("resolve mutated a resource")
	}
}

func TestResolveSharedFilter(t *testing.T) {
	const filter = `input.resource.size >= 300`

	for _, name := range []string{"a", "b", "c"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			res, err := resolver.Resolve(context.Background(), &config.Group{Name: name, Filter: filter}, testSet(), stageID)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]string{"r2", "r3"}, res.MemberIDs()); diff != "" {
				t.Fatalf("unexpected members (-want +got):\n%s", diff)
			}
		})
	}
}
