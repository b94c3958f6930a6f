package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/logging"
	"github.com/mediabundler/mediabundler/internal/pipeline"
	"github.com/mediabundler/mediabundler/internal/rehydrate"
	"github.com/mediabundler/mediabundler/internal/service"
)

func setup(t *testing.T, cfg string) (*config.Root, *catalog.Set, string) {
	t.Helper()
	media := t.TempDir()
	out := t.TempDir()

	set := catalog.NewSet()
	for _, r := range []*catalog.FileResource{
		{ID: "intro.png", Tags: []string{"intro"}},
		{ID: "intro.mp3", Tags: []string{"intro"}},
		{ID: "outro.png", Tags: []string{"outro"}},
	} {
		if err := os.WriteFile(filepath.Join(media, r.ID), []byte(r.ID), 0o644); err != nil {
			t.Fatal(err)
		}
		r.Path = r.ID
		set.Add(r)
	}

	t.Setenv("MEDIA_ROOT", media)
	t.Setenv("OUTPUT_ROOT", out)

	root, err := config.Parse([]byte(os.ExpandEnv(cfg)))
	if err != nil {
		t.Fatal(err)
	}
	return root, set, out
}

func TestRun(t *testing.T) {
	root, set, out := setup(t, `
stages:
  media-bundle:
    output:
      filesystem:
        path: ${OUTPUT_ROOT}
  audio-bundle:
groups:
  intro:
    tag_contains: [intro]
  outro:
    tag_contains: [outro]
  audio:
    stage: audio-bundle
    mime_types: []
    filter: endswith(input.resource.id, ".mp3")
media:
  root: ${MEDIA_ROOT}
`)

	store := catalog.NewMemoryStore()
	p := pipeline.New(root, logging.NewNop()).WithStore(store)
	if err := p.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background(), set, "b1")
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(map[string]service.Summary{
		"audio-bundle": {Total: 1, Built: 1},
		"media-bundle": {Total: 2, Built: 2},
	}, res.Summaries); diff != "" {
		t.Fatalf("unexpected summaries (-want +got):\n%s", diff)
	}
	if res.Locators != 4 {
		t.Fatalf("expected 4 locators, got %d", res.Locators)
	}

	mp3, _ := set.File("intro.mp3")
	for _, stageID := range []string{"audio-bundle", "media-bundle"} {
		bundleID, memberID, ok := rehydrate.ParseLocator(mp3.URL[stageID])
		if !ok || memberID != "intro.mp3" {
			t.Fatalf("unexpected %s locator %q", stageID, mp3.URL[stageID])
		}
		if d, ok := set.File(bundleID); !ok || !d.ProducedBy(stageID) {
			t.Fatalf("locator points at unknown bundle %q", bundleID)
		}
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two archives in output, got %d", len(entries))
	}

	// A second run reuses everything and changes no locator.
	res, err = p.Run(context.Background(), set, "b2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Summaries["media-bundle"].CacheHit != 2 || res.Locators != 0 {
		t.Fatalf("unexpected second run: %+v", res)
	}
}

func TestRunDefaultStage(t *testing.T) {
	root, set, _ := setup(t, `
groups:
  everything:
media:
  root: ${MEDIA_ROOT}
`)

	p := pipeline.New(root, logging.NewNop())
	if err := p.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background(), set, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(service.Summary{Total: 1, Built: 1}, res.Summaries[config.DefaultStageID]); diff != "" {
		t.Fatal(diff)
	}
}

func TestRunStopsAtFailure(t *testing.T) {
	root, set, _ := setup(t, `
groups:
  everything:
media:
  root: ${MEDIA_ROOT}
`)
	set.Add(&catalog.FileResource{ID: "missing.png", Path: "missing.png"})

	p := pipeline.New(root, logging.NewNop())
	if err := p.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background(), set, "b1")
	var missing *service.MissingSourceFileError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing source file, got %v", err)
	}
	if res.Summaries[config.DefaultStageID].Failed != 1 {
		t.Fatalf("unexpected summary %+v", res.Summaries)
	}
	if res.Locators != 0 {
		t.Fatal("rehydrate must not run after a failed build")
	}
}

func TestPlan(t *testing.T) {
	root, set, out := setup(t, `
stages:
  media-bundle:
    output:
      filesystem:
        path: ${OUTPUT_ROOT}
groups:
  intro:
    tag_contains: [intro]
  nothing:
    tag_contains: [credits]
media:
  root: ${MEDIA_ROOT}
`)

	p := pipeline.New(root, logging.NewNop())
	if err := p.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	plans, err := p.Plan(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]pipeline.GroupPlan{
		{StageID: "media-bundle", Group: "intro", Members: []string{"intro.mp3", "intro.png"}},
		{StageID: "media-bundle", Group: "nothing", Members: []string{}, Empty: true},
	}, plans); diff != "" {
		t.Fatalf("unexpected plan (-want +got):\n%s", diff)
	}

	if entries, _ := os.ReadDir(out); len(entries) != 0 {
		t.Fatalf("plan must not write archives, found %d", len(entries))
	}
}

func TestRunRevertedMembership(t *testing.T) {
	root, set, _ := setup(t, `
groups:
  intro:
    tag_contains: [intro]
media:
  root: ${MEDIA_ROOT}
`)
	media := root.Media.Root

	p := pipeline.New(root, logging.NewNop())
	if err := p.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	run := func(buildID string) {
		t.Helper()
		if _, err := p.Run(context.Background(), set, buildID); err != nil {
			t.Fatal(err)
		}
	}

	run("1")

	// Build 3 widens the group, build 4 reverts it and reuses the bundle of
	// build 1.
	if err := os.WriteFile(filepath.Join(media, "intro.txt"), []byte("intro.txt"), 0o644); err != nil {
		t.Fatal(err)
	}
	extra := &catalog.FileResource{ID: "intro.txt", Path: "intro.txt", Tags: []string{"intro"}}
	set.Add(extra)
	run("3")
	extra.Removed = true
	run("4")

	png, _ := set.File("intro.png")
	bundleID, _, ok := rehydrate.ParseLocator(png.URL[config.DefaultStageID])
	if !ok {
		t.Fatalf("unexpected locator %q", png.URL[config.DefaultStageID])
	}
	d, _ := set.File(bundleID)
	if diff := cmp.Diff([]string{"1", "4"}, d.Process.MediaBundleIDs); diff != "" {
		t.Fatalf("locator points at a bundle build 4 did not request (-want +got):\n%s", diff)
	}
}
