package cache_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mediabundler/mediabundler/internal/cache"
	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/hash"
)

func descriptor(id, stageID string, fp hash.Fingerprint) *catalog.FileResource {
	return &catalog.FileResource{
		ID:      id,
		Bundle:  &catalog.BundleInfo{StageID: stageID},
		Process: cache.NewProcessRecord(stageID, fp, "b0"),
	}
}

func TestLookup(t *testing.T) {
	fpA := hash.ComputeFingerprint("s", []string{"a"})
	fpB := hash.ComputeFingerprint("s", []string{"b"})

	ds := []*catalog.FileResource{
		descriptor("d1", "s", fpA),
		descriptor("d2", "other", fpB),
		{ID: "plain"},
	}

	cases := []struct {
		note    string
		stageID string
		fp      hash.Fingerprint
		exp     string
	}{
		{note: "hit", stageID: "s", fp: fpA, exp: "d1"},
		{note: "miss", stageID: "s", fp: fpB},
		{note: "other stage", stageID: "other", fp: fpA},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			d, err := cache.Lookup(ds, tc.stageID, tc.fp)
			if err != nil {
				t.Fatal(err)
			}
			var got string
			if d != nil {
				got = d.ID
			}
			if got != tc.exp {
				t.Fatalf("expected %q, got %q", tc.exp, got)
			}
		})
	}
}

func TestLookupInconsistent(t *testing.T) {
	fp := hash.ComputeFingerprint("s", []string{"a"})
	ds := []*catalog.FileResource{descriptor("d1", "s", fp), descriptor("d2", "s", fp)}

	_, err := cache.Lookup(ds, "s", fp)
	var cerr *cache.CacheInconsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
	if diff := cmp.Diff([]string{"d1", "d2"}, cerr.IDs); diff != "" {
		t.Fatal(diff)
	}
}

func TestReuse(t *testing.T) {
	d := descriptor("d1", "s", hash.ComputeFingerprint("s", nil))

	if !cache.Reuse(d, "b1") {
		t.Fatal("expected b1 to be added")
	}
	if cache.Reuse(d, "b1") {
		t.Fatal("expected b1 to be present already")
	}
	if diff := cmp.Diff([]string{"b0", "b1"}, d.Process.MediaBundleIDs); diff != "" {
		t.Fatal(diff)
	}
}

func TestNewProcessRecord(t *testing.T) {
	fp := hash.ComputeFingerprint("s", []string{"x"})
	exp := &catalog.ProcessRecord{
		Operations:     []catalog.Operation{{StageID: "s", Fingerprint: fp.String()}},
		MediaBundleIDs: []string{"b1"},
	}
	if diff := cmp.Diff(exp, cache.NewProcessRecord("s", fp, "b1")); diff != "" {
		t.Fatal(diff)
	}
}
