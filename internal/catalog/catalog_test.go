package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSetAddReplacesByID(t *testing.T) {
	s := NewSet(
		&FileResource{ID: "a"},
		&GroupResource{ID: "g", Files: []string{"a"}},
		&FileResource{ID: "b"},
	)
	s.Add(&FileResource{ID: "a", Label: "again"})

	if s.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", s.Len())
	}
	f, ok := s.File("a")
	if !ok || f.Label != "again" {
		t.Fatalf("expected replaced record, got %+v", f)
	}
	if _, ok := s.File("g"); ok {
		t.Fatal("expected group not to be returned as file")
	}
	ids := []string{}
	for _, f := range s.Files() {
		ids = append(ids, f.ID)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Fatalf("unexpected files (-want,+got): %s", diff)
	}
}

func TestSetLocatorReplacesByKey(t *testing.T) {
	f := &FileResource{ID: "a", URL: map[string]string{"other": "x"}}

	if !f.SetLocator("stage", "one") {
		t.Fatal("expected change")
	}
	if f.SetLocator("stage", "one") {
		t.Fatal("expected no change on identical value")
	}
	f.SetLocator("stage", "two")

	if diff := cmp.Diff(map[string]string{"other": "x", "stage": "two"}, f.URL); diff != "" {
		t.Fatalf("unexpected locators (-want,+got): %s", diff)
	}
}

func TestProducedBy(t *testing.T) {
	plain := &FileResource{ID: "a"}
	bundle := &FileResource{
		ID:      "b",
		Bundle:  &BundleInfo{StageID: "s1"},
		Process: &ProcessRecord{Operations: []Operation{{StageID: "s1", Fingerprint: "f"}}},
	}
	if plain.ProducedBy("s1") || !bundle.ProducedBy("s1") || bundle.ProducedBy("s2") {
		t.Fatal("unexpected ProducedBy result")
	}
}

func TestDirLocator(t *testing.T) {
	l := DirLocator{Root: "/media"}
	p, err := l.Path(context.Background(), &FileResource{ID: "x", Path: "a/b.png"})
	if err != nil {
		t.Fatal(err)
	}
	if exp := filepath.Join("/media", "a", "b.png"); p != exp {
		t.Fatalf("expected %q, got %q", exp, p)
	}
	p, _ = l.Path(context.Background(), &FileResource{ID: "x"})
	if exp := filepath.Join("/media", "x"); p != exp {
		t.Fatalf("expected %q, got %q", exp, p)
	}
}
