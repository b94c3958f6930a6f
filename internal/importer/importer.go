// Package importer scans a media directory into catalog file resources.
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/hash"
	"github.com/mediabundler/mediabundler/internal/logging"
	"github.com/mediabundler/mediabundler/internal/progress"
)

// Sink receives imported resources and the episodes they belong to.
// *database.Database implements it.
type Sink interface {
	UpsertResource(ctx context.Context, r catalog.Record) error
	UpsertEpisode(ctx context.Context, episodeID, label string) error
}

type Importer struct {
	root             string
	tagsFromDirs     bool
	episodes         []string
	episodesFromDirs bool
	log              *logging.Logger
	bar              *progress.Bar
}

type Result struct {
	Imported int
	Bytes    int64
	Episodes []string // episode ids registered, in first use order
}

func New(root string) *Importer {
	return &Importer{root: root, log: logging.NewNop()}
}

func (i *Importer) WithLogger(log *logging.Logger) *Importer {
	i.log = log
	return i
}

func (i *Importer) WithProgress(bar *progress.Bar) *Importer {
	i.bar = bar
	return i
}

// WithTagsFromDirs tags each file with the names of the directories between
// the media root and the file.
func (i *Importer) WithTagsFromDirs(yes bool) *Importer {
	i.tagsFromDirs = yes
	return i
}

// WithEpisodes assigns every imported file to ids.
func (i *Importer) WithEpisodes(ids ...string) *Importer {
	i.episodes = ids
	return i
}

// WithEpisodesFromDirs assigns each file to the episode named after the top
// level directory it is in. Files directly under the media root get none.
func (i *Importer) WithEpisodesFromDirs(yes bool) *Importer {
	i.episodesFromDirs = yes
	return i
}

// Import walks the media root and upserts one file resource per regular
// file. Resource ids are slash-separated paths relative to the root. Hidden
// files and directories are skipped.
func (i *Importer) Import(ctx context.Context, sink Sink) (Result, error) {
	var paths []string
	err := filepath.WalkDir(i.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != i.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to scan %s: %w", i.root, err)
	}

	i.bar.AddMax(len(paths))

	var res Result
	registered := make(map[string]bool)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		f, err := i.resource(p)
		if err != nil {
			return res, err
		}

		for _, ep := range f.Episodes {
			if registered[ep] {
				continue
			}
			if err := sink.UpsertEpisode(ctx, ep, ""); err != nil {
				return res, fmt.Errorf("failed to register episode %s: %w", ep, err)
			}
			registered[ep] = true
			res.Episodes = append(res.Episodes, ep)
		}

		if err := sink.UpsertResource(ctx, f); err != nil {
			return res, fmt.Errorf("failed to store %s: %w", f.ID, err)
		}

		i.log.Debugf("imported %s (%s, %d bytes)", f.ID, f.MimeType, f.Size)
		res.Imported++
		res.Bytes += f.Size
		i.bar.Add(1)
	}

	i.bar.Finish()
	i.log.Infof("imported %d files from %s", res.Imported, i.root)
	return res, nil
}

func (i *Importer) resource(p string) (*catalog.FileResource, error) {
	rel, err := filepath.Rel(i.root, p)
	if err != nil {
		return nil, err
	}
	id := filepath.ToSlash(rel)

	mt, err := mimetype.DetectFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to detect type of %s: %w", id, err)
	}
	mimeType, _, _ := strings.Cut(mt.String(), ";")

	file, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	d, size, err := hash.ReaderDigest(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}

	f := &catalog.FileResource{
		ID:       id,
		MimeType: mimeType,
		Path:     id,
		FileName: path.Base(id),
		XXHash:   d.XXHashString(),
		MD5:      d.MD5String(),
		Size:     size,
	}

	if len(i.episodes) > 0 {
		f.Episodes = slices.Clone(i.episodes)
	}
	if dir := path.Dir(id); dir != "." {
		dirs := strings.Split(dir, "/")
		if i.tagsFromDirs {
			f.Tags = dirs
		}
		if i.episodesFromDirs && !slices.Contains(f.Episodes, dirs[0]) {
			f.Episodes = append(f.Episodes, dirs[0])
		}
	}

	return f, nil
}
