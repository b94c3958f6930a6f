// Package assembler writes the members of a bundle group into a single zip
// archive and derives the descriptor metadata from the archive bytes.
package assembler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/hash"
)

// Entries carry a fixed modification time so identical inputs produce
// identical archives.
var entryTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// MissingSourceFileError reports a member whose binary file does not exist.
type MissingSourceFileError struct {
	ResourceID string
	Path       string
	Err        error
}

func (e *MissingSourceFileError) Error() string {
	return fmt.Sprintf("missing source file for resource %q: %s", e.ResourceID, e.Path)
}

func (e *MissingSourceFileError) Unwrap() error {
	return e.Err
}

// IOError reports a failure to read a member or to write an archive.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Draft describes an assembled archive that has not been registered yet.
type Draft struct {
	Members  []string // sorted member ids
	FileName string
	Digest   hash.Digest
	Size     int64
}

// Descriptor turns the draft into a bundle descriptor for stageID.
func (d *Draft) Descriptor(stageID string, fp hash.Fingerprint, process *catalog.ProcessRecord) *catalog.FileResource {
	return &catalog.FileResource{
		ID:       DescriptorID(stageID, fp),
		Label:    d.FileName,
		MimeType: "application/zip",
		FileName: d.FileName,
		XXHash:   d.Digest.XXHashString(),
		MD5:      d.Digest.MD5String(),
		Size:     d.Size,
		Process:  process,
		Bundle:   &catalog.BundleInfo{StageID: stageID, Members: slices.Clone(d.Members)},
	}
}

// DescriptorID derives the descriptor id from the stage and fingerprint, so
// a descriptor is addressed by the membership it packages.
func DescriptorID(stageID string, fp hash.Fingerprint) string {
	return stageID + "-" + fp.String()[:16]
}

// Namer names the archive of a draft.
type Namer func(d *Draft) string

// DefaultNamer names archives after their xxhash digest.
func DefaultNamer(prefix string) Namer {
	return func(d *Draft) string {
		return prefix + d.Digest.XXHashString() + ".zip"
	}
}

type Assembler struct {
	locator     catalog.Locator
	compression string
	level       int
	namer       Namer
}

func New(locator catalog.Locator) *Assembler {
	return &Assembler{
		locator:     locator,
		compression: config.CompressionStore,
		level:       flate.DefaultCompression,
		namer:       DefaultNamer(""),
	}
}

// WithBuildOptions applies the archive options of a stage.
func (a *Assembler) WithBuildOptions(opts config.BuildOptions) *Assembler {
	if opts.Compression != "" {
		a.compression = opts.Compression
	}
	if opts.CompressionLevel != 0 {
		a.level = opts.CompressionLevel
	}
	a.namer = DefaultNamer(opts.FileNamePrefix)
	return a
}

func (a *Assembler) WithNamer(n Namer) *Assembler {
	a.namer = n
	return a
}

// Estimate returns the number of bytes an archive of members is expected to
// buffer. Stored archives are slightly larger than their members. Members
// without a recorded size are measured on disk, and members that cannot be
// found count as zero.
func (a *Assembler) Estimate(ctx context.Context, members []*catalog.FileResource) int64 {
	var n int64
	for _, m := range members {
		if m.Size > 0 {
			n += m.Size
			continue
		}
		p, err := a.locator.Path(ctx, m)
		if err != nil {
			continue
		}
		if fi, err := os.Stat(p); err == nil {
			n += fi.Size()
		}
	}
	return n
}

// Assemble writes members into an in-memory zip archive. Members must be
// sorted by id.
func (a *Assembler) Assemble(ctx context.Context, members []*catalog.FileResource) (*bytes.Buffer, *Draft, error) {
	paths := make([]string, len(members))
	var estimate int64
	for i, m := range members {
		p, err := a.locator.Path(ctx, m)
		if err != nil {
			return nil, nil, &MissingSourceFileError{ResourceID: m.ID, Err: err}
		}
		fi, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil, &MissingSourceFileError{ResourceID: m.ID, Path: p, Err: err}
			}
			return nil, nil, &IOError{Op: "stat", Path: p, Err: err}
		}
		paths[i] = p
		estimate += fi.Size()
	}

	buf := bytes.NewBuffer(make([]byte, 0, estimate))
	w := zip.NewWriter(buf)
	method, err := a.register(w)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, len(members))
	for i, m := range members {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if err := writeEntry(w, m.ID, paths[i], method); err != nil {
			return nil, nil, err
		}
		ids[i] = m.ID
	}

	if err := w.Close(); err != nil {
		return nil, nil, &IOError{Op: "close archive", Err: err}
	}

	d := &Draft{
		Members: ids,
		Digest:  hash.ContentDigest(buf.Bytes()),
		Size:    int64(buf.Len()),
	}
	d.FileName = a.namer(d)
	return buf, d, nil
}

func (a *Assembler) register(w *zip.Writer) (uint16, error) {
	switch a.compression {
	case config.CompressionStore:
		return zip.Store, nil
	case config.CompressionDeflate:
		level := a.level
		w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
		return zip.Deflate, nil
	case config.CompressionZstd:
		w.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(a.level)),
			zstd.WithEncoderConcurrency(1),
		))
		return zstd.ZipMethodWinZip, nil
	}
	return 0, fmt.Errorf("unsupported compression %q", a.compression)
}

func writeEntry(w *zip.Writer, name, path string, method uint16) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	hdr := &zip.FileHeader{
		Name:     strings.TrimPrefix(name, "/"),
		Method:   method,
		Modified: entryTime,
	}
	hdr.SetMode(0o644)

	dst, err := w.CreateHeader(hdr)
	if err != nil {
		return &IOError{Op: "write archive entry", Path: name, Err: err}
	}
	if _, err := io.Copy(dst, f); err != nil {
		return &IOError{Op: "copy", Path: path, Err: err}
	}
	return nil
}
