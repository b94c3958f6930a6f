package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/metrics"
)

// FileSystem writes archives below a local directory.
type FileSystem struct {
	root string
}

func NewFileSystem(cfg *config.FileSystemStorage) *FileSystem {
	return &FileSystem{root: cfg.Path}
}

func (s *FileSystem) OutputFileName(desc *catalog.FileResource) string {
	return filepath.Join(s.root, filepath.FromSlash(desc.FileName))
}

// WriteOutputFile writes through a temporary file so readers never observe a
// partial archive.
func (s *FileSystem) WriteOutputFile(_ context.Context, desc *catalog.FileResource, data []byte) (err error) {
	name := s.OutputFileName(desc)
	defer func() {
		if err != nil {
			metrics.OutputWriteFailed.WithLabelValues("filesystem").Inc()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(name), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	tmp := f.Name()

	_, err = f.Write(data)
	if err = errors.Join(err, f.Close()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, name); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	metrics.OutputBytesWritten.WithLabelValues("filesystem").Add(float64(len(data)))
	return nil
}
