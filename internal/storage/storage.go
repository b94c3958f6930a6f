// Package storage writes built archives to the output storage of a stage.
package storage

import (
	"context"
	"path"

	"github.com/opencontainers/go-digest"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
)

const contentType = "application/zip"

// OutputStore receives the archive of every newly built descriptor.
type OutputStore interface {
	WriteOutputFile(ctx context.Context, desc *catalog.FileResource, data []byte) error
	OutputFileName(desc *catalog.FileResource) string
}

// New returns the store configured by cfg, or nil if cfg selects none.
func New(ctx context.Context, cfg config.ObjectStorage) (OutputStore, error) {
	switch {
	case cfg.AmazonS3 != nil:
		return NewAmazonS3(ctx, cfg.AmazonS3)
	case cfg.GCPCloudStorage != nil:
		return NewGCPCloudStorage(ctx, cfg.GCPCloudStorage)
	case cfg.AzureBlobStorage != nil:
		return NewAzureBlobStorage(cfg.AzureBlobStorage)
	case cfg.FileSystemStorage != nil:
		return NewFileSystem(cfg.FileSystemStorage), nil
	}
	return nil, nil
}

func objectName(prefix string, desc *catalog.FileResource) string {
	if prefix == "" {
		return desc.FileName
	}
	return path.Join(prefix, desc.FileName)
}

// metadata describes an uploaded archive. The digest lets registry style
// consumers verify the object without recomputing the catalog hashes.
func metadata(desc *catalog.FileResource, data []byte) map[string]string {
	m := map[string]string{
		"digest": digest.FromBytes(data).String(),
		"xxhash": desc.XXHash,
		"md5":    desc.MD5,
	}
	if desc.Bundle != nil {
		m["stage"] = desc.Bundle.StageID
	}
	return m
}
