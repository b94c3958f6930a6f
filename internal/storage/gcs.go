package storage

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/metrics"
)

type GCPCloudStorage struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCPCloudStorage(ctx context.Context, cfg *config.GCPCloudStorage) (*GCPCloudStorage, error) {
	var opts []option.ClientOption
	if cfg.URL != "" {
		opts = append(opts, option.WithEndpoint(cfg.URL), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCPCloudStorage{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCPCloudStorage) OutputFileName(desc *catalog.FileResource) string {
	return objectName(s.prefix, desc)
}

func (s *GCPCloudStorage) WriteOutputFile(ctx context.Context, desc *catalog.FileResource, data []byte) error {
	name := s.OutputFileName(desc)

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata(desc, data)

	_, err := w.Write(data)
	if err = errors.Join(err, w.Close()); err != nil {
		metrics.OutputWriteFailed.WithLabelValues("gcp_cloud_storage").Inc()
		return fmt.Errorf("failed to upload gs://%s/%s: %w", s.bucket, name, err)
	}

	metrics.OutputBytesWritten.WithLabelValues("gcp_cloud_storage").Add(float64(len(data)))
	return nil
}
