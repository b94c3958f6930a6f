package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/metrics"
)

type AzureBlobStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

func NewAzureBlobStorage(cfg *config.AzureBlobStorage) (*AzureBlobStorage, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := azblob.NewClient(cfg.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	return &AzureBlobStorage{client: client, container: cfg.Container, prefix: cfg.Prefix}, nil
}

func (s *AzureBlobStorage) OutputFileName(desc *catalog.FileResource) string {
	return objectName(s.prefix, desc)
}

func (s *AzureBlobStorage) WriteOutputFile(ctx context.Context, desc *catalog.FileResource, data []byte) error {
	name := s.OutputFileName(desc)

	md := make(map[string]*string)
	for k, v := range metadata(desc, data) {
		md[k] = &v
	}
	ct := contentType

	_, err := s.client.UploadBuffer(ctx, s.container, name, data, &azblob.UploadBufferOptions{
		Metadata:    md,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		metrics.OutputWriteFailed.WithLabelValues("azure_blob_storage").Inc()
		return fmt.Errorf("failed to upload %s/%s: %w", s.container, name, err)
	}

	metrics.OutputBytesWritten.WithLabelValues("azure_blob_storage").Add(float64(len(data)))
	return nil
}
