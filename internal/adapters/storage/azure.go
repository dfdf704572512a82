package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

// AzureStorage lists and downloads dataset files from an Azure Blob
// Storage container.
type AzureStorage struct {
	client     *azblob.Client
	container  string
	prefix     string
	extensions Extensions
}

// AzureConfig holds Azure Blob Storage configuration. A connection string
// takes precedence over account name and key.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
	Extensions       Extensions
}

// NewAzureStorage creates a new Azure Blob Storage adapter.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating azure client: %w", err)
	}

	return &AzureStorage{
		client:     client,
		container:  cfg.Container,
		prefix:     cfg.Prefix,
		extensions: cfg.Extensions,
	}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	serviceURL := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	return azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
}

// List returns the dataset files below the prefix.
func (s *AzureStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	prefix := listPrefix(s.prefix)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing container %s: %w", s.container, err)
		}

		for _, blob := range page.Segment.BlobItems {
			if obj, ok := s.storageObject(blob); ok {
				objects = append(objects, obj)
			}
		}
	}

	return objects, nil
}

// storageObject converts a listed blob. Blobs with an unselected extension
// are skipped.
func (s *AzureStorage) storageObject(blob *container.BlobItem) (output.StorageObject, bool) {
	if blob.Name == nil {
		return output.StorageObject{}, false
	}
	key := relativeKey(s.prefix, *blob.Name)
	if !s.extensions.Match(key) {
		return output.StorageObject{}, false
	}

	obj := output.StorageObject{Key: key}
	if p := blob.Properties; p != nil {
		if p.ContentLength != nil {
			obj.Size = *p.ContentLength
		}
		if p.LastModified != nil {
			obj.LastModified = p.LastModified.Unix()
		}
		if p.ETag != nil {
			obj.ETag = string(*p.ETag)
		}
	}
	return obj, true
}

// Download writes a blob to dest.
func (s *AzureStorage) Download(ctx context.Context, obj output.StorageObject, dest string) error {
	return download(ctx, obj, dest, s.open)
}

func (s *AzureStorage) open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, objectKey(s.prefix, key), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("blob %s: %w", key, domain.ErrNotFound)
		}
		return nil, err
	}
	return resp.Body, nil
}
