// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
)

// ObjectStorage is where dataset files come from.
type ObjectStorage interface {
	// List returns the dataset files, main and companion, in the storage.
	List(ctx context.Context) ([]StorageObject, error)

	// Download writes the content of obj to dest. A dest that already has
	// the size and modification time of obj is left as is.
	Download(ctx context.Context, obj StorageObject, dest string) error
}

// StorageObject is a file in a storage backend.
type StorageObject struct {
	Key          string // Slash separated path relative to the storage root
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp, 0 when unknown
	ETag         string // Content hash, if the backend has one
}

// StorageType names a storage backend.
type StorageType string

// Storage backends.
const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)
