package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

// LocalStorage serves dataset files from a directory tree.
type LocalStorage struct {
	basePath   string
	extensions Extensions
}

// NewLocalStorage creates a new local storage adapter listing files with
// one of the given extensions.
func NewLocalStorage(basePath string, extensions Extensions) *LocalStorage {
	return &LocalStorage{basePath: basePath, extensions: extensions}
}

// List returns the dataset files below the base path. Hidden files are
// skipped.
func (s *LocalStorage) List(_ context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || !s.extensions.Match(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.StorageObject{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.basePath, err)
	}

	return objects, nil
}

// Download copies a file to dest. Nothing is copied when dest is the file
// itself, which is the case when the base path doubles as the local cache.
func (s *LocalStorage) Download(ctx context.Context, obj output.StorageObject, dest string) error {
	if filepath.Clean(s.FullPath(obj.Key)) == filepath.Clean(dest) {
		return nil
	}
	return download(ctx, obj, dest, s.open)
}

func (s *LocalStorage) open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.FullPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file %s: %w", key, domain.ErrNotFound)
	}
	return f, err
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
