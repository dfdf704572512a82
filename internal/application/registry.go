// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

// SourceAnalyzer analyzes a source, detecting its coordinate system.
type SourceAnalyzer interface {
	Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error)
}

// DatasetRegistry manages datasets discovered in storage. Only metadata is
// kept in memory; file contents are read again for every preview.
type DatasetRegistry struct {
	mu        sync.RWMutex
	datasets  map[string]*domain.Dataset
	analyzer  SourceAnalyzer
	catalog   output.FormatCatalog
	storage   output.ObjectStorage
	metrics   output.MetricsCollector
	logger    *slog.Logger
	localPath string
	parallel  int
	onChange  func(id string)
}

// NewDatasetRegistry creates a new dataset registry. parallel bounds the
// number of datasets downloaded and analyzed at once.
func NewDatasetRegistry(
	analyzer SourceAnalyzer,
	catalog output.FormatCatalog,
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	localPath string,
	parallel int,
) *DatasetRegistry {
	return &DatasetRegistry{
		datasets:  make(map[string]*domain.Dataset),
		analyzer:  analyzer,
		catalog:   catalog,
		storage:   storage,
		metrics:   metrics,
		logger:    logger,
		localPath: localPath,
		parallel:  max(parallel, 1),
	}
}

// OnChange registers a callback invoked after a dataset was loaded again
// or removed.
func (r *DatasetRegistry) OnChange(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// LoadDataset registers and analyzes the dataset whose main file is path.
// Companion files next to it are picked up by base name.
func (r *DatasetRegistry) LoadDataset(ctx context.Context, path string) error {
	id := DeriveDatasetID(path)
	r.logger.Info("loading dataset", "id", id, "path", path)

	files, err := r.companionPaths(path)
	if err != nil {
		r.logger.Error("failed to list dataset files", "path", path, "error", err)
		return err
	}

	ds := &domain.Dataset{
		ID:     id,
		Name:   filepath.Base(path),
		Path:   path,
		Files:  files,
		Status: domain.StatusLoading,
	}
	if p, err := r.catalog.Find(path, ""); err == nil {
		ds.Format = p.Name()
	}

	r.mu.Lock()
	_, reloaded := r.datasets[id]
	r.datasets[id] = ds
	r.mu.Unlock()

	src, err := readSource(files)
	if err == nil {
		r.setStatus(id, domain.StatusAnalyzing, nil)
		var a *domain.Analysis
		if a, err = r.analyzer.Analyze(ctx, src); err == nil {
			r.mu.Lock()
			if cur, ok := r.datasets[id]; ok {
				cur.Analysis = a
				cur.Size = src.Size()
				cur.Status = domain.StatusReady
				cur.LoadedAt = time.Now()
			}
			r.mu.Unlock()
		}
	}
	if err != nil {
		r.setStatus(id, domain.StatusError, err)
		r.updateMetrics()
		r.logger.Error("failed to load dataset", "id", id, "path", path, "error", err)
		return err
	}

	r.updateMetrics()
	if reloaded {
		r.changed(id)
	}
	r.logger.Info("dataset loaded", "id", id, "format", ds.Format, "layers", ds.LayerCount())
	return nil
}

// UnloadDataset removes a dataset.
func (r *DatasetRegistry) UnloadDataset(_ context.Context, id string) error {
	r.logger.Info("unloading dataset", "id", id)

	r.mu.Lock()
	if _, ok := r.datasets[id]; !ok {
		r.mu.Unlock()
		return domain.ErrDatasetNotFound
	}
	delete(r.datasets, id)
	r.mu.Unlock()

	r.updateMetrics()
	r.changed(id)
	return nil
}

// ListDatasets returns all registered datasets ordered by ID.
func (r *DatasetRegistry) ListDatasets(_ context.Context) ([]domain.Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	datasets := make([]domain.Dataset, 0, len(r.datasets))
	for _, ds := range r.datasets {
		datasets = append(datasets, *ds)
	}
	sort.Slice(datasets, func(i, j int) bool {
		return datasets[i].ID < datasets[j].ID
	})
	return datasets, nil
}

// GetDataset returns a specific dataset by ID.
func (r *DatasetRegistry) GetDataset(_ context.Context, id string) (*domain.Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.datasets[id]
	if !ok {
		return nil, domain.ErrDatasetNotFound
	}
	out := *ds
	return &out, nil
}

// GetDatasetStatus returns the status of a dataset.
func (r *DatasetRegistry) GetDatasetStatus(_ context.Context, id string) (domain.DatasetStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.datasets[id]
	if !ok {
		return "", domain.ErrDatasetNotFound
	}
	return ds.Status, nil
}

// Source reads the files of a dataset from the local cache.
func (r *DatasetRegistry) Source(_ context.Context, id string) (*domain.Source, error) {
	r.mu.RLock()
	ds, ok := r.datasets[id]
	var files []string
	if ok {
		files = ds.Files
	}
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrDatasetNotFound
	}
	return readSource(files)
}

// MarkPreviewed records the time of the last preview.
func (r *DatasetRegistry) MarkPreviewed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ds, ok := r.datasets[id]; ok {
		ds.LastPreviewed = time.Now()
	}
}

// IsLoaded returns true if a dataset with the given ID is registered.
func (r *DatasetRegistry) IsLoaded(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.datasets[id]
	return ok
}

// DatasetCount returns the number of registered datasets.
func (r *DatasetRegistry) DatasetCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.datasets)
}

func (r *DatasetRegistry) setStatus(id string, status domain.DatasetStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ds, ok := r.datasets[id]; ok {
		ds.Status = status
		ds.Error = ""
		if err != nil {
			ds.Error = err.Error()
		}
	}
}

func (r *DatasetRegistry) changed(id string) {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn(id)
	}
}

// updateMetrics updates the metrics collector with current dataset counts.
func (r *DatasetRegistry) updateMetrics() {
	r.mu.RLock()
	total := len(r.datasets)
	ready := 0
	for _, ds := range r.datasets {
		if ds.IsReady() {
			ready++
		}
	}
	r.mu.RUnlock()

	r.metrics.SetDatasetsLoaded(total)
	r.metrics.SetDatasetsReady(ready)
}

// remoteSource is a main object with its companion objects.
type remoteSource struct {
	Main       output.StorageObject
	Companions []output.StorageObject
}

// listRemote groups the storage objects into sources, keyed by dataset ID.
func (r *DatasetRegistry) listRemote(ctx context.Context) (map[string]remoteSource, error) {
	start := time.Now()
	objects, err := r.storage.List(ctx)
	r.metrics.IncStorageOperations("list", err == nil)
	r.metrics.ObserveStorageDuration("list", time.Since(start))
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]output.StorageObject, len(objects))
	files := make([]domain.SourceFile, len(objects))
	for i, obj := range objects {
		byKey[obj.Key] = obj
		files[i] = domain.SourceFile{Name: obj.Key}
	}

	remote := make(map[string]remoteSource)
	for _, src := range domain.GroupSources(files, r.catalog.MainExtensions()) {
		id := DeriveDatasetID(src.Main.Name)
		if prev, dup := remote[id]; dup {
			r.logger.Warn("duplicate dataset id, skipping", "id", id, "key", src.Main.Name, "kept", prev.Main.Key)
			continue
		}
		rs := remoteSource{Main: byKey[src.Main.Name]}
		for _, c := range src.Companions {
			rs.Companions = append(rs.Companions, byKey[c.Name])
		}
		remote[id] = rs
	}
	return remote, nil
}

// fetch downloads a remote source into the local cache and loads it.
func (r *DatasetRegistry) fetch(ctx context.Context, rs remoteSource) error {
	for _, obj := range append([]output.StorageObject{rs.Main}, rs.Companions...) {
		start := time.Now()
		err := r.storage.Download(ctx, obj, r.localFile(obj.Key))
		r.metrics.IncStorageOperations("download", err == nil)
		r.metrics.ObserveStorageDuration("download", time.Since(start))
		if err != nil {
			return &domain.StorageError{Operation: "download", Key: obj.Key, Err: err}
		}
	}
	return r.LoadDataset(ctx, r.localFile(rs.Main.Key))
}

// localFile maps an object key into the local cache directory.
func (r *DatasetRegistry) localFile(key string) string {
	return filepath.Join(r.localPath, filepath.FromSlash(key))
}

// LoadAll loads all datasets from storage.
func (r *DatasetRegistry) LoadAll(ctx context.Context) error {
	r.logger.Info("loading all datasets from storage")

	remote, err := r.listRemote(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for _, rs := range remote {
		g.Go(func() error {
			if err := r.fetch(gctx, rs); err != nil {
				r.logger.Error("failed to load dataset", "key", rs.Main.Key, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Removed int
}

// Sync synchronizes with remote storage, loading new datasets and removing
// datasets that no longer exist in remote storage.
func (r *DatasetRegistry) Sync(ctx context.Context) (SyncStats, error) {
	r.logger.Info("syncing datasets from storage")

	remote, err := r.listRemote(ctx)
	if err != nil {
		return SyncStats{}, err
	}

	var (
		stats   SyncStats
		statsMu sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for id, rs := range remote {
		if r.IsLoaded(id) {
			r.logger.Debug("dataset already loaded, skipping", "id", id)
			continue
		}
		g.Go(func() error {
			if err := r.fetch(gctx, rs); err != nil {
				r.logger.Error("failed to sync dataset", "key", rs.Main.Key, "error", err)
				return nil
			}
			statsMu.Lock()
			stats.Added++
			statsMu.Unlock()
			r.logger.Info("new dataset synced", "id", id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	for _, id := range r.findDatasetsToRemove(remote) {
		r.logger.Info("removing dataset not in remote storage", "id", id)

		files := r.datasetFiles(id)
		if err := r.UnloadDataset(ctx, id); err != nil {
			r.logger.Error("failed to unload removed dataset", "id", id, "error", err)
			continue
		}
		for _, path := range files {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				r.logger.Warn("failed to delete local cache file", "path", path, "error", err)
			}
		}
		stats.Removed++
	}

	r.logger.Info("sync completed", "added", stats.Added, "removed", stats.Removed, "total", r.DatasetCount())
	return stats, nil
}

// findDatasetsToRemove returns IDs that are registered but not in remote storage.
func (r *DatasetRegistry) findDatasetsToRemove(remote map[string]remoteSource) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var toRemove []string
	for id := range r.datasets {
		if _, exists := remote[id]; !exists {
			toRemove = append(toRemove, id)
		}
	}
	sort.Strings(toRemove)
	return toRemove
}

// datasetFiles returns the local file paths of a dataset.
func (r *DatasetRegistry) datasetFiles(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ds, ok := r.datasets[id]; ok {
		return ds.Files
	}
	return nil
}

// DeriveDatasetID extracts a dataset ID from a file path or object key.
func DeriveDatasetID(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// companionPaths returns path followed by all files in its directory
// sharing its base name, compared case-insensitively. Other main files are
// not companions.
func (r *DatasetRegistry) companionPaths(path string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	mainExts := r.catalog.MainExtensions()
	base := domain.BaseName(path)
	files := []string{path}
	for _, e := range entries {
		full := filepath.Join(filepath.Dir(path), e.Name())
		if e.IsDir() || full == path || domain.BaseName(e.Name()) != base {
			continue
		}
		if slices.Contains(mainExts, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		files = append(files, full)
	}
	return files, nil
}

// readSource reads the main file and its companions.
func readSource(files []string) (*domain.Source, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files: %w", domain.ErrInvalidInput)
	}
	read := func(path string) (domain.SourceFile, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.SourceFile{}, err
		}
		return domain.SourceFile{Name: filepath.Base(path), Data: data}, nil
	}

	mainFile, err := read(files[0])
	if err != nil {
		return nil, err
	}
	src := &domain.Source{Main: mainFile}
	for _, path := range files[1:] {
		c, err := read(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), domain.ErrMissingCompanion)
		}
		src.Companions = append(src.Companions, c)
	}
	return src, nil
}
