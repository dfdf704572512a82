// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jobrunner/geopreview/internal/adapters/formats"
	"github.com/jobrunner/geopreview/internal/adapters/formats/delimited"
	"github.com/jobrunner/geopreview/internal/adapters/formats/dxf"
	"github.com/jobrunner/geopreview/internal/adapters/formats/geojson"
	"github.com/jobrunner/geopreview/internal/adapters/formats/geopackage"
	"github.com/jobrunner/geopreview/internal/adapters/formats/openstreetmap"
	"github.com/jobrunner/geopreview/internal/adapters/formats/shapefile"
	httpAdapter "github.com/jobrunner/geopreview/internal/adapters/http"
	"github.com/jobrunner/geopreview/internal/adapters/metrics"
	"github.com/jobrunner/geopreview/internal/adapters/projection"
	"github.com/jobrunner/geopreview/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/geopreview/internal/adapters/tls"
	"github.com/jobrunner/geopreview/internal/adapters/watcher"
	"github.com/jobrunner/geopreview/internal/application"
	"github.com/jobrunner/geopreview/internal/config"
	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

// Pipeline holds the components needed to analyze and preview sources.
// The CLI uses it without any server or storage.
type Pipeline struct {
	Systems  *projection.Registry
	Engine   *projection.Engine
	Formats  *formats.Set
	Previews *application.PreviewService
}

// NewPipeline wires coordinate systems, format parsers and the preview
// service from cfg.
func NewPipeline(cfg *config.Config, collector output.MetricsCollector, logger *slog.Logger) *Pipeline {
	systems := projection.NewDefaultRegistry()
	engine := projection.NewEngine(systems, cfg.Transform.CacheLifetime, logger)

	catalog := formats.NewSet(
		geojson.NewParser(logger),
		delimited.NewParser(logger),
		shapefile.NewParser(logger),
		dxf.NewParser(logger),
		geopackage.NewParser(logger, cfg.Formats.TempDir),
		openstreetmap.NewParser(logger, cfg.Formats.OSMProcs),
	)

	previews := application.NewPreviewService(
		catalog,
		application.NewDetector(systems, logger),
		engine,
		application.NewPreviewCache(cfg.Cache.PreviewTTL, logger),
		collector,
		logger,
		application.PreviewServiceConfig{
			Defaults: domain.PreviewOptions{
				TargetCoordinateSystem: cfg.Pipeline.DefaultTarget,
				MaxPreviewFeatures:     cfg.Pipeline.MaxPreviewFeatures,
				ChunkSize:              cfg.Pipeline.ChunkSize,
				MaxMemoryMB:            cfg.Pipeline.MaxMemoryMB,
				SmartSampling:          cfg.Pipeline.SmartSampling,
				EnableCaching:          cfg.Pipeline.EnableCaching,
				SimplifyTolerance:      cfg.Pipeline.SimplifyTolerance,
			},
			StreamingThreshold: cfg.Pipeline.StreamingThreshold,
			ChunkTTL:           cfg.Pipeline.ChunkTTL,
			MemoryEstimator:    cfg.Pipeline.MemoryEstimator,
			FeatureCost:        cfg.Pipeline.FeatureCost,
			CurveSegments:      cfg.Formats.CurveSegments,
		},
	)

	return &Pipeline{
		Systems:  systems,
		Engine:   engine,
		Formats:  catalog,
		Previews: previews,
	}
}

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Pipeline      *Pipeline
	Storage       output.ObjectStorage
	Registry      *application.DatasetRegistry
	SyncService   *application.SyncService
	HealthService *application.HealthService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector

	stopPrune context.CancelFunc
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var collector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("geopreview")
		collector = app.Metrics
	}

	app.Pipeline = NewPipeline(cfg, collector, logger)
	catalog := app.Pipeline.Formats

	exts := storage.NewExtensions(catalog.MainExtensions(), storage.CompanionExtensions)
	store, err := initStorage(ctx, cfg.Storage, exts)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = store

	app.Registry = application.NewDatasetRegistry(
		app.Pipeline.Previews,
		catalog,
		app.Storage,
		collector,
		logger,
		cfg.Storage.LocalPath,
		cfg.Storage.Parallel,
	)
	// Cached previews of a dataset that changed on disk are stale.
	app.Registry.OnChange(func(id string) {
		app.Pipeline.Previews.Cache().Invalidate()
		logger.Debug("preview cache invalidated", "dataset", id)
	})

	app.SyncService = application.NewSyncService(app.Registry, cfg.Sync.Interval, cfg.Sync.Cooldown, logger)
	app.HealthService = application.NewHealthService(app.Registry)

	app.HTTPServer = httpAdapter.NewServer(cfg.Server, httpAdapter.Services{
		Previews: app.Pipeline.Previews,
		Registry: app.Registry,
		Health:   app.HealthService,
		Sync:     app.SyncService,
		Systems:  app.Pipeline.Systems,
		Formats:  catalog,
	}, logger)

	if app.Metrics != nil {
		router := app.HTTPServer.Router()
		router.Use(app.Metrics.Middleware)
		router.Handle(cfg.Metrics.Path, app.Metrics.Handler()).Methods("GET")
	}

	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(cfg.TLS, cfg.Server, app.HTTPServer.Router(), logger)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	if output.StorageType(cfg.Storage.Type) == output.StorageTypeLocal && cfg.Watcher.Enabled {
		w, err := watcher.New(
			watcher.Config{
				Paths:      []string{cfg.Storage.LocalPath},
				Debounce:   cfg.Watcher.Debounce,
				Extensions: slices.Concat(catalog.MainExtensions(), storage.CompanionExtensions),
			},
			app.handleFileEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start loads the datasets, starts the background workers and serves
// HTTP or HTTPS until the server is shut down.
func (a *App) Start(ctx context.Context) error {
	if err := a.Registry.LoadAll(ctx); err != nil {
		a.Logger.Warn("failed to load datasets", "error", err)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	a.SyncService.Start(ctx)

	pruneCtx, cancel := context.WithCancel(ctx)
	a.stopPrune = cancel
	go a.pruneLoop(pruneCtx, a.Config.Cache.PreviewTTL)

	if a.TLSServer != nil {
		if err := a.TLSServer.ManageCertificates(ctx); err != nil {
			return err
		}
		return a.TLSServer.Start()
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	a.SyncService.Stop()

	if a.stopPrune != nil {
		a.stopPrune()
	}

	if a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTPS server shutdown error", "error", err)
		}
	} else if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	stats := a.Pipeline.Previews.Cache().Stats()
	a.Logger.Info("preview cache at shutdown", "entries", stats.Entries, "hits", stats.Hits, "misses", stats.Misses)
	return nil
}

// pruneLoop drops expired previews every ttl. A ttl <= 0 disables expiry.
func (a *App) pruneLoop(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Pipeline.Previews.Cache().Prune(); n > 0 {
				a.Logger.Debug("pruned previews", "count", n)
			}
		}
	}
}

// handleFileEvent keeps the registry in step with the data directory. A
// changed companion file reloads the dataset it belongs to.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	id := application.DeriveDatasetID(event.Path)
	ext := strings.ToLower(filepath.Ext(event.Path))

	if !slices.Contains(a.Pipeline.Formats.MainExtensions(), ext) {
		ds, err := a.Registry.GetDataset(ctx, id)
		if err != nil {
			return nil
		}
		a.Logger.Info("companion file changed", "dataset", id, "path", event.Path)
		return a.Registry.LoadDataset(ctx, ds.Path)
	}

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return a.Registry.LoadDataset(ctx, event.Path)

	case watcher.OpDelete:
		if err := a.Registry.UnloadDataset(ctx, id); err != nil {
			a.Logger.Warn("failed to unload deleted dataset", "id", id, "error", err)
		}
	}

	return nil
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig, exts storage.Extensions) (output.ObjectStorage, error) {
	switch output.StorageType(cfg.Type) {
	case output.StorageTypeLocal:
		return storage.NewLocalStorage(cfg.LocalPath, exts), nil

	case output.StorageTypeS3:
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Extensions:      exts,
		})

	case output.StorageTypeAzure:
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
			Extensions:       exts,
		})

	case output.StorageTypeHTTP:
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:    cfg.HTTP.BaseURL,
			IndexFile:  cfg.HTTP.IndexFile,
			Timeout:    cfg.HTTP.Timeout,
			Username:   cfg.HTTP.Username,
			Password:   cfg.HTTP.Password,
			Extensions: exts,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
