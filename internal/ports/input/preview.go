// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/geopreview/internal/domain"
)

// PreviewRequest describes a preview of one source.
type PreviewRequest struct {
	Identity string                // Cache identity of the source (dataset id, upload hash)
	Source   *domain.Source        // Main file and companions
	Analysis *domain.Analysis      // Prior analysis (optional)
	Options  domain.PreviewOptions // Processing options; zero values use the defaults
	Progress domain.ProgressFunc   // Progress callback (optional)
}

// PreviewService defines the primary port for previews.
type PreviewService interface {
	// Analyze reads the metadata of a source and detects its coordinate system.
	Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error)

	// Preview produces a bounded, categorized preview of a source.
	Preview(ctx context.Context, req PreviewRequest) (*domain.PreviewCollection, error)
}

// DatasetRegistry defines the primary port for dataset management.
type DatasetRegistry interface {
	// ListDatasets returns all registered datasets.
	ListDatasets(ctx context.Context) ([]domain.Dataset, error)

	// GetDataset returns a specific dataset by ID.
	GetDataset(ctx context.Context, id string) (*domain.Dataset, error)

	// GetDatasetStatus returns the status of a dataset.
	GetDatasetStatus(ctx context.Context, id string) (domain.DatasetStatus, error)

	// Source reads the files of a dataset.
	Source(ctx context.Context, id string) (*domain.Source, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy        bool              // Overall health status
	Ready          bool              // Ready to accept requests
	DatasetsLoaded int               // Number of registered datasets
	DatasetsReady  int               // Number of analyzed datasets
	Components     map[string]string // Component statuses
}
