package application

import (
	"context"

	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	registry input.DatasetRegistry
}

// NewHealthService creates a new health service.
func NewHealthService(registry input.DatasetRegistry) *HealthService {
	return &HealthService{
		registry: registry,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true once at least one dataset is analyzed, or when no
// datasets are configured. Uploads work without datasets.
func (s *HealthService) IsReady(ctx context.Context) bool {
	datasets, err := s.registry.ListDatasets(ctx)
	if err != nil {
		return false
	}

	for _, ds := range datasets {
		if ds.IsReady() {
			return true
		}
	}
	return len(datasets) == 0
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	datasets, _ := s.registry.ListDatasets(ctx)

	ready := 0
	failed := 0
	for _, ds := range datasets {
		switch {
		case ds.IsReady():
			ready++
		case ds.Status == domain.StatusError:
			failed++
		}
	}

	components := map[string]string{
		"storage":  "ok",
		"datasets": "ok",
	}
	if failed > 0 {
		components["datasets"] = "degraded"
	}

	return input.HealthDetails{
		Healthy:        s.IsHealthy(ctx),
		Ready:          s.IsReady(ctx),
		DatasetsLoaded: len(datasets),
		DatasetsReady:  ready,
		Components:     components,
	}
}

// DatasetHealth contains health info for a single dataset.
type DatasetHealth struct {
	ID     string
	Status domain.DatasetStatus
	Ready  bool
	Error  string
}

// GetDatasetHealth returns health info for all datasets.
func (s *HealthService) GetDatasetHealth(ctx context.Context) []DatasetHealth {
	datasets, _ := s.registry.ListDatasets(ctx)

	health := make([]DatasetHealth, len(datasets))
	for i, ds := range datasets {
		health[i] = DatasetHealth{
			ID:     ds.ID,
			Status: ds.Status,
			Ready:  ds.IsReady(),
			Error:  ds.Error,
		}
	}
	return health
}
