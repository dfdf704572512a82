package application

import (
	"context"
	"testing"

	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

func newTestRegistry() *DatasetRegistry {
	return NewDatasetRegistry(
		&mockAnalyzer{},
		&mockCatalog{parsers: []output.FormatParser{&stubParser{name: "csv", exts: []string{".csv"}}}},
		&mockStorage{},
		&output.NoOpMetrics{},
		testLogger(),
		"/tmp",
		2,
	)
}

func readyDataset(id string) *domain.Dataset {
	return &domain.Dataset{
		ID:       id,
		Status:   domain.StatusReady,
		Analysis: &domain.Analysis{Layers: []domain.LayerInfo{{Name: "0"}}},
	}
}

func TestHealthServiceIsHealthy(t *testing.T) {
	registry := newTestRegistry()
	service := NewHealthService(registry)

	if !service.IsHealthy(context.Background()) {
		t.Error("IsHealthy should return true")
	}
}

func TestHealthServiceIsReady(t *testing.T) {
	tests := []struct {
		name     string
		datasets map[string]*domain.Dataset
		want     bool
	}{
		{
			name:     "empty registry is ready",
			datasets: map[string]*domain.Dataset{},
			want:     true,
		},
		{
			name:     "ready dataset",
			datasets: map[string]*domain.Dataset{"roads": readyDataset("roads")},
			want:     true,
		},
		{
			name: "no ready datasets",
			datasets: map[string]*domain.Dataset{
				"roads": {ID: "roads", Status: domain.StatusAnalyzing},
			},
			want: false,
		},
		{
			name: "ready status without analysis",
			datasets: map[string]*domain.Dataset{
				"roads": {ID: "roads", Status: domain.StatusReady},
			},
			want: false,
		},
		{
			name: "mixed datasets - one ready",
			datasets: map[string]*domain.Dataset{
				"loading": {ID: "loading", Status: domain.StatusLoading},
				"ready":   readyDataset("ready"),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := newTestRegistry()
			registry.datasets = tt.datasets
			service := NewHealthService(registry)

			if got := service.IsReady(context.Background()); got != tt.want {
				t.Errorf("IsReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthServiceGetHealthDetails(t *testing.T) {
	registry := newTestRegistry()
	registry.datasets = map[string]*domain.Dataset{
		"parcels": readyDataset("parcels"),
		"roads":   {ID: "roads", Status: domain.StatusLoading},
		"broken":  {ID: "broken", Status: domain.StatusError, Error: "invalid header"},
	}
	service := NewHealthService(registry)

	details := service.GetHealthDetails(context.Background())

	if !details.Healthy {
		t.Error("expected Healthy to be true")
	}
	if !details.Ready {
		t.Error("expected Ready to be true")
	}
	if details.DatasetsLoaded != 3 {
		t.Errorf("expected DatasetsLoaded = 3, got %d", details.DatasetsLoaded)
	}
	if details.DatasetsReady != 1 {
		t.Errorf("expected DatasetsReady = 1, got %d", details.DatasetsReady)
	}
	if details.Components["storage"] != "ok" {
		t.Errorf("expected storage = ok, got %s", details.Components["storage"])
	}
	if details.Components["datasets"] != "degraded" {
		t.Errorf("expected datasets = degraded, got %s", details.Components["datasets"])
	}
}

func TestHealthServiceGetDatasetHealth(t *testing.T) {
	registry := newTestRegistry()
	registry.datasets = map[string]*domain.Dataset{
		"b": {ID: "b", Status: domain.StatusError, Error: "boom"},
		"a": readyDataset("a"),
	}
	service := NewHealthService(registry)

	health := service.GetDatasetHealth(context.Background())
	if len(health) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(health))
	}

	if health[0].ID != "a" || !health[0].Ready {
		t.Errorf("unexpected first entry: %+v", health[0])
	}
	if health[1].ID != "b" || health[1].Ready || health[1].Error != "boom" {
		t.Errorf("unexpected second entry: %+v", health[1])
	}
}
