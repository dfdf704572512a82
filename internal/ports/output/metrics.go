package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncPreviewCount increments the preview counter.
	IncPreviewCount(format string, success bool)

	// ObservePreviewDuration records preview duration.
	ObservePreviewDuration(format string, duration time.Duration)

	// AddFeatures counts features passing a pipeline stage.
	AddFeatures(stage string, count int)

	// AddWarnings counts recoverable per-record failures.
	AddWarnings(format string, count int)

	// IncCacheLookup counts preview cache lookups.
	IncCacheLookup(hit bool)

	// IncMemoryLimit counts streams aborted by the memory ceiling.
	IncMemoryLimit()

	// SetDatasetsLoaded sets the number of registered datasets.
	SetDatasetsLoaded(count int)

	// SetDatasetsReady sets the number of analyzed datasets.
	SetDatasetsReady(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncPreviewCount implements MetricsCollector.
func (n *NoOpMetrics) IncPreviewCount(_ string, _ bool) {}

// ObservePreviewDuration implements MetricsCollector.
func (n *NoOpMetrics) ObservePreviewDuration(_ string, _ time.Duration) {}

// AddFeatures implements MetricsCollector.
func (n *NoOpMetrics) AddFeatures(_ string, _ int) {}

// AddWarnings implements MetricsCollector.
func (n *NoOpMetrics) AddWarnings(_ string, _ int) {}

// IncCacheLookup implements MetricsCollector.
func (n *NoOpMetrics) IncCacheLookup(_ bool) {}

// IncMemoryLimit implements MetricsCollector.
func (n *NoOpMetrics) IncMemoryLimit() {}

// SetDatasetsLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetDatasetsLoaded(_ int) {}

// SetDatasetsReady implements MetricsCollector.
func (n *NoOpMetrics) SetDatasetsReady(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
