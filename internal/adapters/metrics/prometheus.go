// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	previewCounter      *prometheus.CounterVec
	previewDuration     *prometheus.HistogramVec
	features            *prometheus.CounterVec
	warnings            *prometheus.CounterVec
	cacheLookups        *prometheus.CounterVec
	memoryLimits        prometheus.Counter
	datasetsLoaded      prometheus.Gauge
	datasetsReady       prometheus.Gauge
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	gatherer            prometheus.Gatherer
}

// NewCollector creates a new Prometheus metrics collector registered with
// the default registry.
func NewCollector(namespace string) *Collector {
	return NewCollectorWith(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewCollectorWith creates a collector registered with reg.
func NewCollectorWith(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	if namespace == "" {
		namespace = "geopreview"
	}
	factory := promauto.With(reg)

	return &Collector{
		previewCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "previews_total",
				Help:      "Total number of preview runs",
			},
			[]string{"format", "status"},
		),

		previewDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "preview_duration_seconds",
				Help:      "Preview duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"format"},
		),

		features: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "features_total",
				Help:      "Features passing a pipeline stage",
			},
			[]string{"stage"},
		),

		warnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_warnings_total",
				Help:      "Records skipped with a recoverable error",
			},
			[]string{"format"},
		),

		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preview_cache_lookups_total",
				Help:      "Preview cache lookups",
			},
			[]string{"result"},
		),

		memoryLimits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_limit_aborts_total",
				Help:      "Streams aborted by the memory ceiling",
			},
		),

		datasetsLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "datasets_loaded",
				Help:      "Number of registered datasets",
			},
		),

		datasetsReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "datasets_ready",
				Help:      "Number of analyzed datasets",
			},
		),

		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		gatherer: gatherer,
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// IncPreviewCount increments the preview counter.
func (c *Collector) IncPreviewCount(format string, success bool) {
	c.previewCounter.WithLabelValues(format, statusLabel(success)).Inc()
}

// ObservePreviewDuration records preview duration.
func (c *Collector) ObservePreviewDuration(format string, duration time.Duration) {
	c.previewDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// AddFeatures counts features passing a pipeline stage.
func (c *Collector) AddFeatures(stage string, count int) {
	if count > 0 {
		c.features.WithLabelValues(stage).Add(float64(count))
	}
}

// AddWarnings counts recoverable per-record failures.
func (c *Collector) AddWarnings(format string, count int) {
	if count > 0 {
		c.warnings.WithLabelValues(format).Add(float64(count))
	}
}

// IncCacheLookup counts preview cache lookups.
func (c *Collector) IncCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// IncMemoryLimit counts streams aborted by the memory ceiling.
func (c *Collector) IncMemoryLimit() {
	c.memoryLimits.Inc()
}

// SetDatasetsLoaded sets the number of registered datasets.
func (c *Collector) SetDatasetsLoaded(count int) {
	c.datasetsLoaded.Set(float64(count))
}

// SetDatasetsReady sets the number of analyzed datasets.
func (c *Collector) SetDatasetsReady(count int) {
	c.datasetsReady.Set(float64(count))
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, statusLabel(success)).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the Prometheus HTTP handler of the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latencies per route template.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := routeLabel(r)
		c.IncHTTPRequests(r.Method, route, statusClass(rec.code))
		c.ObserveHTTPDuration(r.Method, route, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the route template, e.g. /api/v1/datasets/{datasetId},
// so dataset IDs never become label values.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// statusClass maps a status code to its class label, e.g. 404 to "4xx".
// Informational and invalid codes are "unknown".
func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
