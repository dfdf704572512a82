package application

import (
	"context"
	"iter"
	"log/slog"
	"runtime"
	"time"

	"github.com/jobrunner/geopreview/internal/domain"
)

// Stream defaults.
const (
	DefaultChunkSize          = 1000
	DefaultMaxMemoryMB        = 512
	DefaultStreamingThreshold = 50 << 20
	DefaultChunkTTL           = 30 * time.Second
	DefaultFeatureCost        = 1024
)

// Yielder is called after each chunk so that long ingestion runs give
// other work a chance to run. A non-nil error stops ingestion.
type Yielder interface {
	Yield(ctx context.Context) error
}

// YieldFunc adapts a function to Yielder.
type YieldFunc func(ctx context.Context) error

// Yield implements Yielder.
func (f YieldFunc) Yield(ctx context.Context) error {
	return f(ctx)
}

// SchedulerYielder hands the processor to other goroutines and reports
// cancellation.
type SchedulerYielder struct{}

// Yield implements Yielder.
func (SchedulerYielder) Yield(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}

// MemoryEstimator estimates the memory in use, in megabytes.
type MemoryEstimator interface {
	EstimateMB(features int) float64
}

// HeapEstimator reports the live heap of the process.
type HeapEstimator struct{}

// EstimateMB implements MemoryEstimator.
func (HeapEstimator) EstimateMB(_ int) float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1 << 20)
}

// FeatureCostEstimator multiplies the number of held features by a fixed
// per-feature cost in bytes.
type FeatureCostEstimator struct {
	BytesPerFeature int
}

// EstimateMB implements MemoryEstimator.
func (e FeatureCostEstimator) EstimateMB(features int) float64 {
	cost := e.BytesPerFeature
	if cost <= 0 {
		cost = DefaultFeatureCost
	}
	return float64(features) * float64(cost) / (1 << 20)
}

// NewMemoryEstimator returns the estimator named by kind ("heap" or
// "count").
func NewMemoryEstimator(kind string, bytesPerFeature int) MemoryEstimator {
	if kind == "count" {
		return FeatureCostEstimator{BytesPerFeature: bytesPerFeature}
	}
	return HeapEstimator{}
}

// StreamConfig configures a StreamManager.
type StreamConfig struct {
	ChunkSize          int                 // Features per chunk
	MaxMemoryMB        int                 // Memory ceiling (0 = unlimited)
	StreamingThreshold int64               // Source size above which chunks expire
	ChunkTTL           time.Duration       // Age after which chunks are evicted in streaming mode
	VisibleLayers      map[string]struct{} // nil = all layers visible
	SizeHint           int64               // Size of the source in bytes
	TotalHint          int                 // Expected number of features (0 = unknown)
}

// Chunk is a batch of ingested features. Evicted chunks keep their index
// but lose their payload.
type Chunk struct {
	Index     int
	CreatedAt time.Time
	Features  []*domain.Feature
	Visible   int
	evicted   bool
}

// Evicted reports whether the chunk payload was released.
func (c *Chunk) Evicted() bool {
	return c.evicted
}

// ChunkHandler receives every chunk once it is complete, before it can be
// evicted.
type ChunkHandler func(c *Chunk) error

// StreamOption configures a StreamManager.
type StreamOption func(*StreamManager)

// WithYielder sets the yield point called after each chunk.
func WithYielder(y Yielder) StreamOption {
	return func(m *StreamManager) { m.yielder = y }
}

// WithMemoryEstimator sets the memory estimator.
func WithMemoryEstimator(e MemoryEstimator) StreamOption {
	return func(m *StreamManager) { m.estimator = e }
}

// WithChunkHandler sets the handler of completed chunks.
func WithChunkHandler(h ChunkHandler) StreamOption {
	return func(m *StreamManager) { m.handler = h }
}

// WithProgress sets the progress callback.
func WithProgress(fn domain.ProgressFunc) StreamOption {
	return func(m *StreamManager) { m.progress = fn }
}

// WithStreamClock sets the time source.
func WithStreamClock(now func() time.Time) StreamOption {
	return func(m *StreamManager) { m.now = now }
}

// StreamManager batches a feature sequence into chunks and enforces the
// memory ceiling. A manager belongs to a single pipeline run and is not
// safe for concurrent use.
type StreamManager struct {
	cfg       StreamConfig
	yielder   Yielder
	estimator MemoryEstimator
	handler   ChunkHandler
	progress  domain.ProgressFunc
	now       func() time.Time
	logger    *slog.Logger

	chunks    []*Chunk
	pending   []*domain.Feature
	held      int
	count     int
	visible   int
	streaming bool
	aborted   bool
	warnings  domain.Warnings
}

// NewStreamManager creates a stream manager.
func NewStreamManager(cfg StreamConfig, logger *slog.Logger, opts ...StreamOption) *StreamManager {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkTTL <= 0 {
		cfg.ChunkTTL = DefaultChunkTTL
	}
	m := &StreamManager{
		cfg:       cfg,
		yielder:   SchedulerYielder{},
		estimator: HeapEstimator{},
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.streaming = cfg.StreamingThreshold > 0 && cfg.SizeHint > cfg.StreamingThreshold
	m.pending = make([]*domain.Feature, 0, cfg.ChunkSize)
	return m
}

// Streaming reports whether chunks expire after ChunkTTL.
func (m *StreamManager) Streaming() bool {
	return m.streaming
}

// IsVisible reports whether f belongs to a visible layer.
func (m *StreamManager) IsVisible(f *domain.Feature) bool {
	if m.cfg.VisibleLayers == nil {
		return true
	}
	_, ok := m.cfg.VisibleLayers[f.LayerName()]
	return ok
}

// Ingest consumes seq. Recoverable errors are collected as warnings; a
// fatal error, a cancellation or the memory ceiling stop ingestion.
func (m *StreamManager) Ingest(ctx context.Context, seq domain.FeatureSeq) error {
	for f, err := range seq {
		if err != nil {
			if domain.IsRecoverable(err) {
				m.warnings.AddError(err)
				continue
			}
			return err
		}
		if err := m.Add(ctx, f); err != nil {
			return err
		}
	}
	return m.Flush(ctx)
}

// Add appends a feature, completing a chunk when it is full.
func (m *StreamManager) Add(ctx context.Context, f *domain.Feature) error {
	if m.aborted {
		return domain.ErrStreamAborted
	}
	m.pending = append(m.pending, f)
	m.count++
	if m.IsVisible(f) {
		m.visible++
	}
	if len(m.pending) >= m.cfg.ChunkSize {
		return m.complete(ctx)
	}
	return nil
}

// Flush completes a partial chunk.
func (m *StreamManager) Flush(ctx context.Context) error {
	if m.aborted {
		return domain.ErrStreamAborted
	}
	if len(m.pending) == 0 {
		return nil
	}
	return m.complete(ctx)
}

func (m *StreamManager) complete(ctx context.Context) error {
	now := m.now()
	c := &Chunk{
		Index:     len(m.chunks),
		CreatedAt: now,
		Features:  m.pending,
	}
	for _, f := range c.Features {
		if m.IsVisible(f) {
			c.Visible++
		}
	}
	m.chunks = append(m.chunks, c)
	m.held += len(c.Features)
	m.pending = make([]*domain.Feature, 0, m.cfg.ChunkSize)

	if m.handler != nil {
		if err := m.handler(c); err != nil {
			return err
		}
	}
	if m.streaming {
		m.evict(now)
	}
	if m.progress != nil {
		m.progress(m.count, m.cfg.TotalHint)
	}
	if err := m.checkMemory(); err != nil {
		return err
	}
	return m.yielder.Yield(ctx)
}

// checkMemory raises the memory limit error once and refuses all further
// input afterwards.
func (m *StreamManager) checkMemory() error {
	if m.cfg.MaxMemoryMB <= 0 {
		return nil
	}
	used := m.estimator.EstimateMB(m.held)
	if used <= float64(m.cfg.MaxMemoryMB) {
		return nil
	}
	m.aborted = true
	m.logger.Warn("memory ceiling exceeded",
		"used_mb", used,
		"limit_mb", m.cfg.MaxMemoryMB,
		"features", m.count,
	)
	return &domain.MemoryLimitError{UsedMB: used, LimitMB: m.cfg.MaxMemoryMB, Count: m.count}
}

// evict releases the payload of chunks older than the TTL.
func (m *StreamManager) evict(now time.Time) {
	for _, c := range m.chunks {
		if c.evicted || now.Sub(c.CreatedAt) < m.cfg.ChunkTTL {
			continue
		}
		m.held -= len(c.Features)
		c.Features = nil
		c.evicted = true
		m.logger.Debug("evicted chunk", "index", c.Index)
	}
}

// Chunk returns a chunk by index.
func (m *StreamManager) Chunk(index int) (*Chunk, error) {
	if index < 0 || index >= len(m.chunks) {
		return nil, domain.ErrNotFound
	}
	c := m.chunks[index]
	if c.Evicted() {
		return nil, domain.ErrChunkEvicted
	}
	return c, nil
}

// ChunkCount returns the number of completed chunks.
func (m *StreamManager) ChunkCount() int {
	return len(m.chunks)
}

// Visible yields the retained features of visible layers.
func (m *StreamManager) Visible() iter.Seq[*domain.Feature] {
	return func(yield func(*domain.Feature) bool) {
		for _, c := range m.chunks {
			for _, f := range c.Features {
				if m.IsVisible(f) && !yield(f) {
					return
				}
			}
		}
	}
}

// Count returns the number of ingested features.
func (m *StreamManager) Count() int {
	return m.count
}

// VisibleCount returns the number of ingested features in visible layers.
func (m *StreamManager) VisibleCount() int {
	return m.visible
}

// Held returns the number of features whose payload is retained.
func (m *StreamManager) Held() int {
	return m.held
}

// Aborted reports whether the memory ceiling was exceeded.
func (m *StreamManager) Aborted() bool {
	return m.aborted
}

// Warnings returns the recoverable errors seen during ingestion.
func (m *StreamManager) Warnings() domain.Warnings {
	return m.warnings
}
