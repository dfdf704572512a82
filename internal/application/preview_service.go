package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"

	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/input"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

// DefaultMaxPreviewFeatures bounds the size of a preview.
const DefaultMaxPreviewFeatures = 5000

// PreviewServiceConfig holds configuration for the preview service.
type PreviewServiceConfig struct {
	Defaults           domain.PreviewOptions // Defaults for zero option values
	StreamingThreshold int64                 // Source size above which chunks expire
	ChunkTTL           time.Duration         // Chunk lifetime in streaming mode
	MemoryEstimator    string                // "heap" or "count"
	FeatureCost        int                   // Bytes per feature for the count estimator
	CurveSegments      int                   // Segments of a full circle
}

// PreviewService runs the preview pipeline: parse, detect, reproject,
// chunk, sample and categorize.
type PreviewService struct {
	catalog     output.FormatCatalog
	detector    *Detector
	transformer output.CoordinateTransformer
	cache       *PreviewCache
	metrics     output.MetricsCollector
	logger      *slog.Logger
	cfg         PreviewServiceConfig
	yielder     Yielder
}

// NewPreviewService creates a new preview service.
func NewPreviewService(
	catalog output.FormatCatalog,
	detector *Detector,
	transformer output.CoordinateTransformer,
	cache *PreviewCache,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg PreviewServiceConfig,
) *PreviewService {
	if cfg.Defaults.MaxPreviewFeatures <= 0 {
		cfg.Defaults.MaxPreviewFeatures = DefaultMaxPreviewFeatures
	}
	if cfg.Defaults.ChunkSize <= 0 {
		cfg.Defaults.ChunkSize = DefaultChunkSize
	}
	if cfg.Defaults.MaxMemoryMB <= 0 {
		cfg.Defaults.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if cfg.StreamingThreshold == 0 {
		cfg.StreamingThreshold = DefaultStreamingThreshold
	}
	if cfg.ChunkTTL <= 0 {
		cfg.ChunkTTL = DefaultChunkTTL
	}

	return &PreviewService{
		catalog:     catalog,
		detector:    detector,
		transformer: transformer,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		yielder:     SchedulerYielder{},
	}
}

// DefaultOptions returns the configured default options.
func (s *PreviewService) DefaultOptions() domain.PreviewOptions {
	return s.cfg.Defaults
}

// Cache returns the preview cache.
func (s *PreviewService) Cache() *PreviewCache {
	return s.cache
}

// Analyze reads the metadata of a source and detects its coordinate system.
func (s *PreviewService) Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error) {
	if src == nil || src.Main.Name == "" {
		return nil, &domain.ValidationError{Field: "source", Message: "main file is required"}
	}
	parser, err := s.catalog.Find(src.Main.Name, src.Main.MimeType)
	if err != nil {
		return nil, err
	}

	a, err := parser.Analyze(ctx, src)
	if err != nil {
		return nil, err
	}
	det := s.detector.Detect(ctx, a.CRSMetadata, a.Sample)
	a.Detected = &det

	s.logger.Debug("source analyzed",
		"file", src.Main.Name,
		"format", a.Format,
		"layers", len(a.Layers),
		"system", det.System,
		"confidence", det.Confidence,
		"strategy", det.Strategy,
	)
	return a, nil
}

// Preview produces a bounded, categorized preview of a source.
func (s *PreviewService) Preview(ctx context.Context, req input.PreviewRequest) (*domain.PreviewCollection, error) {
	start := time.Now()

	if req.Source == nil || req.Source.Main.Name == "" {
		return nil, &domain.ValidationError{Field: "source", Message: "main file is required"}
	}
	opts := s.withDefaults(req.Options)
	if err := s.validate(opts); err != nil {
		return nil, err
	}

	parser, err := s.catalog.Find(req.Source.Main.Name, req.Source.Main.MimeType)
	if err != nil {
		return nil, err
	}

	caching := opts.EnableCaching && req.Identity != "" && s.cache != nil
	if caching {
		if pc, ok := s.cache.Get(req.Identity, opts); ok {
			s.metrics.IncCacheLookup(true)
			s.logger.Debug("preview cache hit", "identity", req.Identity)
			return pc, nil
		}
		s.metrics.IncCacheLookup(false)
	}

	pc, err := s.run(ctx, parser, req, opts)
	duration := time.Since(start)
	s.metrics.IncPreviewCount(parser.Name(), err == nil)
	s.metrics.ObservePreviewDuration(parser.Name(), duration)
	if err != nil {
		var memErr *domain.MemoryLimitError
		if errors.As(err, &memErr) {
			s.metrics.IncMemoryLimit()
		}
		s.logger.Error("preview failed", "file", req.Source.Main.Name, "error", err)
		return nil, err
	}

	pc.Duration = duration
	if caching {
		s.cache.Put(req.Identity, opts, pc)
	}

	s.logger.Info("preview generated",
		"file", req.Source.Main.Name,
		"total", pc.TotalCount,
		"visible", pc.VisibleCount,
		"features", pc.FeatureCount(),
		"warnings", pc.Warnings.Count,
		"duration", duration,
	)
	return pc, nil
}

func (s *PreviewService) run(ctx context.Context, parser output.FormatParser, req input.PreviewRequest, opts domain.PreviewOptions) (*domain.PreviewCollection, error) {
	analysis := req.Analysis
	if analysis == nil || analysis.Detected == nil {
		var err error
		if analysis, err = s.Analyze(ctx, req.Source); err != nil {
			return nil, err
		}
	}

	source := opts.SourceCoordinateSystem
	if source == "" {
		source = analysis.Detected.System
	}
	target := opts.TargetCoordinateSystem
	if target == "" {
		target = source
	}
	source, target = domain.NormalizeCode(source), domain.NormalizeCode(target)
	if !s.transformer.Supports(source, target) {
		return nil, &domain.TransformError{From: source, To: target, Err: domain.ErrUnknownCoordinateSystem}
	}

	pc := domain.NewPreviewCollection()
	pc.SourceSystem = source
	pc.TargetSystem = target
	pc.Detection = analysis.Detected
	pc.GeneratedAt = time.Now().UTC()

	sampler, err := s.sampler(ctx, parser, req.Source, analysis, source, target, opts, pc)
	if err != nil {
		return nil, err
	}
	categorizer := NewCategorizer(pc)

	var manager *StreamManager
	handle := func(c *Chunk) error {
		for _, f := range c.Features {
			if sampler.Full() {
				return nil
			}
			if !manager.IsVisible(f) {
				continue
			}
			if sampler.Accept(f) {
				categorizer.Add(simplifyFeature(f, opts.SimplifyTolerance))
			}
		}
		return nil
	}

	manager = NewStreamManager(StreamConfig{
		ChunkSize:          opts.ChunkSize,
		MaxMemoryMB:        opts.MaxMemoryMB,
		StreamingThreshold: s.cfg.StreamingThreshold,
		ChunkTTL:           s.cfg.ChunkTTL,
		VisibleLayers:      opts.LayerSet(),
		SizeHint:           req.Source.Size(),
		TotalHint:          expectedTotal(analysis),
	}, s.logger,
		WithYielder(s.yielder),
		WithMemoryEstimator(NewMemoryEstimator(s.cfg.MemoryEstimator, s.cfg.FeatureCost)),
		WithProgress(req.Progress),
		WithChunkHandler(handle),
	)

	seq := parser.Stream(ctx, req.Source, domain.ReadOptions{CurveSegments: s.cfg.CurveSegments})
	if err := manager.Ingest(ctx, s.transform(seq, source, target)); err != nil {
		return nil, err
	}

	categorizer.Finish()
	pc.TotalCount = manager.Count()
	pc.VisibleCount = manager.VisibleCount()
	pc.Sampled = sampler.Accepted() < pc.VisibleCount
	pc.Warnings.Merge(manager.Warnings())

	s.metrics.AddFeatures("ingested", pc.TotalCount)
	s.metrics.AddFeatures("previewed", pc.FeatureCount())
	s.metrics.AddWarnings(parser.Name(), pc.Warnings.Count)
	return pc, nil
}

// sampler picks grid sampling over the reprojected source extent, or plain
// truncation.
func (s *PreviewService) sampler(
	ctx context.Context,
	parser output.FormatParser,
	src *domain.Source,
	a *domain.Analysis,
	source, target string,
	opts domain.PreviewOptions,
	pc *domain.PreviewCollection,
) (Sampler, error) {
	if !opts.SmartSampling {
		return NewTruncateSampler(opts.MaxPreviewFeatures), nil
	}

	extent := a.Extent
	if extent.IsEmpty() || !extent.Covers(a.Bounds) {
		extent = a.Bounds
		if a.Truncated {
			// the analysis saw a prefix only
			var err error
			if extent, err = s.scanExtent(ctx, parser, src); err != nil {
				return nil, err
			}
		}
	}

	bounds, err := s.transformer.TransformBounds(extent, source, target)
	if err != nil {
		pc.Warnings.Addf("sampling bounds: %v", err)
		bounds = domain.EmptyBounds()
	}
	return NewGridSampler(bounds, opts.MaxPreviewFeatures), nil
}

// scanExtent reads the whole source once and returns the bounds of every
// feature. Recoverable errors are left to the main pass.
func (s *PreviewService) scanExtent(ctx context.Context, parser output.FormatParser, src *domain.Source) (domain.Bounds, error) {
	start := time.Now()
	extent := domain.EmptyBounds()
	count := 0
	for f, err := range parser.Stream(ctx, src, domain.ReadOptions{CurveSegments: s.cfg.CurveSegments}) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return extent, ctxErr
		}
		if err != nil {
			if domain.IsRecoverable(err) {
				continue
			}
			return extent, err
		}
		extent = extent.Union(f.Bounds())
		count++
	}
	s.logger.Debug("scanned source extent",
		"file", src.Main.Name,
		"features", count,
		"duration", time.Since(start),
	)
	return extent, nil
}

// transform reprojects every feature of seq. Dropped coordinates are
// reported as recoverable errors; geometries that did not survive are
// dropped silently.
func (s *PreviewService) transform(seq domain.FeatureSeq, from, to string) domain.FeatureSeq {
	if from == to {
		return seq
	}
	return func(yield func(*domain.Feature, error) bool) {
		for f, err := range seq {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}

			out, invalid, err := s.transformer.TransformFeature(f, from, to)
			if err != nil {
				yield(nil, err)
				return
			}
			if invalid > 0 {
				warn := &domain.RecordError{Format: "transform", Index: int(f.ID),
					Err: fmt.Errorf("%d coordinates dropped: %w", invalid, domain.ErrInvalidCoordinate)}
				if !yield(nil, warn) {
					return
				}
			}
			if out == nil {
				s.logger.Debug("dropped degenerate geometry", "id", f.ID, "layer", f.LayerName())
				continue
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

func (s *PreviewService) withDefaults(o domain.PreviewOptions) domain.PreviewOptions {
	d := s.cfg.Defaults
	if o.TargetCoordinateSystem == "" {
		o.TargetCoordinateSystem = d.TargetCoordinateSystem
	}
	if o.MaxPreviewFeatures <= 0 {
		o.MaxPreviewFeatures = d.MaxPreviewFeatures
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.MaxMemoryMB <= 0 {
		o.MaxMemoryMB = d.MaxMemoryMB
	}
	if o.SimplifyTolerance == 0 {
		o.SimplifyTolerance = d.SimplifyTolerance
	}
	return o
}

func (s *PreviewService) validate(o domain.PreviewOptions) error {
	if o.SimplifyTolerance < 0 {
		return &domain.ValidationError{Field: "simplifyTolerance", Message: "must not be negative"}
	}
	return nil
}

// expectedTotal estimates the feature count from the analysis, 0 if the
// analysis only saw a prefix.
func expectedTotal(a *domain.Analysis) int {
	if a.Truncated {
		return 0
	}
	return a.FeatureCount
}

// simplifyFeature applies Douglas-Peucker to lines and polygons. The
// original is kept when simplification degenerates the geometry.
func simplifyFeature(f *domain.Feature, tolerance float64) *domain.Feature {
	if tolerance <= 0 || f.Geometry == nil || f.Kind() == domain.KindPoint {
		return f
	}
	g := simplify.DouglasPeucker(tolerance).Simplify(orb.Clone(f.Geometry))
	if g = domain.CleanGeometry(g); g == nil {
		return f
	}
	return f.Derive(g, f.Provenance)
}
