package application

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockStorage implements output.ObjectStorage for testing. Download writes
// the content registered for the key.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.StorageObject
	files       map[string][]byte
	downloadErr error
	listErr     error
	downloads   []string
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, obj output.StorageObject, dest string) error {
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.mu.Lock()
	m.downloads = append(m.downloads, obj.Key)
	data := m.files[obj.Key]
	m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

// stubParser implements output.FormatParser over a fixed feature list.
// Errors in errs are yielded before the feature with the same index. A
// positive limit truncates Analyze like the format parsers do.
type stubParser struct {
	name     string
	exts     []string
	features []*domain.Feature
	errs     map[int]error
	crs      string
	fatal    error
	limit    int
	streams  int
}

func (p *stubParser) Name() string         { return p.name }
func (p *stubParser) Extensions() []string { return p.exts }

func (p *stubParser) CanHandle(name, _ string) bool {
	return slices.Contains(p.exts, strings.ToLower(filepath.Ext(name)))
}

func (p *stubParser) Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error) {
	if p.fatal != nil {
		return nil, p.fatal
	}
	a := &domain.Analysis{Format: p.name, Bounds: domain.EmptyBounds(), CRSMetadata: p.crs}
	for f, err := range p.Stream(ctx, src, domain.ReadOptions{}) {
		if err != nil {
			a.Warnings.AddError(err)
			continue
		}
		if p.limit > 0 && len(a.Sample) >= p.limit {
			a.Truncated = true
			break
		}
		a.Sample = append(a.Sample, f)
		a.Bounds = a.Bounds.Union(f.Bounds())
		if _, ok := a.Layer(f.LayerName()); !ok {
			a.Layers = append(a.Layers, domain.LayerInfo{Name: f.LayerName(), Visible: true})
		}
		info, _ := a.Layer(f.LayerName())
		info.FeatureCount++
	}
	a.FeatureCount = len(a.Sample)
	a.Extent = domain.EmptyBounds()
	if !a.Truncated {
		a.Extent = a.Bounds
	}
	return a, nil
}

func (p *stubParser) Stream(_ context.Context, _ *domain.Source, _ domain.ReadOptions) domain.FeatureSeq {
	p.streams++
	return func(yield func(*domain.Feature, error) bool) {
		if p.fatal != nil {
			yield(nil, p.fatal)
			return
		}
		for i, f := range p.features {
			if err, ok := p.errs[i]; ok {
				if !yield(nil, err) {
					return
				}
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// mockCatalog implements output.FormatCatalog for testing.
type mockCatalog struct {
	parsers []output.FormatParser
}

func (m *mockCatalog) Find(name, mimeHint string) (output.FormatParser, error) {
	for _, p := range m.parsers {
		if p.CanHandle(name, mimeHint) {
			return p, nil
		}
	}
	return nil, domain.ErrUnsupportedFormat
}

func (m *mockCatalog) MainExtensions() []string {
	var exts []string
	for _, p := range m.parsers {
		exts = append(exts, p.Extensions()...)
	}
	return exts
}

// mockAnalyzer implements SourceAnalyzer for testing.
type mockAnalyzer struct {
	mu       sync.Mutex
	analysis *domain.Analysis
	err      error
	sources  []string
}

func (m *mockAnalyzer) Analyze(_ context.Context, src *domain.Source) (*domain.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, strings.Join(src.FileNames(), ","))
	if m.err != nil {
		return nil, m.err
	}
	if m.analysis != nil {
		return m.analysis, nil
	}
	return &domain.Analysis{Format: "stub", Layers: []domain.LayerInfo{{Name: "0", Visible: true}}}, nil
}

// mockSystems implements output.CoordinateSystemRegistry for testing.
type mockSystems struct {
	systems []domain.CoordinateSystem
}

func (m *mockSystems) Get(code string) (*domain.CoordinateSystem, bool) {
	code = domain.NormalizeCode(code)
	for i := range m.systems {
		if m.systems[i].Code == code {
			cs := m.systems[i]
			return &cs, true
		}
	}
	return nil, false
}

func (m *mockSystems) All() []domain.CoordinateSystem {
	return slices.Clone(m.systems)
}

func (m *mockSystems) LookupWKT(wkt string) (*domain.CoordinateSystem, bool) {
	if cs, ok := m.Get(wkt); ok {
		return cs, true
	}
	for i := range m.systems {
		if strings.Contains(wkt, m.systems[i].Name) {
			cs := m.systems[i]
			return &cs, true
		}
	}
	return nil, false
}

func wgs84System() domain.CoordinateSystem {
	return domain.CoordinateSystem{
		Code: domain.CodeWGS84, Name: "WGS 84", Units: domain.UnitsDegrees, Geographic: true,
		Envelope: domain.NewBounds(-180, -90, 180, 90),
	}
}

func webMercatorSystem() domain.CoordinateSystem {
	return domain.CoordinateSystem{
		Code: domain.CodeWebMercator, Name: "WGS 84 / Pseudo-Mercator", Units: domain.UnitsMeters,
		Envelope: domain.NewBounds(-20037508.34, -20048966.10, 20037508.34, 20048966.10),
	}
}

func lv95System() domain.CoordinateSystem {
	return domain.CoordinateSystem{
		Code: domain.CodeLV95, Name: "CH1903+ / LV95", Units: domain.UnitsMeters,
		Envelope: domain.NewBounds(2485000, 1075000, 2834000, 1296000),
		Pattern: &domain.NumeralPattern{
			X: domain.AxisPattern{MinDigits: 7, MaxDigits: 7, MinLead: 2, MaxLead: 2},
			Y: domain.AxisPattern{MinDigits: 7, MaxDigits: 7, MinLead: 1, MaxLead: 1},
		},
	}
}

func lv03System() domain.CoordinateSystem {
	return domain.CoordinateSystem{
		Code: domain.CodeLV03, Name: "CH1903 / LV03", Units: domain.UnitsMeters,
		Envelope: domain.NewBounds(485000, 75000, 834000, 296000),
		Pattern: &domain.NumeralPattern{
			X: domain.AxisPattern{MinDigits: 6, MaxDigits: 6, MinLead: 4, MaxLead: 8},
			Y: domain.AxisPattern{MinDigits: 5, MaxDigits: 6, MinLead: 1, MaxLead: 9},
		},
	}
}

func gk2System() domain.CoordinateSystem {
	return domain.CoordinateSystem{
		Code: domain.CodeDHDN3GK2, Name: "DHDN / 3-degree Gauss-Kruger zone 2", Units: domain.UnitsMeters,
		Envelope: domain.NewBounds(2490000, 5440000, 2610000, 6105000),
		Pattern: &domain.NumeralPattern{
			X: domain.AxisPattern{MinDigits: 7, MaxDigits: 7, MinLead: 2, MaxLead: 2},
			Y: domain.AxisPattern{MinDigits: 7, MaxDigits: 7, MinLead: 5, MaxLead: 6},
		},
	}
}

func newMockSystems() *mockSystems {
	return &mockSystems{systems: []domain.CoordinateSystem{
		wgs84System(), webMercatorSystem(), lv95System(), lv03System(), gk2System(),
	}}
}

// mockTransformer implements output.CoordinateTransformer. Every pair
// between known systems applies fn; non-finite results are dropped.
type mockTransformer struct {
	known map[string]bool
	fn    func(orb.Point) orb.Point
	calls int
}

func newMockTransformer(fn func(orb.Point) orb.Point, codes ...string) *mockTransformer {
	known := make(map[string]bool, len(codes))
	for _, c := range codes {
		known[c] = true
	}
	return &mockTransformer{known: known, fn: fn}
}

func (m *mockTransformer) Supports(from, to string) bool {
	return m.known[from] && m.known[to]
}

func (m *mockTransformer) TransformPoint(p orb.Point, from, to string) (orb.Point, error) {
	if !m.Supports(from, to) {
		return orb.Point{}, domain.ErrUnknownCoordinateSystem
	}
	if from == to {
		return p, nil
	}
	return m.fn(p), nil
}

func (m *mockTransformer) TransformBounds(b domain.Bounds, from, to string) (domain.Bounds, error) {
	if !m.Supports(from, to) {
		return domain.EmptyBounds(), domain.ErrUnknownCoordinateSystem
	}
	if from == to || b.IsEmpty() {
		return b, nil
	}
	out := domain.EmptyBounds()
	for _, c := range b.Corners() {
		out.Extend(m.fn(c))
	}
	return out, nil
}

func (m *mockTransformer) TransformFeature(f *domain.Feature, from, to string) (*domain.Feature, int, error) {
	m.calls++
	if !m.Supports(from, to) {
		return nil, 0, domain.ErrUnknownCoordinateSystem
	}
	if from == to {
		return f, 0, nil
	}
	invalid := 0
	g := domain.MapGeometry(f.Geometry, func(p orb.Point) (orb.Point, bool) {
		q := m.fn(p)
		if !domain.FinitePoint(q) {
			invalid++
			return q, false
		}
		return q, true
	})
	if g == nil {
		return nil, invalid, nil
	}
	return f.Derive(g, domain.Provenance{FromSystem: from, ToSystem: to, Transformed: true}), invalid, nil
}

// mockMetrics implements output.MetricsCollector and records calls.
type mockMetrics struct {
	output.NoOpMetrics
	mu          sync.Mutex
	previews    map[bool]int
	cacheHits   int
	cacheMisses int
	memoryLimit int
	loaded      int
	ready       int
}

func (m *mockMetrics) IncPreviewCount(_ string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previews == nil {
		m.previews = make(map[bool]int)
	}
	m.previews[success]++
}

func (m *mockMetrics) ObservePreviewDuration(_ string, _ time.Duration) {}

func (m *mockMetrics) IncCacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *mockMetrics) IncMemoryLimit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memoryLimit++
}

func (m *mockMetrics) SetDatasetsLoaded(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = count
}

func (m *mockMetrics) SetDatasetsReady(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = count
}

func point(id int64, layer string, x, y float64) *domain.Feature {
	return &domain.Feature{ID: id, Layer: layer, Geometry: orb.Point{x, y}}
}

func line(id int64, layer string, pts ...orb.Point) *domain.Feature {
	return &domain.Feature{ID: id, Layer: layer, Geometry: orb.LineString(pts)}
}
