package projection

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopreview/internal/domain"
)

// DefaultCacheLifetime is the lifetime of compiled transforms.
const DefaultCacheLifetime = 10 * time.Minute

// pointFunc is a compiled transform between two systems.
type pointFunc func(orb.Point) orb.Point

type cacheEntry struct {
	fn       pointFunc
	lastUsed atomic.Int64 // unix nanoseconds
	hits     atomic.Int64
}

// PairStats describes one cached transform.
type PairStats struct {
	Pair     string    `json:"pair"`
	Hits     int64     `json:"hits"`
	LastUsed time.Time `json:"lastUsed"`
}

// CacheStats describes the transform cache.
type CacheStats struct {
	Entries   int         `json:"entries"`
	Hits      int64       `json:"hits"`
	Misses    int64       `json:"misses"`
	Clears    int64       `json:"clears"`
	ClearedAt time.Time   `json:"clearedAt"`
	Pairs     []PairStats `json:"pairs"`
}

// Engine reprojects points, geometries, bounds and features. Compiled
// transforms are cached by ordered pair; the whole cache is dropped once
// its lifetime has passed since the last clear.
type Engine struct {
	registry *Registry
	lifetime time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	cache     map[string]*cacheEntry
	clearedAt time.Time

	hits   atomic.Int64
	misses atomic.Int64
	clears atomic.Int64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a transformation engine. A lifetime <= 0 keeps compiled
// transforms forever.
func NewEngine(registry *Registry, lifetime time.Duration, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		lifetime: lifetime,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clearedAt = e.now()
	return e
}

// Registry returns the registry the engine resolves codes with.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Supports reports whether both systems are registered.
func (e *Engine) Supports(from, to string) bool {
	_, okFrom := e.registry.Get(from)
	_, okTo := e.registry.Get(to)
	return okFrom && okTo
}

// TransformPoint reprojects a single point. A non-finite result is reported
// as domain.ErrInvalidCoordinate; an unregistered system as
// domain.ErrUnknownCoordinateSystem.
func (e *Engine) TransformPoint(p orb.Point, from, to string) (orb.Point, error) {
	from, to = domain.NormalizeCode(from), domain.NormalizeCode(to)
	if from == to {
		return p, nil
	}
	fn, err := e.lookup(from, to)
	if err != nil {
		return orb.Point{}, err
	}
	q := fn(p)
	if !domain.FinitePoint(q) {
		return orb.Point{}, &domain.TransformError{From: from, To: to, Err: domain.ErrInvalidCoordinate}
	}
	return q, nil
}

// TransformGeometry reprojects every coordinate of g. Invalid coordinates
// are dropped and counted; lines keep ≥2 points, rings ≥4 points,
// collections keep surviving members. The result is nil when nothing
// survives. The input geometry is not modified.
func (e *Engine) TransformGeometry(g orb.Geometry, from, to string) (orb.Geometry, int, error) {
	from, to = domain.NormalizeCode(from), domain.NormalizeCode(to)
	if g == nil {
		return nil, 0, nil
	}
	if from == to {
		return g, 0, nil
	}
	fn, err := e.lookup(from, to)
	if err != nil {
		return nil, 0, err
	}

	invalid := 0
	out := domain.MapGeometry(g, func(p orb.Point) (orb.Point, bool) {
		q := fn(p)
		if !domain.FinitePoint(q) {
			invalid++
			return q, false
		}
		return q, true
	})
	return out, invalid, nil
}

// TransformBounds reprojects all four corners and returns their bounds.
func (e *Engine) TransformBounds(b domain.Bounds, from, to string) (domain.Bounds, error) {
	from, to = domain.NormalizeCode(from), domain.NormalizeCode(to)
	if from == to || b.IsEmpty() {
		return b, nil
	}
	fn, err := e.lookup(from, to)
	if err != nil {
		return domain.EmptyBounds(), err
	}

	out := domain.EmptyBounds()
	for _, c := range b.Corners() {
		out.Extend(fn(c))
	}
	if out.IsEmpty() {
		return out, &domain.TransformError{From: from, To: to, Err: domain.ErrInvalidCoordinate}
	}
	return out, nil
}

// TransformFeature returns a new feature reprojected to "to" with
// provenance recorded. A feature already transformed to "to", or a no-op
// pair, is returned unchanged. The result is nil when the geometry did not
// survive.
func (e *Engine) TransformFeature(f *domain.Feature, from, to string) (*domain.Feature, int, error) {
	from, to = domain.NormalizeCode(from), domain.NormalizeCode(to)
	if f.Provenance.Transformed {
		if f.Provenance.ToSystem == to {
			return f, 0, nil
		}
		from = f.Provenance.ToSystem
	}
	if from == to {
		return f, 0, nil
	}

	g, invalid, err := e.TransformGeometry(f.Geometry, from, to)
	if err != nil {
		return nil, 0, err
	}
	if g == nil {
		return nil, invalid, nil
	}
	return f.Derive(g, domain.Provenance{
		FromSystem:  from,
		ToSystem:    to,
		Transformed: true,
	}), invalid, nil
}

// lookup returns the cached transform for a pair, compiling it on a miss.
func (e *Engine) lookup(from, to string) (pointFunc, error) {
	key := domain.PairKey(from, to)
	now := e.now()

	e.mu.RLock()
	entry, ok := e.cache[key]
	stale := e.expired(now)
	e.mu.RUnlock()

	if ok && !stale {
		e.touch(entry, now)
		return entry.fn, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.expired(now) {
		if len(e.cache) > 0 {
			e.logger.Debug("clearing transform cache", "entries", len(e.cache))
		}
		e.cache = make(map[string]*cacheEntry)
		e.clearedAt = now
		e.clears.Add(1)
	}
	if entry, ok := e.cache[key]; ok {
		e.touch(entry, now)
		return entry.fn, nil
	}

	e.misses.Add(1)
	fn, err := e.compilePair(from, to)
	if err != nil {
		return nil, err
	}
	entry = &cacheEntry{fn: fn}
	entry.lastUsed.Store(now.UnixNano())
	e.cache[key] = entry

	e.logger.Debug("compiled transform", "from", from, "to", to)
	return fn, nil
}

func (e *Engine) expired(now time.Time) bool {
	return e.lifetime > 0 && now.Sub(e.clearedAt) >= e.lifetime
}

func (e *Engine) touch(entry *cacheEntry, now time.Time) {
	entry.hits.Add(1)
	entry.lastUsed.Store(now.UnixNano())
	e.hits.Add(1)
}

func (e *Engine) compilePair(from, to string) (pointFunc, error) {
	srcCS, ok := e.registry.Get(from)
	if !ok {
		return nil, &domain.TransformError{From: from, To: to,
			Err: fmt.Errorf("%s: %w", from, domain.ErrUnknownCoordinateSystem)}
	}
	dstCS, ok := e.registry.Get(to)
	if !ok {
		return nil, &domain.TransformError{From: from, To: to,
			Err: fmt.Errorf("%s: %w", to, domain.ErrUnknownCoordinateSystem)}
	}

	src, err := compile(srcCS)
	if err != nil {
		return nil, &domain.TransformError{From: from, To: to, Err: err}
	}
	dst, err := compile(dstCS)
	if err != nil {
		return nil, &domain.TransformError{From: from, To: to, Err: err}
	}

	return func(p orb.Point) orb.Point {
		lon, lat := src.toWGS84(p)
		q := dst.fromWGS84(lon, lat)
		// axis order is corrected after the numeric transform only
		if dst.neu {
			q[0], q[1] = q[1], q[0]
		}
		return q
	}, nil
}

// Clear drops all compiled transforms.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*cacheEntry)
	e.clearedAt = e.now()
	e.clears.Add(1)
}

// Stats returns cache statistics.
func (e *Engine) Stats() CacheStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := CacheStats{
		Entries:   len(e.cache),
		Hits:      e.hits.Load(),
		Misses:    e.misses.Load(),
		Clears:    e.clears.Load(),
		ClearedAt: e.clearedAt,
		Pairs:     make([]PairStats, 0, len(e.cache)),
	}
	for key, entry := range e.cache {
		stats.Pairs = append(stats.Pairs, PairStats{
			Pair:     key,
			Hits:     entry.hits.Load(),
			LastUsed: time.Unix(0, entry.lastUsed.Load()),
		})
	}
	sort.Slice(stats.Pairs, func(i, j int) bool {
		return stats.Pairs[i].Pair < stats.Pairs[j].Pair
	})
	return stats
}
