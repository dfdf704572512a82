package application

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jobrunner/geopreview/internal/domain"
)

// DefaultPreviewTTL is the lifetime of cached previews.
const DefaultPreviewTTL = 5 * time.Minute

type previewEntry struct {
	preview   *domain.PreviewCollection
	createdAt time.Time
}

// PreviewCacheStats describes the preview cache.
type PreviewCacheStats struct {
	Entries       int   `json:"entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
}

// PreviewCache keeps recent previews keyed by a fingerprint of source
// identity and options. Any change of options invalidates the whole cache.
type PreviewCache struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	entries map[uint64]*previewEntry
	options uint64
	seen    bool

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// NewPreviewCache creates a preview cache. A ttl <= 0 uses DefaultPreviewTTL.
func NewPreviewCache(ttl time.Duration, logger *slog.Logger) *PreviewCache {
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	return &PreviewCache{
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		entries: make(map[uint64]*previewEntry),
	}
}

// Fingerprint hashes a source identity together with the options.
func Fingerprint(identity string, opts domain.PreviewOptions) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(identity)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(opts.Canonical())
	return d.Sum64()
}

// Get returns a cached preview. Expired entries count as misses.
func (c *PreviewCache) Get(identity string, opts domain.PreviewOptions) (*domain.PreviewCollection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observeOptions(opts)

	key := Fingerprint(identity, opts)
	entry, ok := c.entries[key]
	if ok && c.now().Sub(entry.createdAt) >= c.ttl {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.preview, true
}

// Put stores a preview.
func (c *PreviewCache) Put(identity string, opts domain.PreviewOptions, preview *domain.PreviewCollection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observeOptions(opts)
	c.entries[Fingerprint(identity, opts)] = &previewEntry{
		preview:   preview,
		createdAt: c.now(),
	}
}

// observeOptions drops every entry when opts differ from the options seen
// last. Callers hold c.mu.
func (c *PreviewCache) observeOptions(opts domain.PreviewOptions) {
	h := xxhash.Sum64String(opts.Canonical())
	if c.seen && h == c.options {
		return
	}
	if c.seen && len(c.entries) > 0 {
		c.logger.Debug("options changed, invalidating preview cache", "entries", len(c.entries))
		c.entries = make(map[uint64]*previewEntry)
		c.invalidations.Add(1)
	}
	c.options = h
	c.seen = true
}

// Invalidate drops all entries.
func (c *PreviewCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*previewEntry)
	c.invalidations.Add(1)
}

// Prune removes expired entries and returns how many were removed.
func (c *PreviewCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics.
func (c *PreviewCache) Stats() PreviewCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PreviewCacheStats{
		Entries:       len(c.entries),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
