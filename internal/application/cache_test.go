package application

import (
	"testing"
	"time"

	"github.com/jobrunner/geopreview/internal/domain"
)

func newTestCache(ttl time.Duration) (*PreviewCache, *time.Time) {
	now := time.Unix(1000, 0)
	c := NewPreviewCache(ttl, testLogger())
	c.now = func() time.Time { return now }
	return c, &now
}

func TestPreviewCacheHit(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	opts := domain.PreviewOptions{TargetCoordinateSystem: domain.CodeWGS84, MaxPreviewFeatures: 100}
	preview := domain.NewPreviewCollection()

	if _, ok := c.Get("roads", opts); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put("roads", opts, preview)

	got, ok := c.Get("roads", opts)
	if !ok {
		t.Fatal("expected hit")
	}
	if got != preview {
		t.Error("expected the stored preview")
	}

	if _, ok := c.Get("rivers", opts); ok {
		t.Error("expected miss for another identity")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 2 || stats.Entries != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestPreviewCacheOptionsChange(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	opts := domain.PreviewOptions{MaxPreviewFeatures: 100}
	c.Put("roads", opts, domain.NewPreviewCollection())
	c.Put("rivers", opts, domain.NewPreviewCollection())

	changed := opts
	changed.SelectedLayers = []string{"0"}
	if _, ok := c.Get("roads", changed); ok {
		t.Fatal("expected miss after options change")
	}
	if _, ok := c.Get("rivers", opts); ok {
		t.Error("options change must drop every entry")
	}

	stats := c.Stats()
	if stats.Invalidations != 1 {
		t.Errorf("Invalidations = %d, want 1", stats.Invalidations)
	}
}

func TestPreviewCacheIgnoresCachingFlag(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	opts := domain.PreviewOptions{MaxPreviewFeatures: 100, EnableCaching: true}
	c.Put("roads", opts, domain.NewPreviewCollection())

	opts.EnableCaching = false
	if _, ok := c.Get("roads", opts); !ok {
		t.Error("the caching flag must not change the fingerprint")
	}
}

func TestPreviewCacheTTL(t *testing.T) {
	c, now := newTestCache(time.Minute)
	opts := domain.PreviewOptions{}
	c.Put("roads", opts, domain.NewPreviewCollection())

	*now = now.Add(59 * time.Second)
	if _, ok := c.Get("roads", opts); !ok {
		t.Fatal("expected hit before expiry")
	}

	*now = now.Add(time.Second)
	if _, ok := c.Get("roads", opts); ok {
		t.Error("expected miss after expiry")
	}
	if c.Stats().Entries != 0 {
		t.Error("expired entry should be removed")
	}
}

func TestPreviewCachePrune(t *testing.T) {
	c, now := newTestCache(time.Minute)
	opts := domain.PreviewOptions{}
	c.Put("old", opts, domain.NewPreviewCollection())

	*now = now.Add(30 * time.Second)
	c.Put("new", opts, domain.NewPreviewCollection())

	*now = now.Add(45 * time.Second)
	if removed := c.Prune(); removed != 1 {
		t.Errorf("Prune() = %d, want 1", removed)
	}
	if _, ok := c.Get("new", opts); !ok {
		t.Error("fresh entry should survive pruning")
	}
}

func TestPreviewCacheInvalidate(t *testing.T) {
	c, _ := newTestCache(0)
	if c.ttl != DefaultPreviewTTL {
		t.Errorf("ttl = %v, want default", c.ttl)
	}

	opts := domain.PreviewOptions{}
	c.Put("roads", opts, domain.NewPreviewCollection())
	c.Invalidate()

	if _, ok := c.Get("roads", opts); ok {
		t.Error("expected miss after Invalidate")
	}
}

func TestFingerprint(t *testing.T) {
	a := domain.PreviewOptions{SelectedLayers: []string{"b", "a"}}
	b := domain.PreviewOptions{SelectedLayers: []string{"a", "b"}}

	if Fingerprint("x", a) != Fingerprint("x", b) {
		t.Error("layer order must not change the fingerprint")
	}
	if Fingerprint("x", a) == Fingerprint("y", a) {
		t.Error("identity must change the fingerprint")
	}
	if Fingerprint("x", a) == Fingerprint("x", domain.PreviewOptions{SimplifyTolerance: 1}) {
		t.Error("options must change the fingerprint")
	}
}
