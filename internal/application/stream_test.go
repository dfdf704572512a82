package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/geopreview/internal/domain"
)

func seqOf(features []*domain.Feature, errs map[int]error) domain.FeatureSeq {
	p := &stubParser{features: features, errs: errs}
	return p.Stream(context.Background(), nil, domain.ReadOptions{})
}

func manyPoints(n int, layer string) []*domain.Feature {
	features := make([]*domain.Feature, n)
	for i := range features {
		features[i] = point(int64(i), layer, float64(i), float64(i))
	}
	return features
}

// fakeClock advances by step on every call.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func TestStreamManagerChunking(t *testing.T) {
	var sizes []int
	var progress []int
	m := NewStreamManager(StreamConfig{ChunkSize: 4, TotalHint: 10}, testLogger(),
		WithChunkHandler(func(c *Chunk) error {
			sizes = append(sizes, len(c.Features))
			return nil
		}),
		WithProgress(func(processed, total int) {
			if total != 10 {
				t.Errorf("total = %d, want 10", total)
			}
			progress = append(progress, processed)
		}),
	)

	if err := m.Ingest(context.Background(), seqOf(manyPoints(10, "a"), nil)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if m.ChunkCount() != 3 {
		t.Errorf("ChunkCount() = %d, want 3", m.ChunkCount())
	}
	if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("chunk sizes = %v, want [4 4 2]", sizes)
	}
	if len(progress) != 3 || progress[2] != 10 {
		t.Errorf("progress = %v", progress)
	}
	if m.Count() != 10 || m.Held() != 10 {
		t.Errorf("Count() = %d, Held() = %d, want 10", m.Count(), m.Held())
	}
	if m.Streaming() {
		t.Error("expected in-memory mode without a size hint")
	}

	c, err := m.Chunk(1)
	if err != nil {
		t.Fatalf("Chunk(1) failed: %v", err)
	}
	if c.Index != 1 || c.Features[0].ID != 4 {
		t.Errorf("unexpected chunk %d starting at %d", c.Index, c.Features[0].ID)
	}
	if _, err := m.Chunk(3); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Chunk(3) err = %v, want ErrNotFound", err)
	}
}

func TestStreamManagerVisibility(t *testing.T) {
	features := append(manyPoints(3, "roads"), manyPoints(2, "rivers")...)
	m := NewStreamManager(StreamConfig{
		ChunkSize:     2,
		VisibleLayers: map[string]struct{}{"rivers": {}},
	}, testLogger())

	if err := m.Ingest(context.Background(), seqOf(features, nil)); err != nil {
		t.Fatal(err)
	}

	if m.Count() != 5 {
		t.Errorf("Count() = %d, want 5", m.Count())
	}
	if m.VisibleCount() != 2 {
		t.Errorf("VisibleCount() = %d, want 2", m.VisibleCount())
	}

	n := 0
	for f := range m.Visible() {
		if f.Layer != "rivers" {
			t.Errorf("unexpected layer %s", f.Layer)
		}
		n++
	}
	if n != 2 {
		t.Errorf("Visible() yielded %d features, want 2", n)
	}

	c, _ := m.Chunk(1)
	if c.Visible != 1 {
		t.Errorf("chunk 1 visible = %d, want 1", c.Visible)
	}
}

func TestStreamManagerWarnings(t *testing.T) {
	errs := map[int]error{
		1: &domain.RecordError{Format: "csv", Index: 1, Err: domain.ErrInvalidCoordinate},
		3: &domain.RecordError{Format: "csv", Index: 3, Err: domain.ErrMalformedRecord},
	}
	m := NewStreamManager(StreamConfig{ChunkSize: 10}, testLogger())

	if err := m.Ingest(context.Background(), seqOf(manyPoints(4, ""), errs)); err != nil {
		t.Fatalf("recoverable errors must not stop ingestion: %v", err)
	}
	if m.Count() != 4 {
		t.Errorf("Count() = %d, want 4", m.Count())
	}
	if m.Warnings().Count != 2 {
		t.Errorf("Warnings().Count = %d, want 2", m.Warnings().Count)
	}
}

func TestStreamManagerFatalError(t *testing.T) {
	fatal := &domain.FormatError{Format: "csv", Err: domain.ErrInvalidHeader}
	m := NewStreamManager(StreamConfig{}, testLogger())

	err := m.Ingest(context.Background(), seqOf(manyPoints(4, ""), map[int]error{2: fatal}))
	if !errors.Is(err, domain.ErrInvalidHeader) {
		t.Errorf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestStreamManagerMemoryLimit(t *testing.T) {
	m := NewStreamManager(StreamConfig{ChunkSize: 1, MaxMemoryMB: 2}, testLogger(),
		WithMemoryEstimator(FeatureCostEstimator{BytesPerFeature: 1 << 20}),
	)
	ctx := context.Background()

	var limitErrs int
	var abortedErrs int
	for _, f := range manyPoints(6, "") {
		err := m.Add(ctx, f)
		var limit *domain.MemoryLimitError
		switch {
		case errors.As(err, &limit):
			limitErrs++
			if limit.LimitMB != 2 || limit.Count != 3 {
				t.Errorf("unexpected limit error %+v", limit)
			}
		case errors.Is(err, domain.ErrStreamAborted):
			abortedErrs++
		case err != nil:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if limitErrs != 1 {
		t.Errorf("memory limit raised %d times, want exactly once", limitErrs)
	}
	if abortedErrs != 3 {
		t.Errorf("aborted errors = %d, want 3", abortedErrs)
	}
	if !m.Aborted() {
		t.Error("expected Aborted() to be true")
	}
	if err := m.Flush(ctx); !errors.Is(err, domain.ErrStreamAborted) {
		t.Errorf("Flush() err = %v, want ErrStreamAborted", err)
	}
	if !errors.Is(&domain.MemoryLimitError{}, domain.ErrMemoryLimit) {
		t.Error("MemoryLimitError must match ErrMemoryLimit")
	}
}

func TestStreamManagerEviction(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0), step: 20 * time.Second}
	var handled int
	m := NewStreamManager(StreamConfig{
		ChunkSize:          2,
		StreamingThreshold: 100,
		SizeHint:           1000,
		ChunkTTL:           30 * time.Second,
	}, testLogger(),
		WithStreamClock(clock.now),
		WithChunkHandler(func(c *Chunk) error {
			if len(c.Features) == 0 {
				t.Errorf("chunk %d handed over without payload", c.Index)
			}
			handled++
			return nil
		}),
	)

	if !m.Streaming() {
		t.Fatal("expected streaming mode above the threshold")
	}
	if err := m.Ingest(context.Background(), seqOf(manyPoints(6, ""), nil)); err != nil {
		t.Fatal(err)
	}

	if handled != 3 {
		t.Errorf("handled %d chunks, want 3", handled)
	}
	if _, err := m.Chunk(0); !errors.Is(err, domain.ErrChunkEvicted) {
		t.Errorf("Chunk(0) err = %v, want ErrChunkEvicted", err)
	}
	if _, err := m.Chunk(2); err != nil {
		t.Errorf("Chunk(2) err = %v, want retained", err)
	}
	if m.Held() >= m.Count() {
		t.Errorf("Held() = %d, expected fewer than %d", m.Held(), m.Count())
	}
}

func TestStreamManagerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewStreamManager(StreamConfig{ChunkSize: 2}, testLogger(),
		WithChunkHandler(func(c *Chunk) error {
			if c.Index == 0 {
				cancel()
			}
			return nil
		}),
	)

	err := m.Ingest(ctx, seqOf(manyPoints(10, ""), nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.ChunkCount() != 1 {
		t.Errorf("ChunkCount() = %d, want 1", m.ChunkCount())
	}
}

func TestStreamManagerYielder(t *testing.T) {
	calls := 0
	m := NewStreamManager(StreamConfig{ChunkSize: 3}, testLogger(),
		WithYielder(YieldFunc(func(context.Context) error {
			calls++
			return nil
		})),
	)

	if err := m.Ingest(context.Background(), seqOf(manyPoints(7, ""), nil)); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("yielder called %d times, want 3", calls)
	}
}

func TestNewMemoryEstimator(t *testing.T) {
	if _, ok := NewMemoryEstimator("count", 10).(FeatureCostEstimator); !ok {
		t.Error("expected FeatureCostEstimator for count")
	}
	if _, ok := NewMemoryEstimator("heap", 0).(HeapEstimator); !ok {
		t.Error("expected HeapEstimator for heap")
	}

	e := FeatureCostEstimator{}
	if got := e.EstimateMB(1024); got != 1 {
		t.Errorf("EstimateMB(1024) = %v, want 1 with the default cost", got)
	}
}
