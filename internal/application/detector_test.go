package application

import (
	"context"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopreview/internal/domain"
)

func pointsAt(coords ...[2]float64) []*domain.Feature {
	features := make([]*domain.Feature, len(coords))
	for i, c := range coords {
		features[i] = point(int64(i), "", c[0], c[1])
	}
	return features
}

func TestDetectorDetect(t *testing.T) {
	tests := []struct {
		name          string
		systems       *mockSystems
		metadata      string
		features      []*domain.Feature
		wantSystem    string
		wantStrategy  string
		minConfidence float64
	}{
		{
			name:          "metadata wins",
			systems:       newMockSystems(),
			metadata:      "EPSG:2056",
			features:      pointsAt([2]float64{7.4, 46.9}),
			wantSystem:    domain.CodeLV95,
			wantStrategy:  StrategyMetadata,
			minConfidence: 0.9,
		},
		{
			name:          "unknown metadata falls back to range",
			systems:       newMockSystems(),
			metadata:      `PROJCS["Local grid"]`,
			features:      pointsAt([2]float64{2600000, 1200000}, [2]float64{2600500, 1200300}),
			wantSystem:    domain.CodeLV95,
			wantStrategy:  StrategyRange,
			minConfidence: 0.7,
		},
		{
			name:          "swiss coordinates",
			systems:       newMockSystems(),
			features:      pointsAt([2]float64{2600000, 1200000}),
			wantSystem:    domain.CodeLV95,
			wantStrategy:  StrategyRange,
			minConfidence: 0.7,
		},
		{
			name:          "geographic coordinates prefer the tighter envelope",
			systems:       newMockSystems(),
			features:      pointsAt([2]float64{7.1, 46.2}, [2]float64{8.9, 47.6}),
			wantSystem:    domain.CodeWGS84,
			wantStrategy:  StrategyRange,
			minConfidence: 0.5,
		},
		{
			name:    "numeral pattern",
			systems: &mockSystems{systems: []domain.CoordinateSystem{wgs84System(), lv03System()}},
			features: pointsAt(
				[2]float64{440000, 100000},
				[2]float64{450000, 105000},
				[2]float64{460000, 110000},
			),
			wantSystem:    domain.CodeLV03,
			wantStrategy:  StrategyHeuristic,
			minConfidence: 0.6,
		},
		{
			name:          "no features",
			systems:       newMockSystems(),
			wantSystem:    domain.CodeWGS84,
			wantStrategy:  StrategyDefault,
			minConfidence: 0.2,
		},
		{
			name:          "nothing fits",
			systems:       &mockSystems{systems: []domain.CoordinateSystem{wgs84System(), lv95System()}},
			features:      pointsAt([2]float64{-5e7, -5e7}),
			wantSystem:    domain.CodeWGS84,
			wantStrategy:  StrategyDefault,
			minConfidence: 0.2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(tt.systems, testLogger())
			got := d.Detect(context.Background(), tt.metadata, tt.features)

			if got.System != tt.wantSystem {
				t.Errorf("System = %s, want %s", got.System, tt.wantSystem)
			}
			if got.Strategy != tt.wantStrategy {
				t.Errorf("Strategy = %s, want %s", got.Strategy, tt.wantStrategy)
			}
			if got.Confidence < tt.minConfidence || got.Confidence > 1 {
				t.Errorf("Confidence = %v, want in [%v, 1]", got.Confidence, tt.minConfidence)
			}
		})
	}
}

func TestDetectorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDetector(newMockSystems(), testLogger())
	got := d.Detect(ctx, "", pointsAt([2]float64{2600000, 1200000}))

	if got.Strategy != StrategyDefault {
		t.Errorf("Strategy = %s, want %s", got.Strategy, StrategyDefault)
	}
}

func TestRangeScore(t *testing.T) {
	lv95 := lv95System()
	gk2 := gk2System()
	wgs84 := wgs84System()

	tests := []struct {
		name   string
		bounds domain.Bounds
		cs     *domain.CoordinateSystem
		want   float64
	}{
		{"inside with matching pattern", domain.NewBounds(2600000, 1200000, 2601000, 1201000), &lv95, 1.2},
		{"inside without pattern", domain.NewBounds(7, 46, 8, 47), &wgs84, 1.0},
		{"outside", domain.NewBounds(-500, -500, -400, -400), &wgs84, 0},
		{"half on one axis", domain.NewBounds(170, 0, 190, 10), &wgs84, 0.7*0.5 + 0.3*1},
		{"one axis with pattern penalty", domain.NewBounds(2600000, 1200000, 2601000, 1201000), &gk2, 0.3 * 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RangeScore(tt.bounds, tt.cs)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RangeScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverlap(t *testing.T) {
	tests := []struct {
		name                 string
		lo, hi, envLo, envHi float64
		want                 float64
	}{
		{"inside", 2, 4, 0, 10, 1},
		{"partial", 5, 15, 0, 10, 0.5},
		{"outside", 20, 30, 0, 10, 0},
		{"degenerate inside", 5, 5, 0, 10, 1},
		{"degenerate outside", 50, 50, 0, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overlap(tt.lo, tt.hi, tt.envLo, tt.envHi); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("overlap() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectorPatternUsesLineVertices(t *testing.T) {
	systems := &mockSystems{systems: []domain.CoordinateSystem{lv03System()}}
	d := NewDetector(systems, testLogger())

	features := []*domain.Feature{
		line(1, "roads", orb.Point{440000, 100000}, orb.Point{441000, 101000}, orb.Point{442000, 102000}),
	}
	got := d.Detect(context.Background(), "", features)

	if got.System != domain.CodeLV03 || got.Strategy != StrategyHeuristic {
		t.Errorf("got %+v, want LV03 by heuristic", got)
	}
}
