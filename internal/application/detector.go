package application

import (
	"context"
	"log/slog"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

// Detection strategies, in the order they are tried.
const (
	StrategyMetadata  = "metadata"
	StrategyRange     = "range"
	StrategyHeuristic = "heuristic"
	StrategyDefault   = "default"
)

// Detection scoring.
const (
	metadataConfidence  = 0.9
	heuristicConfidence = 0.6
	defaultConfidence   = 0.2

	rangeMinWeight     = 0.7
	rangeMaxWeight     = 0.3
	patternBoost       = 1.2
	patternPenalty     = 0.5
	rangeThreshold     = 0.5
	heuristicSample    = 200
	heuristicThreshold = 0.5
)

// Detector guesses the coordinate system of a source. Strategies are tried
// in order of reliability and the first success wins.
type Detector struct {
	registry output.CoordinateSystemRegistry
	logger   *slog.Logger
}

// NewDetector creates a new detector.
func NewDetector(registry output.CoordinateSystemRegistry, logger *slog.Logger) *Detector {
	return &Detector{
		registry: registry,
		logger:   logger,
	}
}

// Detect returns the best guess for the coordinate system of features,
// given the CRS metadata of the source (prj WKT, embedded crs, srs id).
func (d *Detector) Detect(ctx context.Context, metadata string, features []*domain.Feature) domain.Detection {
	if metadata != "" {
		if cs, ok := d.registry.LookupWKT(metadata); ok {
			return domain.Detection{System: cs.Code, Confidence: metadataConfidence, Strategy: StrategyMetadata}
		}
		d.logger.Debug("unrecognized coordinate system metadata", "metadata", truncate(metadata, 120))
	}

	if ctx.Err() == nil {
		if det, ok := d.detectRange(features); ok {
			return det
		}
	}
	if ctx.Err() == nil {
		if det, ok := d.detectPattern(features); ok {
			return det
		}
	}

	return domain.Detection{System: domain.CodeWGS84, Confidence: defaultConfidence, Strategy: StrategyDefault}
}

// detectRange scores the overlap of the feature bounds with each valid
// envelope.
func (d *Detector) detectRange(features []*domain.Feature) (domain.Detection, bool) {
	bounds := domain.EmptyBounds()
	for _, f := range features {
		bounds = bounds.Union(f.Bounds())
	}
	if bounds.IsEmpty() {
		return domain.Detection{}, false
	}

	var (
		best      *domain.CoordinateSystem
		bestScore float64
	)
	systems := d.registry.All()
	for i := range systems {
		cs := &systems[i]
		if cs.Envelope.IsEmpty() {
			continue
		}
		score := RangeScore(bounds, cs)
		if score < rangeThreshold {
			continue
		}
		// ties go to the tighter envelope, then to registration order
		if best == nil || score > bestScore ||
			(score == bestScore && cs.Envelope.Area() < best.Envelope.Area()) {
			best, bestScore = cs, score
		}
	}
	if best == nil {
		return domain.Detection{}, false
	}

	d.logger.Debug("coordinate system detected by range", "system", best.Code, "score", bestScore)
	return domain.Detection{System: best.Code, Confidence: min(bestScore, 1), Strategy: StrategyRange}, true
}

// RangeScore weights the per-axis overlap of bounds with the envelope of
// cs toward the smaller fraction and applies the numeral pattern boost or
// penalty. The result is not capped.
func RangeScore(bounds domain.Bounds, cs *domain.CoordinateSystem) float64 {
	ox := overlap(bounds.MinX, bounds.MaxX, cs.Envelope.MinX, cs.Envelope.MaxX)
	oy := overlap(bounds.MinY, bounds.MaxY, cs.Envelope.MinY, cs.Envelope.MaxY)
	score := rangeMinWeight*min(ox, oy) + rangeMaxWeight*max(ox, oy)

	if cs.Pattern != nil {
		if cs.Pattern.Matches(bounds.Center()) {
			score *= patternBoost
		} else {
			score *= patternPenalty
		}
	}
	return score
}

// overlap returns the fraction of [lo, hi] inside [envLo, envHi]. A
// degenerate interval counts as fully inside or fully outside.
func overlap(lo, hi, envLo, envHi float64) float64 {
	if hi <= lo {
		if lo >= envLo && lo <= envHi {
			return 1
		}
		return 0
	}
	inside := min(hi, envHi) - max(lo, envLo)
	if inside <= 0 {
		return 0
	}
	return inside / (hi - lo)
}

// detectPattern counts sampled coordinates matching each numeral pattern.
func (d *Detector) detectPattern(features []*domain.Feature) (domain.Detection, bool) {
	points := make([]orb.Point, 0, heuristicSample)
	for _, f := range features {
		if len(points) >= heuristicSample {
			break
		}
		domain.EachPoint(f.Geometry, func(p orb.Point) {
			if len(points) < heuristicSample {
				points = append(points, p)
			}
		})
	}
	if len(points) == 0 {
		return domain.Detection{}, false
	}

	var (
		best      string
		bestCount int
	)
	for _, cs := range d.registry.All() {
		if cs.Pattern == nil {
			continue
		}
		count := 0
		for _, p := range points {
			if cs.Pattern.Matches(p) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = cs.Code, count
		}
	}
	if float64(bestCount)/float64(len(points)) <= heuristicThreshold {
		return domain.Detection{}, false
	}

	d.logger.Debug("coordinate system detected by pattern", "system", best, "matches", bestCount, "sampled", len(points))
	return domain.Detection{System: best, Confidence: heuristicConfidence, Strategy: StrategyHeuristic}, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
