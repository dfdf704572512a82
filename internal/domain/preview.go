package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
)

// maxWarningMessages caps the messages kept on a Warnings list; the count
// keeps growing.
const maxWarningMessages = 100

// Warnings aggregates recoverable per-record problems.
type Warnings struct {
	Count    int      `json:"count"`
	Messages []string `json:"messages,omitempty"`
}

// Add records a warning.
func (w *Warnings) Add(msg string) {
	w.Count++
	if len(w.Messages) < maxWarningMessages {
		w.Messages = append(w.Messages, msg)
	}
}

// Addf records a formatted warning.
func (w *Warnings) Addf(format string, args ...interface{}) {
	w.Add(fmt.Sprintf(format, args...))
}

// AddError records err as a warning.
func (w *Warnings) AddError(err error) {
	w.Add(err.Error())
}

// Merge appends all warnings of o.
func (w *Warnings) Merge(o Warnings) {
	w.Count += o.Count - len(o.Messages)
	for _, m := range o.Messages {
		w.Add(m)
	}
}

// Empty returns true if nothing was recorded.
func (w *Warnings) Empty() bool {
	return w.Count == 0
}

// PreviewOptions controls a preview run.
type PreviewOptions struct {
	TargetCoordinateSystem string   // Output system (empty = no reprojection)
	SourceCoordinateSystem string   // Overrides detection when set
	SelectedLayers         []string // Visible layers (empty = all)
	MaxPreviewFeatures     int      // Upper bound of features in the preview
	ChunkSize              int      // Features per chunk
	MaxMemoryMB            int      // Memory ceiling while ingesting
	SmartSampling          bool     // Grid sampling instead of truncation
	EnableCaching          bool     // Use the preview cache
	SimplifyTolerance      float64  // Douglas-Peucker tolerance in target units (0 = off)
}

// Canonical returns a stable string form of the options that affect the
// preview result. Caching itself is excluded.
func (o PreviewOptions) Canonical() string {
	layers := slices.Clone(o.SelectedLayers)
	slices.Sort(layers)
	parts := []string{
		"to=" + o.TargetCoordinateSystem,
		"from=" + o.SourceCoordinateSystem,
		"layers=" + strings.Join(layers, ","),
		"max=" + strconv.Itoa(o.MaxPreviewFeatures),
		"chunk=" + strconv.Itoa(o.ChunkSize),
		"mem=" + strconv.Itoa(o.MaxMemoryMB),
		"smart=" + strconv.FormatBool(o.SmartSampling),
		"simplify=" + strconv.FormatFloat(o.SimplifyTolerance, 'g', -1, 64),
	}
	return strings.Join(parts, ";")
}

// LayerSet returns the selected layers as a set, or nil for "all".
func (o PreviewOptions) LayerSet() map[string]struct{} {
	if len(o.SelectedLayers) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(o.SelectedLayers))
	for _, l := range o.SelectedLayers {
		set[l] = struct{}{}
	}
	return set
}

// ProgressFunc is called with the number of processed features and the
// expected total (0 if unknown).
type ProgressFunc func(processed, total int)

// PreviewCollection is the bounded, categorized output handed to a renderer.
type PreviewCollection struct {
	Points       *geojson.FeatureCollection `json:"points"`
	Lines        *geojson.FeatureCollection `json:"lines"`
	Polygons     *geojson.FeatureCollection `json:"polygons"`
	TotalCount   int                        `json:"totalCount"`
	VisibleCount int                        `json:"visibleCount"`
	Bounds       Bounds                     `json:"bounds"`
	SourceSystem string                     `json:"sourceSystem"`
	TargetSystem string                     `json:"targetSystem"`
	Detection    *Detection                 `json:"detection,omitempty"`
	Sampled      bool                       `json:"sampled"`
	Warnings     Warnings                   `json:"warnings"`
	Duration     time.Duration              `json:"-"`
	GeneratedAt  time.Time                  `json:"generatedAt"`
}

// NewPreviewCollection creates an empty collection.
func NewPreviewCollection() *PreviewCollection {
	return &PreviewCollection{
		Points:   geojson.NewFeatureCollection(),
		Lines:    geojson.NewFeatureCollection(),
		Polygons: geojson.NewFeatureCollection(),
		Bounds:   EmptyBounds(),
	}
}

// FeatureCount returns the number of features over all categories.
func (p *PreviewCollection) FeatureCount() int {
	return len(p.Points.Features) + len(p.Lines.Features) + len(p.Polygons.Features)
}

// HasFeatures returns true if any category is non-empty.
func (p *PreviewCollection) HasFeatures() bool {
	return p.FeatureCount() > 0
}

// DefaultCurveSegments is the number of segments a full circle is
// approximated with.
const DefaultCurveSegments = 64

// ReadOptions controls how a parser streams records.
type ReadOptions struct {
	CurveSegments int // Segments per full circle (0 = DefaultCurveSegments)
	MaxRecords    int // Stop after this many records (0 = unlimited)
}

// Segments returns the effective curve segment count.
func (o ReadOptions) Segments() int {
	if o.CurveSegments <= 0 {
		return DefaultCurveSegments
	}
	return o.CurveSegments
}
