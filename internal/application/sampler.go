package application

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopreview/internal/domain"
)

// Sampler decides which features enter a preview.
type Sampler interface {
	// Accept reports whether f is taken into the preview.
	Accept(f *domain.Feature) bool

	// Full reports whether no further feature will be accepted.
	Full() bool

	// Accepted returns the number of accepted features.
	Accepted() int
}

// TruncateSampler accepts the first Max features.
type TruncateSampler struct {
	max      int
	accepted int
}

// NewTruncateSampler creates a sampler keeping the first max features.
func NewTruncateSampler(maxFeatures int) *TruncateSampler {
	return &TruncateSampler{max: maxFeatures}
}

// Accept implements Sampler.
func (s *TruncateSampler) Accept(_ *domain.Feature) bool {
	if s.Full() {
		return false
	}
	s.accepted++
	return true
}

// Full implements Sampler.
func (s *TruncateSampler) Full() bool {
	return s.accepted >= s.max
}

// Accepted implements Sampler.
func (s *TruncateSampler) Accepted() int {
	return s.accepted
}

// GridSampler spreads point features over a ceil(sqrt(max))² grid laid
// over the expected bounds. Each cell takes at most max/cells points, at
// least one. Lines and polygons are always accepted until max is reached.
type GridSampler struct {
	max      int
	bounds   domain.Bounds
	size     int
	perCell  int
	cells    map[int]int
	accepted int
}

// NewGridSampler creates a grid sampler over bounds.
func NewGridSampler(bounds domain.Bounds, maxFeatures int) *GridSampler {
	size := int(math.Ceil(math.Sqrt(float64(maxFeatures))))
	if size < 1 {
		size = 1
	}
	cells := size * size
	return &GridSampler{
		max:     maxFeatures,
		bounds:  bounds,
		size:    size,
		perCell: max(1, maxFeatures/cells),
		cells:   make(map[int]int),
	}
}

// Accept implements Sampler.
func (s *GridSampler) Accept(f *domain.Feature) bool {
	if s.Full() || f.Geometry == nil {
		return false
	}
	if f.Kind() == domain.KindPoint {
		cell := s.cell(f.Bounds().Center())
		if s.cells[cell] >= s.perCell {
			return false
		}
		s.cells[cell]++
	}
	s.accepted++
	return true
}

// Full implements Sampler.
func (s *GridSampler) Full() bool {
	return s.accepted >= s.max
}

// Accepted implements Sampler.
func (s *GridSampler) Accepted() int {
	return s.accepted
}

// PerCell returns the point capacity of a cell.
func (s *GridSampler) PerCell() int {
	return s.perCell
}

// cell maps p to a grid cell; points outside the bounds are clamped to the
// border cells.
func (s *GridSampler) cell(p orb.Point) int {
	if s.bounds.IsEmpty() {
		return 0
	}
	return s.axis(p[1], s.bounds.MinY, s.bounds.Height())*s.size +
		s.axis(p[0], s.bounds.MinX, s.bounds.Width())
}

func (s *GridSampler) axis(v, lo, extent float64) int {
	if extent <= 0 {
		return 0
	}
	i := int((v - lo) / extent * float64(s.size))
	return min(max(i, 0), s.size-1)
}
