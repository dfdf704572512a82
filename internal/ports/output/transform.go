package output

import (
	"github.com/paulmach/orb"

	"github.com/jobrunner/geopreview/internal/domain"
)

// CoordinateSystemRegistry defines the secondary port for coordinate
// system lookups.
type CoordinateSystemRegistry interface {
	// Get returns a coordinate system by code.
	Get(code string) (*domain.CoordinateSystem, bool)

	// All returns all coordinate systems in registration order.
	All() []domain.CoordinateSystem

	// LookupWKT resolves WKT or a plain name to a coordinate system.
	LookupWKT(wkt string) (*domain.CoordinateSystem, bool)
}

// CoordinateTransformer defines the secondary port for coordinate
// transformations.
type CoordinateTransformer interface {
	// TransformPoint transforms a single coordinate.
	TransformPoint(p orb.Point, from, to string) (orb.Point, error)

	// TransformBounds transforms a bounding box via its four corners.
	TransformBounds(b domain.Bounds, from, to string) (domain.Bounds, error)

	// TransformFeature returns the feature reprojected to "to", nil if its
	// geometry did not survive, and the number of dropped coordinates.
	TransformFeature(f *domain.Feature, from, to string) (*domain.Feature, int, error)

	// Supports checks if both systems are known.
	Supports(from, to string) bool
}
