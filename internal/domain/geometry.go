package domain

import "github.com/paulmach/orb"

// Minimum vertex counts for valid geometries.
const (
	MinLinePoints = 2
	MinRingPoints = 4
)

// GeometryKind is the preview category of a geometry.
type GeometryKind string

const (
	KindPoint      GeometryKind = "point"
	KindLine       GeometryKind = "line"
	KindPolygon    GeometryKind = "polygon"
	KindCollection GeometryKind = "collection"
	KindNone       GeometryKind = ""
)

// KindOf returns the preview category of g. Multi-geometries fall into the
// category of their members.
func KindOf(g orb.Geometry) GeometryKind {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return KindPoint
	case orb.LineString, orb.MultiLineString:
		return KindLine
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return KindPolygon
	case orb.Collection:
		return KindCollection
	default:
		return KindNone
	}
}

// EachPoint calls fn for every coordinate of g, at every nesting level.
func EachPoint(g orb.Geometry, fn func(orb.Point)) {
	switch v := g.(type) {
	case orb.Point:
		fn(v)
	case orb.MultiPoint:
		for _, p := range v {
			fn(p)
		}
	case orb.LineString:
		for _, p := range v {
			fn(p)
		}
	case orb.Ring:
		for _, p := range v {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range v {
			EachPoint(ls, fn)
		}
	case orb.Polygon:
		for _, r := range v {
			EachPoint(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			EachPoint(p, fn)
		}
	case orb.Collection:
		for _, m := range v {
			EachPoint(m, fn)
		}
	case orb.Bound:
		EachPoint(v.ToRing(), fn)
	}
}

// BoundsOf computes the bounds of every finite coordinate in g.
func BoundsOf(g orb.Geometry) Bounds {
	b := EmptyBounds()
	if g == nil {
		return b
	}
	EachPoint(g, b.Extend)
	return b
}

// PointCount returns the number of coordinates in g.
func PointCount(g orb.Geometry) int {
	n := 0
	if g != nil {
		EachPoint(g, func(orb.Point) { n++ })
	}
	return n
}

// FinitePoint reports whether both ordinates of p are finite.
func FinitePoint(p orb.Point) bool {
	return IsFinite(p[0]) && IsFinite(p[1])
}

// CleanGeometry removes non-finite coordinates and degenerate parts from g:
// lines keep ≥2 points, rings ≥4 points, polygons need a surviving ring,
// collections keep their surviving members. It returns nil when
// nothing survives.
func CleanGeometry(g orb.Geometry) orb.Geometry {
	return MapGeometry(g, func(p orb.Point) (orb.Point, bool) {
		return p, FinitePoint(p)
	})
}

// MapGeometry applies fn to every coordinate and rebuilds the geometry from
// the accepted results, dropping parts that fall below their minimum size.
// The input is never modified. It returns nil when nothing survives.
func MapGeometry(g orb.Geometry, fn func(orb.Point) (orb.Point, bool)) orb.Geometry {
	switch v := g.(type) {
	case orb.Point:
		p, ok := fn(v)
		if !ok {
			return nil
		}
		return p
	case orb.MultiPoint:
		out := make(orb.MultiPoint, 0, len(v))
		for _, p := range v {
			if q, ok := fn(p); ok {
				out = append(out, q)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.LineString:
		ls := mapLine(v, fn)
		if ls == nil {
			return nil
		}
		return ls
	case orb.Ring:
		r := mapRing(v, fn)
		if r == nil {
			return nil
		}
		return r
	case orb.MultiLineString:
		out := make(orb.MultiLineString, 0, len(v))
		for _, ls := range v {
			if m := mapLine(ls, fn); m != nil {
				out = append(out, m)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.Polygon:
		p := mapPolygon(v, fn)
		if p == nil {
			return nil
		}
		return p
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(v))
		for _, poly := range v {
			if p := mapPolygon(poly, fn); p != nil {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, 0, len(v))
		for _, m := range v {
			if c := MapGeometry(m, fn); c != nil {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.Bound:
		return MapGeometry(orb.Polygon{v.ToRing()}, fn)
	default:
		return nil
	}
}

func mapLine(ls orb.LineString, fn func(orb.Point) (orb.Point, bool)) orb.LineString {
	out := make(orb.LineString, 0, len(ls))
	for _, p := range ls {
		if q, ok := fn(p); ok {
			out = append(out, q)
		}
	}
	if len(out) < MinLinePoints {
		return nil
	}
	return out
}

func mapRing(r orb.Ring, fn func(orb.Point) (orb.Point, bool)) orb.Ring {
	out := make(orb.Ring, 0, len(r))
	for _, p := range r {
		if q, ok := fn(p); ok {
			out = append(out, q)
		}
	}
	if len(out) < MinRingPoints {
		return nil
	}
	return out
}

// mapPolygon drops degenerate holes. The polygon is dropped when its
// exterior ring does not survive, whatever happens to the holes.
func mapPolygon(poly orb.Polygon, fn func(orb.Point) (orb.Point, bool)) orb.Polygon {
	if len(poly) == 0 {
		return nil
	}
	exterior := mapRing(poly[0], fn)
	if exterior == nil {
		return nil
	}
	out := make(orb.Polygon, 1, len(poly))
	out[0] = exterior
	for _, r := range poly[1:] {
		if m := mapRing(r, fn); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// IsClockwise reports the winding of a ring using the sign of the
// shoelace sum Σ (x2−x1)(y2+y1); positive means clockwise.
func IsClockwise(r []orb.Point) bool {
	var sum float64
	for i := 0; i < len(r)-1; i++ {
		sum += (r[i+1][0] - r[i][0]) * (r[i+1][1] + r[i][1])
	}
	if n := len(r); n > 1 && r[0] != r[n-1] {
		sum += (r[0][0] - r[n-1][0]) * (r[0][1] + r[n-1][1])
	}
	return sum > 0
}

// CloseRing returns r with its first point appended if it is open.
func CloseRing(r orb.Ring) orb.Ring {
	if len(r) > 0 && r[0] != r[len(r)-1] {
		return append(r[:len(r):len(r)], r[0])
	}
	return r
}
