package shapefile

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopreview/internal/domain"
)

// shape is a decoded record.
type shape struct {
	Geometry  orb.Geometry
	Elevation *float64
}

// decodeShape decodes record content. A nil shape with a nil error is a
// null shape.
func decodeShape(content []byte) (*shape, error) {
	if len(content) < 4 {
		return nil, fmt.Errorf("content too short for shape type: %w", domain.ErrMalformedRecord)
	}

	switch t := readInt(content, 0); t {
	case shapeNull:
		return nil, nil
	case shapePoint, shapePointM:
		return decodePoint(content, false)
	case shapePointZ:
		return decodePoint(content, true)
	case shapeMultiPoint, shapeMultiPointZ, shapeMultiPointM:
		return decodeMultiPoint(content)
	case shapePolyLine, shapePolyLineZ, shapePolyLineM:
		return decodeParts(content, "polyline", buildLines)
	case shapePolygon, shapePolygonZ, shapePolygonM:
		return decodeParts(content, "polygon", buildPolygons)
	case shapeMultiPatch:
		return nil, fmt.Errorf("shape type %d (multipatch): %w", t, domain.ErrUnsupportedEntity)
	default:
		return nil, fmt.Errorf("invalid shape type %d: %w", t, domain.ErrMalformedRecord)
	}
}

func decodePoint(content []byte, withZ bool) (*shape, error) {
	need := 20
	if withZ {
		need = 28
	}
	if len(content) < need {
		return nil, fmt.Errorf("point needs %d bytes, have %d: %w", need, len(content), domain.ErrMalformedRecord)
	}

	p := orb.Point{readFloat(content, 4), readFloat(content, 12)}
	if !domain.FinitePoint(p) {
		return nil, fmt.Errorf("non-finite coordinates (%v, %v): %w", p[0], p[1], domain.ErrInvalidCoordinate)
	}

	s := &shape{Geometry: p}
	if withZ {
		if z := readFloat(content, 20); domain.IsFinite(z) {
			s.Elevation = &z
		}
	}
	return s, nil
}

func decodeMultiPoint(content []byte) (*shape, error) {
	if len(content) < 40 {
		return nil, fmt.Errorf("multipoint header truncated: %w", domain.ErrMalformedRecord)
	}
	n := readInt(content, 36)
	if n <= 0 || n > maxPoints {
		return nil, fmt.Errorf("unreasonable number of points (%d): %w", n, domain.ErrMalformedRecord)
	}
	if len(content) < 40+16*n {
		return nil, fmt.Errorf("multipoint needs %d points, content truncated: %w", n, domain.ErrMalformedRecord)
	}

	mp := make(orb.MultiPoint, 0, n)
	for i := 0; i < n; i++ {
		p := orb.Point{readFloat(content, 40+16*i), readFloat(content, 48+16*i)}
		if domain.FinitePoint(p) {
			mp = append(mp, p)
		}
	}
	if len(mp) == 0 {
		return nil, fmt.Errorf("multipoint has no finite coordinates: %w", domain.ErrInvalidCoordinate)
	}
	return &shape{Geometry: mp}, nil
}

// decodeParts reads the parts/points layout shared by polylines and
// polygons and hands the partitioned point lists to build.
func decodeParts(content []byte, kind string, build func([][]orb.Point) orb.Geometry) (*shape, error) {
	if len(content) < 44 {
		return nil, fmt.Errorf("%s header truncated: %w", kind, domain.ErrMalformedRecord)
	}
	numParts := readInt(content, 36)
	numPoints := readInt(content, 40)
	if numParts <= 0 || numParts > maxParts || numPoints <= 0 || numPoints > maxPoints {
		return nil, fmt.Errorf("invalid %s: unreasonable number of parts (%d) or points (%d): %w",
			kind, numParts, numPoints, domain.ErrMalformedRecord)
	}

	pointsOffset := 44 + 4*numParts
	if len(content) < pointsOffset+16*numPoints {
		return nil, fmt.Errorf("%s content truncated (%d parts, %d points): %w",
			kind, numParts, numPoints, domain.ErrMalformedRecord)
	}

	starts := make([]int, numParts)
	for i := range starts {
		idx := readInt(content, 44+4*i)
		if idx < 0 || idx >= numPoints {
			return nil, fmt.Errorf("part index %d out of bounds (num points: %d): %w",
				idx, numPoints, domain.ErrMalformedRecord)
		}
		starts[i] = idx
	}

	parts := make([][]orb.Point, 0, numParts)
	for i, start := range starts {
		end := numPoints
		if i+1 < numParts {
			end = starts[i+1]
		}
		if start >= end {
			return nil, fmt.Errorf("part %d has invalid range (%d >= %d): %w",
				i, start, end, domain.ErrMalformedRecord)
		}
		part := make([]orb.Point, 0, end-start)
		for j := start; j < end; j++ {
			off := pointsOffset + 16*j
			part = append(part, orb.Point{readFloat(content, off), readFloat(content, off+8)})
		}
		parts = append(parts, part)
	}

	g := domain.CleanGeometry(build(parts))
	if g == nil {
		return nil, fmt.Errorf("%s has no valid parts: %w", kind, domain.ErrInvalidCoordinate)
	}
	return &shape{Geometry: g}, nil
}

func buildLines(parts [][]orb.Point) orb.Geometry {
	if len(parts) == 1 {
		return orb.LineString(parts[0])
	}
	mls := make(orb.MultiLineString, len(parts))
	for i, p := range parts {
		mls[i] = orb.LineString(p)
	}
	return mls
}

// buildPolygons groups rings by winding: a clockwise ring starts a new
// polygon, a counter-clockwise ring is a hole of the current one.
func buildPolygons(parts [][]orb.Point) orb.Geometry {
	var polygons orb.MultiPolygon
	var current orb.Polygon

	for _, part := range parts {
		ring := domain.CloseRing(orb.Ring(part))
		if domain.IsClockwise(ring) && len(current) > 0 {
			polygons = append(polygons, current)
			current = nil
		}
		current = append(current, ring)
	}
	if len(current) > 0 {
		polygons = append(polygons, current)
	}

	if len(polygons) == 1 {
		return polygons[0]
	}
	return polygons
}
