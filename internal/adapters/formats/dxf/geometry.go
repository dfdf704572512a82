package dxf

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopreview/internal/domain"
)

// mat4 is a row-major 4×4 affine matrix.
type mat4 [16]float64

func identity() mat4 {
	return mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func translate(x, y, z float64) mat4 {
	m := identity()
	m[3], m[7], m[11] = x, y, z
	return m
}

func rotateZ(deg float64) mat4 {
	s, c := math.Sincos(deg * math.Pi / 180)
	m := identity()
	m[0], m[1] = c, -s
	m[4], m[5] = s, c
	return m
}

func scale(x, y, z float64) mat4 {
	m := identity()
	m[0], m[5], m[10] = x, y, z
	return m
}

func (m mat4) mul(o mat4) mat4 {
	var r mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[i*4+k] * o[k*4+j]
			}
			r[i*4+j] = sum
		}
	}
	return r
}

func (m mat4) apply(x, y, z float64) (float64, float64, float64) {
	return m[0]*x + m[1]*y + m[2]*z + m[3],
		m[4]*x + m[5]*y + m[6]*z + m[7],
		m[8]*x + m[9]*y + m[10]*z + m[11]
}

func (m mat4) isIdentity() bool {
	return m == identity()
}

// transformGeometry applies m to every vertex.
func transformGeometry(g orb.Geometry, m mat4) orb.Geometry {
	if m.isIdentity() {
		return g
	}
	return domain.MapGeometry(g, func(p orb.Point) (orb.Point, bool) {
		x, y, _ := m.apply(p[0], p[1], 0)
		q := orb.Point{x, y}
		return q, domain.FinitePoint(q)
	})
}

// shape is the geometry of a single non-block entity.
type shape struct {
	geometry  orb.Geometry
	elevation *float64
}

// toShape converts an entity. segments is the number of segments of a full
// circle.
func toShape(e *entity, segments int) (*shape, error) {
	switch e.kind {
	case "POINT":
		s := &shape{geometry: e.point(10)}
		if e.has(30) {
			z := e.float(30, 0)
			s.elevation = &z
		}
		return s, nil

	case "LINE":
		return &shape{geometry: orb.LineString{e.point(10), e.point(11)}}, nil

	case "LWPOLYLINE":
		return polyline(e.vertices(), e.integer(70, 0)&1 != 0)

	case "POLYLINE":
		flags := e.integer(70, 0)
		if flags&(16|64) != 0 {
			return nil, fmt.Errorf("polygon mesh: %w", domain.ErrUnsupportedEntity)
		}
		pts := make([]orb.Point, 0, len(e.children))
		for _, v := range e.children {
			if v.kind == "VERTEX" {
				pts = append(pts, v.point(10))
			}
		}
		return polyline(pts, flags&1 != 0)

	case "CIRCLE":
		r := e.float(40, 0)
		if r <= 0 {
			return nil, fmt.Errorf("circle radius %v: %w", r, domain.ErrMalformedRecord)
		}
		return &shape{geometry: fullRing(e.point(10), r, r, 0, 0, segments)}, nil

	case "ARC":
		r := e.float(40, 0)
		if r <= 0 {
			return nil, fmt.Errorf("arc radius %v: %w", r, domain.ErrMalformedRecord)
		}
		start := e.float(50, 0) * math.Pi / 180
		end := e.float(51, 360) * math.Pi / 180
		if end <= start {
			end += 2 * math.Pi
		}
		n := proportionalSegments(segments, end-start)
		return &shape{geometry: orb.LineString(arcPoints(e.point(10), r, r, 0, start, end, n))}, nil

	case "ELLIPSE":
		return ellipse(e, segments)

	default:
		return nil, fmt.Errorf("entity %s: %w", e.kind, domain.ErrUnsupportedEntity)
	}
}

// polyline returns a Polygon for closed outlines, a LineString otherwise.
func polyline(pts []orb.Point, closed bool) (*shape, error) {
	if len(pts) < domain.MinLinePoints {
		return nil, fmt.Errorf("polyline with %d vertices: %w", len(pts), domain.ErrMalformedRecord)
	}
	if closed && len(pts) >= 3 {
		return &shape{geometry: orb.Polygon{domain.CloseRing(orb.Ring(pts))}}, nil
	}
	return &shape{geometry: orb.LineString(pts)}, nil
}

func ellipse(e *entity, segments int) (*shape, error) {
	center := e.point(10)
	major := e.point(11)
	ratio := e.float(40, 1)
	rx := math.Hypot(major[0], major[1])
	if rx == 0 || ratio <= 0 {
		return nil, fmt.Errorf("ellipse axis %v ratio %v: %w", rx, ratio, domain.ErrMalformedRecord)
	}
	ry := rx * ratio
	rot := math.Atan2(major[1], major[0])

	start := e.float(41, 0)
	end := e.float(42, 2*math.Pi)
	if end <= start {
		end += 2 * math.Pi
	}
	sweep := end - start

	if math.Abs(sweep-2*math.Pi) < 1e-9 {
		return &shape{geometry: fullRing(center, rx, ry, rot, start, segments)}, nil
	}
	n := proportionalSegments(segments, sweep)
	return &shape{geometry: orb.LineString(arcPoints(center, rx, ry, rot, start, end, n))}, nil
}

// fullRing closes a complete turn exactly on its first vertex.
func fullRing(c orb.Point, rx, ry, rot, start float64, segments int) orb.Polygon {
	pts := arcPoints(c, rx, ry, rot, start, start+2*math.Pi, segments)
	return orb.Polygon{domain.CloseRing(orb.Ring(pts[:segments]))}
}

func proportionalSegments(full int, sweep float64) int {
	// tolerate rounding of degree to radian conversions
	n := int(math.Ceil(float64(full)*sweep/(2*math.Pi) - 1e-9))
	if n < 1 {
		return 1
	}
	return n
}

// arcPoints samples n segments of an ellipse with radii rx, ry, rotated by
// rot, between the parametric angles start and end.
func arcPoints(c orb.Point, rx, ry, rot, start, end float64, n int) []orb.Point {
	sinR, cosR := math.Sincos(rot)
	pts := make([]orb.Point, 0, n+1)
	for i := 0; i <= n; i++ {
		t := start + (end-start)*float64(i)/float64(n)
		sinT, cosT := math.Sincos(t)
		x := rx * cosT
		y := ry * sinT
		pts = append(pts, orb.Point{
			c[0] + x*cosR - y*sinR,
			c[1] + x*sinR + y*cosR,
		})
	}
	return pts
}
