// Package projection implements coordinate system definitions and the
// reprojection engine.
package projection

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/jobrunner/geopreview/internal/domain"
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// ellipsoid is defined by its semi-major axis and flattening.
type ellipsoid struct {
	a float64
	f float64
}

func (e ellipsoid) e2() float64 {
	return e.f * (2 - e.f)
}

var ellipsoids = map[string]ellipsoid{
	"WGS84":  {a: 6378137, f: 1 / 298.257223563},
	"GRS80":  {a: 6378137, f: 1 / 298.257222101},
	"bessel": {a: 6377397.155, f: 1 / 299.1528128},
	"intl":   {a: 6378388, f: 1 / 297.0},
	"sphere": {a: 6370997, f: 0},
}

// params holds the parsed "+key=value" tokens of a definition.
type params map[string]string

func parseParams(def string) (params, error) {
	p := make(params)
	for _, tok := range strings.Fields(def) {
		if !strings.HasPrefix(tok, "+") {
			return nil, fmt.Errorf("invalid token %q", tok)
		}
		key, value, _ := strings.Cut(tok[1:], "=")
		p[key] = value
	}
	if p["proj"] == "" {
		return nil, fmt.Errorf("missing +proj in %q", def)
	}
	return p, nil
}

func (p params) has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p params) float(key string, def float64) (float64, error) {
	s, ok := p[key]
	if !ok || s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("+%s: %w", key, err)
	}
	return v, nil
}

func (p params) ellipsoid() (ellipsoid, error) {
	if d := p["datum"]; d != "" {
		switch d {
		case "WGS84":
			return ellipsoids["WGS84"], nil
		case "potsdam":
			return ellipsoids["bessel"], nil
		default:
			return ellipsoid{}, fmt.Errorf("unknown datum %q", d)
		}
	}
	if name := p["ellps"]; name != "" {
		e, ok := ellipsoids[name]
		if !ok {
			return ellipsoid{}, fmt.Errorf("unknown ellipsoid %q", name)
		}
		return e, nil
	}
	if p.has("a") {
		a, err := p.float("a", 0)
		if err != nil {
			return ellipsoid{}, err
		}
		if p.has("rf") {
			rf, err := p.float("rf", 0)
			if err != nil || rf == 0 {
				return ellipsoid{}, fmt.Errorf("invalid +rf")
			}
			return ellipsoid{a: a, f: 1 / rf}, nil
		}
		b, err := p.float("b", a)
		if err != nil {
			return ellipsoid{}, err
		}
		return ellipsoid{a: a, f: (a - b) / a}, nil
	}
	return ellipsoids["WGS84"], nil
}

// projector maps between geographic degrees on the system's own datum and
// projected coordinates.
type projector interface {
	forward(lon, lat float64) (x, y float64)
	inverse(x, y float64) (lon, lat float64)
}

// system is a compiled coordinate system.
type system struct {
	code  string
	proj  projector
	ellps ellipsoid
	datum *helmert // shift to WGS 84, nil if none
	neu   bool     // northing first on output
}

// toWGS84 converts system coordinates to WGS 84 lon/lat.
func (s *system) toWGS84(p orb.Point) (float64, float64) {
	lon, lat := s.proj.inverse(p[0], p[1])
	if s.datum != nil {
		lon, lat = s.datum.toWGS84(lon, lat, s.ellps)
	}
	return lon, lat
}

// fromWGS84 converts WGS 84 lon/lat to system coordinates.
func (s *system) fromWGS84(lon, lat float64) orb.Point {
	if s.datum != nil {
		lon, lat = s.datum.fromWGS84(lon, lat, s.ellps)
	}
	x, y := s.proj.forward(lon, lat)
	return orb.Point{x, y}
}

// compile turns a coordinate system definition into a system.
func compile(cs *domain.CoordinateSystem) (*system, error) {
	p, err := parseParams(cs.Definition)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", cs.Code, domain.ErrUnsupportedProjection, err)
	}
	ellps, err := p.ellipsoid()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", cs.Code, domain.ErrUnsupportedProjection, err)
	}

	s := &system{
		code:  cs.Code,
		ellps: ellps,
		neu:   p["axis"] == "neu",
	}

	switch p["proj"] {
	case "longlat", "latlong", "lonlat", "latlon":
		s.proj = longLat{}
	case "merc":
		s.proj = sphericalMercator{}
	case "tmerc", "utm":
		s.proj, err = newTransverseMercator(p, ellps)
	case "somerc":
		// the swisstopo approximation maps directly to WGS 84
		s.proj, err = newSwissObliqueMercator(p)
		return finish(s, cs, err)
	default:
		err = fmt.Errorf("projection %q", p["proj"])
	}
	if err != nil {
		return finish(s, cs, err)
	}

	if p.has("towgs84") {
		s.datum, err = parseHelmert(p["towgs84"])
	} else if p["datum"] == "potsdam" {
		s.datum = &helmert{tx: 598.1, ty: 73.7, tz: 418.2, rx: 0.202, ry: 0.045, rz: -2.455, s: 6.7}
	}
	return finish(s, cs, err)
}

func finish(s *system, cs *domain.CoordinateSystem, err error) (*system, error) {
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", cs.Code, domain.ErrUnsupportedProjection, err)
	}
	return s, nil
}

// longLat is the identity projection of geographic systems.
type longLat struct{}

func (longLat) forward(lon, lat float64) (float64, float64) { return lon, lat }
func (longLat) inverse(x, y float64) (float64, float64)     { return x, y }

// sphericalMercator is the web mercator projection.
type sphericalMercator struct{}

func (sphericalMercator) forward(lon, lat float64) (float64, float64) {
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p[0], p[1]
}

func (sphericalMercator) inverse(x, y float64) (float64, float64) {
	p := project.Mercator.ToWGS84(orb.Point{x, y})
	return p[0], p[1]
}
