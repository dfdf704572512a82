package projection

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const arcsec2rad = math.Pi / (180 * 3600)

// wgs84 is the target ellipsoid of all datum shifts.
var wgs84 = ellipsoids["WGS84"]

// helmert is a 7-parameter position-vector transformation to WGS 84.
// Translations in metres, rotations in arc seconds, scale in ppm.
type helmert struct {
	tx, ty, tz float64
	rx, ry, rz float64
	s          float64
}

func parseHelmert(v string) (*helmert, error) {
	fields := strings.Split(v, ",")
	if len(fields) != 3 && len(fields) != 7 {
		return nil, fmt.Errorf("+towgs84 needs 3 or 7 values, got %d", len(fields))
	}
	vals := make([]float64, 7)
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("+towgs84: %w", err)
		}
		vals[i] = x
	}
	h := &helmert{
		tx: vals[0], ty: vals[1], tz: vals[2],
		rx: vals[3], ry: vals[4], rz: vals[5],
		s: vals[6],
	}
	if *h == (helmert{}) {
		return nil, nil
	}
	return h, nil
}

func (h *helmert) apply(x, y, z float64, sign float64) (float64, float64, float64) {
	rx := sign * h.rx * arcsec2rad
	ry := sign * h.ry * arcsec2rad
	rz := sign * h.rz * arcsec2rad
	m := 1 + sign*h.s*1e-6
	return sign*h.tx + m*(x-rz*y+ry*z),
		sign*h.ty + m*(rz*x+y-rx*z),
		sign*h.tz + m*(-ry*x+rx*y+z)
}

func (h *helmert) toWGS84(lon, lat float64, from ellipsoid) (float64, float64) {
	x, y, z := geodeticToECEF(lon, lat, from)
	x, y, z = h.apply(x, y, z, 1)
	return ecefToGeodetic(x, y, z, wgs84)
}

func (h *helmert) fromWGS84(lon, lat float64, to ellipsoid) (float64, float64) {
	x, y, z := geodeticToECEF(lon, lat, wgs84)
	x, y, z = h.apply(x, y, z, -1)
	return ecefToGeodetic(x, y, z, to)
}

func geodeticToECEF(lon, lat float64, e ellipsoid) (float64, float64, float64) {
	e2 := e.e2()
	sinPhi, cosPhi := math.Sincos(lat * deg2rad)
	sinLam, cosLam := math.Sincos(lon * deg2rad)
	n := e.a / math.Sqrt(1-e2*sinPhi*sinPhi)
	return n * cosPhi * cosLam, n * cosPhi * sinLam, n * (1 - e2) * sinPhi
}

// ecefToGeodetic drops the ellipsoidal height; a few fixed-point
// iterations converge to well below a millimetre.
func ecefToGeodetic(x, y, z float64, e ellipsoid) (float64, float64) {
	e2 := e.e2()
	lam := math.Atan2(y, x)
	p := math.Hypot(x, y)
	phi := math.Atan2(z, p*(1-e2))
	for i := 0; i < 6; i++ {
		sinPhi := math.Sin(phi)
		n := e.a / math.Sqrt(1-e2*sinPhi*sinPhi)
		h := p/math.Cos(phi) - n
		phi = math.Atan2(z, p*(1-e2*n/(n+h)))
	}
	return lam * rad2deg, phi * rad2deg
}
