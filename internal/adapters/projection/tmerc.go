package projection

import (
	"fmt"
	"math"
	"strconv"
)

// transverseMercator implements the ellipsoidal transverse Mercator series
// (USGS Professional Paper 1395). Accurate to millimetres within a few
// degrees of the central meridian.
type transverseMercator struct {
	a, e2, ep2 float64
	k0         float64
	lon0, lat0 float64 // radians
	x0, y0     float64
	m0         float64
}

func newTransverseMercator(p params, e ellipsoid) (*transverseMercator, error) {
	t := &transverseMercator{a: e.a, e2: e.e2()}
	t.ep2 = t.e2 / (1 - t.e2)

	var err error
	if p["proj"] == "utm" {
		zone, zerr := strconv.Atoi(p["zone"])
		if zerr != nil || zone < 1 || zone > 60 {
			return nil, fmt.Errorf("invalid utm zone %q", p["zone"])
		}
		t.lon0 = float64(zone*6-183) * deg2rad
		t.k0 = 0.9996
		t.x0 = 500000
		if p.has("south") {
			t.y0 = 10000000
		}
		return t, nil
	}

	var lon0, lat0 float64
	if lon0, err = p.float("lon_0", 0); err != nil {
		return nil, err
	}
	if lat0, err = p.float("lat_0", 0); err != nil {
		return nil, err
	}
	k := p["k_0"]
	if k == "" {
		k = p["k"]
	}
	t.k0 = 1
	if k != "" {
		if t.k0, err = strconv.ParseFloat(k, 64); err != nil {
			return nil, fmt.Errorf("+k: %w", err)
		}
	}
	if t.x0, err = p.float("x_0", 0); err != nil {
		return nil, err
	}
	if t.y0, err = p.float("y_0", 0); err != nil {
		return nil, err
	}
	t.lon0 = lon0 * deg2rad
	t.lat0 = lat0 * deg2rad
	t.m0 = t.meridianArc(t.lat0)
	return t, nil
}

// meridianArc is the distance along the meridian from the equator to phi.
func (t *transverseMercator) meridianArc(phi float64) float64 {
	e2 := t.e2
	e4 := e2 * e2
	e6 := e4 * e2
	return t.a * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

func (t *transverseMercator) forward(lon, lat float64) (float64, float64) {
	phi := lat * deg2rad
	lam := lon * deg2rad

	sinPhi, cosPhi := math.Sincos(phi)
	n := t.a / math.Sqrt(1-t.e2*sinPhi*sinPhi)
	tt := math.Tan(phi) * math.Tan(phi)
	c := t.ep2 * cosPhi * cosPhi
	a := (lam - t.lon0) * cosPhi
	m := t.meridianArc(phi)

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	x := t.k0 * n * (a + (1-tt+c)*a3/6 + (5-18*tt+tt*tt+72*c-58*t.ep2)*a5/120)
	y := t.k0 * (m - t.m0 + n*math.Tan(phi)*(a2/2+(5-tt+9*c+4*c*c)*a4/24+
		(61-58*tt+tt*tt+600*c-330*t.ep2)*a6/720))

	return x + t.x0, y + t.y0
}

func (t *transverseMercator) inverse(x, y float64) (float64, float64) {
	e2 := t.e2
	e4 := e2 * e2
	e6 := e4 * e2

	m := t.m0 + (y-t.y0)/t.k0
	mu := m / (t.a * (1 - e2/4 - 3*e4/64 - 5*e6/256))
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	phi1 := mu + (3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)

	sinPhi1, cosPhi1 := math.Sincos(phi1)
	c1 := t.ep2 * cosPhi1 * cosPhi1
	t1 := math.Tan(phi1) * math.Tan(phi1)
	w := 1 - e2*sinPhi1*sinPhi1
	n1 := t.a / math.Sqrt(w)
	r1 := t.a * (1 - e2) / (w * math.Sqrt(w))
	d := (x - t.x0) / (n1 * t.k0)

	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	phi := phi1 - (n1*math.Tan(phi1)/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*t.ep2)*d4/24+
		(61+90*t1+298*c1+45*t1*t1-252*t.ep2-3*c1*c1)*d6/720)
	lam := t.lon0 + (d-(1+2*t1+c1)*d3/6+
		(5-2*c1+28*t1-3*c1*c1+8*t.ep2+24*t1*t1)*d5/120)/cosPhi1

	return lam * rad2deg, phi * rad2deg
}
