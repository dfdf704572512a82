package projection

// swissObliqueMercator converts between WGS 84 and the Swiss grids using
// the swisstopo approximation formulas (about 1 m accuracy). The false
// origin selects LV03 (600000/200000) or LV95 (2600000/1200000).
type swissObliqueMercator struct {
	x0, y0 float64
}

func newSwissObliqueMercator(p params) (*swissObliqueMercator, error) {
	x0, err := p.float("x_0", 600000)
	if err != nil {
		return nil, err
	}
	y0, err := p.float("y_0", 200000)
	if err != nil {
		return nil, err
	}
	return &swissObliqueMercator{x0: x0, y0: y0}, nil
}

func (s *swissObliqueMercator) forward(lon, lat float64) (float64, float64) {
	// sexagesimal seconds relative to Bern, in units of 10000"
	phi := (lat*3600 - 169028.66) / 10000
	lam := (lon*3600 - 26782.5) / 10000

	phi2 := phi * phi
	lam2 := lam * lam

	e := s.x0 + 72.37 +
		211455.93*lam -
		10938.51*lam*phi -
		0.36*lam*phi2 -
		44.54*lam2*lam
	n := s.y0 + 147.07 +
		308807.95*phi +
		3745.25*lam2 +
		76.63*phi2 -
		194.56*lam2*phi +
		119.79*phi2*phi

	return e, n
}

func (s *swissObliqueMercator) inverse(x, y float64) (float64, float64) {
	yp := (x - s.x0) / 1000000
	xp := (y - s.y0) / 1000000

	yp2 := yp * yp
	xp2 := xp * xp

	lam := 2.6779094 +
		4.728982*yp +
		0.791484*yp*xp +
		0.1306*yp*xp2 -
		0.0436*yp2*yp
	phi := 16.9023892 +
		3.238272*xp -
		0.270978*yp2 -
		0.002528*xp2 -
		0.0447*yp2*xp -
		0.0140*xp2*xp

	return lam * 100 / 36, phi * 100 / 36
}
