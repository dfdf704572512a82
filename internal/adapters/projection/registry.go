package projection

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/jobrunner/geopreview/internal/domain"
)

func utmEnvelope() domain.Bounds {
	return domain.NewBounds(166021.44, 0, 833978.56, 9329005.18)
}

// DefaultSystems returns the built-in coordinate systems.
func DefaultSystems() []domain.CoordinateSystem {
	return []domain.CoordinateSystem{
		{
			Code:       domain.CodeWGS84,
			Name:       "WGS 84",
			Definition: "+proj=longlat +datum=WGS84 +no_defs",
			Units:      domain.UnitsDegrees,
			Geographic: true,
			Envelope:   domain.NewBounds(-180, -90, 180, 90),
			Aliases:    []string{"WGS 84", "GCS_WGS_1984", "WGS84", "CRS84"},
		},
		{
			Code:       domain.CodeWebMercator,
			Name:       "WGS 84 / Pseudo-Mercator",
			Definition: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +no_defs",
			Units:      domain.UnitsMeters,
			Envelope:   domain.NewBounds(-20037508.34, -20048966.10, 20037508.34, 20048966.10),
			Aliases: []string{
				"WGS 84 / Pseudo-Mercator",
				"WGS_1984_Web_Mercator_Auxiliary_Sphere",
				"Popular Visualisation CRS / Mercator",
			},
		},
		{
			Code:       domain.CodeLV95,
			Name:       "CH1903+ / LV95",
			Definition: "+proj=somerc +lat_0=46.9524055555556 +lon_0=7.43958333333333 +k_0=1 +x_0=2600000 +y_0=1200000 +ellps=bessel +towgs84=674.374,15.056,405.346,0,0,0,0 +units=m +no_defs",
			Units:      domain.UnitsMeters,
			Envelope:   domain.NewBounds(2485000, 1075000, 2834000, 1296000),
			Pattern: &domain.NumeralPattern{
				X: domain.AxisPattern{MinDigits: 7, MaxDigits: 7, MinLead: 2, MaxLead: 2},
				Y: domain.AxisPattern{MinDigits: 7, MaxDigits: 7, MinLead: 1, MaxLead: 1},
			},
			Aliases: []string{"CH1903+ / LV95", "CH1903+_LV95", "LV95"},
		},
		{
			Code:       domain.CodeLV03,
			Name:       "CH1903 / LV03",
			Definition: "+proj=somerc +lat_0=46.9524055555556 +lon_0=7.43958333333333 +k_0=1 +x_0=600000 +y_0=200000 +ellps=bessel +towgs84=674.374,15.056,405.346,0,0,0,0 +units=m +no_defs",
			Units:      domain.UnitsMeters,
			Envelope:   domain.NewBounds(485000, 75000, 834000, 296000),
			Pattern: &domain.NumeralPattern{
				X: domain.AxisPattern{MinDigits: 6, MaxDigits: 6, MinLead: 4, MaxLead: 8},
				Y: domain.AxisPattern{MinDigits: 5, MaxDigits: 6, MinLead: 1, MaxLead: 9},
			},
			Aliases: []string{"CH1903 / LV03", "CH1903_LV03", "LV03"},
		},
		{
			Code:       domain.CodeETRS89UTM32N,
			Name:       "ETRS89 / UTM zone 32N",
			Definition: "+proj=utm +zone=32 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
			Units:      domain.UnitsMeters,
			Envelope:   utmEnvelope(),
			Aliases:    []string{"ETRS89 / UTM zone 32N", "ETRS_1989_UTM_Zone_32N"},
		},
		{
			Code:       domain.CodeETRS89UTM33N,
			Name:       "ETRS89 / UTM zone 33N",
			Definition: "+proj=utm +zone=33 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
			Units:      domain.UnitsMeters,
			Envelope:   utmEnvelope(),
			Aliases:    []string{"ETRS89 / UTM zone 33N", "ETRS_1989_UTM_Zone_33N"},
		},
		{
			Code:       domain.CodeWGS84UTM32N,
			Name:       "WGS 84 / UTM zone 32N",
			Definition: "+proj=utm +zone=32 +datum=WGS84 +units=m +no_defs",
			Units:      domain.UnitsMeters,
			Envelope:   utmEnvelope(),
			Aliases:    []string{"WGS 84 / UTM zone 32N", "WGS_1984_UTM_Zone_32N"},
		},
		{
			Code:       domain.CodeDHDN3GK2,
			Name:       "DHDN / 3-degree Gauss-Kruger zone 2",
			Definition: "+proj=tmerc +lat_0=0 +lon_0=6 +k=1 +x_0=2500000 +y_0=0 +ellps=bessel +towgs84=598.1,73.7,418.2,0.202,0.045,-2.455,6.7 +units=m +no_defs",
			Units:      domain.UnitsMeters,
			Envelope:   domain.NewBounds(2490000, 5440000, 2610000, 6105000),
			Pattern: &domain.NumeralPattern{
				X: domain.AxisPattern{MinDigits: 7, MaxDigits: 7, MinLead: 2, MaxLead: 2},
				Y: domain.AxisPattern{MinDigits: 7, MaxDigits: 7, MinLead: 5, MaxLead: 6},
			},
			Aliases: []string{"DHDN / 3-degree Gauss-Kruger zone 2", "DHDN_3_Degree_Gauss_Zone_2", "DHDN_Gauss_Kruger_Zone_2"},
		},
		{
			Code:       domain.CodeDHDN3GK3,
			Name:       "DHDN / 3-degree Gauss-Kruger zone 3",
			Definition: "+proj=tmerc +lat_0=0 +lon_0=9 +k=1 +x_0=3500000 +y_0=0 +ellps=bessel +towgs84=598.1,73.7,418.2,0.202,0.045,-2.455,6.7 +units=m +no_defs",
			Units:      domain.UnitsMeters,
			Envelope:   domain.NewBounds(3385000, 5235000, 3615000, 6105000),
			Pattern: &domain.NumeralPattern{
				X: domain.AxisPattern{MinDigits: 7, MaxDigits: 7, MinLead: 3, MaxLead: 3},
				Y: domain.AxisPattern{MinDigits: 7, MaxDigits: 7, MinLead: 5, MaxLead: 6},
			},
			Aliases: []string{"DHDN / 3-degree Gauss-Kruger zone 3", "DHDN_3_Degree_Gauss_Zone_3", "DHDN_Gauss_Kruger_Zone_3"},
		},
	}
}

// Registry is a read-only table of coordinate systems. It is built once
// and shared; all methods are safe for concurrent use.
type Registry struct {
	systems []domain.CoordinateSystem
	byCode  map[string]int
	byAlias map[string]int
}

// NewRegistry creates a registry. Every definition must compile.
func NewRegistry(systems []domain.CoordinateSystem) (*Registry, error) {
	r := &Registry{
		systems: make([]domain.CoordinateSystem, 0, len(systems)),
		byCode:  make(map[string]int, len(systems)),
		byAlias: make(map[string]int),
	}
	for _, cs := range systems {
		cs.Code = domain.NormalizeCode(cs.Code)
		if _, dup := r.byCode[cs.Code]; dup {
			return nil, fmt.Errorf("duplicate coordinate system %s", cs.Code)
		}
		if _, err := compile(&cs); err != nil {
			return nil, err
		}
		idx := len(r.systems)
		r.systems = append(r.systems, cs)
		r.byCode[cs.Code] = idx
		for _, alias := range append([]string{cs.Name}, cs.Aliases...) {
			if key := aliasKey(alias); key != "" {
				if _, taken := r.byAlias[key]; !taken {
					r.byAlias[key] = idx
				}
			}
		}
	}
	return r, nil
}

// NewDefaultRegistry creates a registry with DefaultSystems.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultSystems())
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns a coordinate system by code. The code is normalized first.
func (r *Registry) Get(code string) (*domain.CoordinateSystem, bool) {
	idx, ok := r.byCode[domain.NormalizeCode(code)]
	if !ok {
		return nil, false
	}
	cs := r.systems[idx]
	return &cs, true
}

// All returns all coordinate systems in registration order.
func (r *Registry) All() []domain.CoordinateSystem {
	out := make([]domain.CoordinateSystem, len(r.systems))
	copy(out, r.systems)
	return out
}

// Codes returns all registered codes.
func (r *Registry) Codes() []string {
	codes := make([]string, len(r.systems))
	for i, cs := range r.systems {
		codes[i] = cs.Code
	}
	return codes
}

var (
	authorityRe = regexp.MustCompile(`(?i)(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	projectedRe = regexp.MustCompile(`(?i)^\s*PROJ(?:CS|CRS)\[`)
	wktNameRe   = regexp.MustCompile(`(?i)^\s*(?:PROJCS|PROJCRS|GEOGCS|GEOGCRS|GEODCRS)\[\s*"([^"]+)"`)
)

// LookupWKT resolves WKT (e.g. a .prj file) or a plain name. The outermost
// EPSG authority wins; otherwise the top-level name is matched against the
// known aliases.
func (r *Registry) LookupWKT(wkt string) (*domain.CoordinateSystem, bool) {
	projected := projectedRe.MatchString(wkt)
	if matches := authorityRe.FindAllStringSubmatch(wkt, -1); len(matches) > 0 {
		// a projected WKT without its own authority only carries the one of
		// its base geographic system
		if cs, ok := r.Get("EPSG:" + matches[len(matches)-1][1]); ok && !(projected && cs.Geographic) {
			return cs, true
		}
	}

	name := strings.TrimSpace(wkt)
	if m := wktNameRe.FindStringSubmatch(wkt); m != nil {
		name = m[1]
	}
	if idx, ok := r.byAlias[aliasKey(name)]; ok {
		cs := r.systems[idx]
		return &cs, true
	}
	if cs, ok := r.Get(name); ok {
		return cs, true
	}
	return nil, false
}

// aliasKey folds a name to lower-case letters and digits.
func aliasKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
