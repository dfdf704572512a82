package projection

import (
	"errors"
	"testing"

	"github.com/jobrunner/geopreview/internal/domain"
)

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	if len(r.All()) != len(DefaultSystems()) {
		t.Fatalf("expected %d systems, got %d", len(DefaultSystems()), len(r.All()))
	}

	for _, code := range r.Codes() {
		cs, ok := r.Get(code)
		if !ok {
			t.Fatalf("Get(%s) failed", code)
		}
		if cs.Envelope.IsEmpty() {
			t.Errorf("%s has no envelope", code)
		}
		if cs.Geographic != (cs.Units == domain.UnitsDegrees) {
			t.Errorf("%s: geographic flag does not match units", code)
		}
	}
}

func TestRegistryGet(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		code   string
		want   string
		wantOK bool
	}{
		{"EPSG:2056", domain.CodeLV95, true},
		{"2056", domain.CodeLV95, true},
		{"urn:ogc:def:crs:EPSG::25832", domain.CodeETRS89UTM32N, true},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", domain.CodeWGS84, true},
		{"EPSG:9999", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			cs, ok := r.Get(tt.code)
			if ok != tt.wantOK {
				t.Fatalf("Get() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && cs.Code != tt.want {
				t.Errorf("Get() = %s, want %s", cs.Code, tt.want)
			}
		})
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewDefaultRegistry()

	cs, _ := r.Get(domain.CodeLV95)
	cs.Name = "changed"

	again, _ := r.Get(domain.CodeLV95)
	if again.Name == "changed" {
		t.Error("registry entries must not be modifiable through Get()")
	}
}

func TestNewRegistryErrors(t *testing.T) {
	tests := []struct {
		name    string
		systems []domain.CoordinateSystem
		wantErr error
	}{
		{
			name: "duplicate code",
			systems: []domain.CoordinateSystem{
				{Code: "EPSG:4326", Definition: "+proj=longlat +datum=WGS84"},
				{Code: "epsg:4326", Definition: "+proj=longlat +datum=WGS84"},
			},
		},
		{
			name: "unsupported projection",
			systems: []domain.CoordinateSystem{
				{Code: "EPSG:3035", Definition: "+proj=laea +lat_0=52 +lon_0=10"},
			},
			wantErr: domain.ErrUnsupportedProjection,
		},
		{
			name: "invalid utm zone",
			systems: []domain.CoordinateSystem{
				{Code: "EPSG:32699", Definition: "+proj=utm +zone=99"},
			},
			wantErr: domain.ErrUnsupportedProjection,
		},
		{
			name: "unknown ellipsoid",
			systems: []domain.CoordinateSystem{
				{Code: "EPSG:1", Definition: "+proj=tmerc +ellps=unknown"},
			},
			wantErr: domain.ErrUnsupportedProjection,
		},
		{
			name: "malformed towgs84",
			systems: []domain.CoordinateSystem{
				{Code: "EPSG:2", Definition: "+proj=tmerc +ellps=bessel +towgs84=1,2"},
			},
			wantErr: domain.ErrUnsupportedProjection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.systems)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRegistryLookupWKT(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		name   string
		wkt    string
		want   string
		wantOK bool
	}{
		{
			name: "OGC WKT with authority",
			wkt: `PROJCS["CH1903+ / LV95",GEOGCS["CH1903+",DATUM["CH1903+",SPHEROID["Bessel 1841",6377397.155,299.1528128,AUTHORITY["EPSG","7004"]],AUTHORITY["EPSG","6150"]],` +
				`AUTHORITY["EPSG","4150"]],PROJECTION["Hotine_Oblique_Mercator_Azimuth_Center"],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AUTHORITY["EPSG","2056"]]`,
			want:   domain.CodeLV95,
			wantOK: true,
		},
		{
			name:   "ESRI prj without authority",
			wkt:    `PROJCS["CH1903_LV03",GEOGCS["GCS_CH1903",DATUM["D_CH1903",SPHEROID["Bessel_1841",6377397.155,299.1528128]]],PROJECTION["Hotine_Oblique_Mercator_Azimuth_Center"]]`,
			want:   domain.CodeLV03,
			wantOK: true,
		},
		{
			name:   "ESRI geographic",
			wkt:    `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`,
			want:   domain.CodeWGS84,
			wantOK: true,
		},
		{
			name:   "ESRI UTM",
			wkt:    `PROJCS["ETRS_1989_UTM_Zone_32N",GEOGCS["GCS_ETRS_1989"],PROJECTION["Transverse_Mercator"]]`,
			want:   domain.CodeETRS89UTM32N,
			wantOK: true,
		},
		{
			name: "projected WKT carrying only its base authority",
			wkt: `PROJCS["Unknown_Lambert",GEOGCS["WGS 84",AUTHORITY["EPSG","4326"]],` +
				`PROJECTION["Lambert_Conformal_Conic_2SP"]]`,
			wantOK: false,
		},
		{
			name:   "WKT2 identifier",
			wkt:    `PROJCRS["ETRS89 / UTM zone 33N",BASEGEOGCRS["ETRS89",ID["EPSG",4258]],ID["EPSG",25833]]`,
			want:   domain.CodeETRS89UTM33N,
			wantOK: true,
		},
		{
			name:   "plain code",
			wkt:    "EPSG:31467",
			want:   domain.CodeDHDN3GK3,
			wantOK: true,
		},
		{
			name:   "plain alias",
			wkt:    "LV95",
			want:   domain.CodeLV95,
			wantOK: true,
		},
		{
			name:   "garbage",
			wkt:    "not a coordinate system",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, ok := r.LookupWKT(tt.wkt)
			if ok != tt.wantOK {
				t.Fatalf("LookupWKT() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && cs.Code != tt.want {
				t.Errorf("LookupWKT() = %s, want %s", cs.Code, tt.want)
			}
		})
	}
}
