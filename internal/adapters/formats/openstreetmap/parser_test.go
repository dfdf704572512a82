package openstreetmap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/jobrunner/geopreview/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const extract = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <node id="1" lat="47.0" lon="8.0"/>
  <node id="2" lat="47.0" lon="8.1"/>
  <node id="3" lat="47.1" lon="8.1"/>
  <node id="4" lat="47.1" lon="8.0"/>
  <node id="5" lat="47.05" lon="8.05">
    <tag k="amenity" v="bench"/>
  </node>
  <node id="6" lat="47.2" lon="8.2">
    <tag k="created_by" v="JOSM"/>
  </node>
  <way id="10">
    <nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="4"/><nd ref="1"/>
    <tag k="building" v="yes"/>
  </way>
  <way id="11">
    <nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="4"/><nd ref="1"/>
    <tag k="highway" v="residential"/>
  </way>
  <way id="12">
    <nd ref="98"/><nd ref="99"/>
    <tag k="highway" v="path"/>
  </way>
  <relation id="20">
    <member type="way" ref="10" role="outer"/>
    <tag k="type" v="multipolygon"/>
  </relation>
</osm>`

func tagsOf(m map[string]string) osm.Tags {
	tags := make(osm.Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}

func source(data string) *domain.Source {
	return &domain.Source{Main: domain.SourceFile{Name: "city.osm", Data: []byte(data)}}
}

func collect(seq domain.FeatureSeq) ([]*domain.Feature, []error) {
	var features []*domain.Feature
	var errs []error
	for f, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		features = append(features, f)
	}
	return features, errs
}

func TestStream(t *testing.T) {
	p := NewParser(testLogger(), 1)
	features, errs := collect(p.Stream(context.Background(), source(extract), domain.ReadOptions{}))

	if len(features) != 3 {
		t.Fatalf("expected 3 features, got %d", len(features))
	}
	if len(errs) != 1 || !errors.Is(errs[0], domain.ErrMalformedRecord) {
		t.Fatalf("expected one malformed way, got %v", errs)
	}

	tests := []struct {
		id    int64
		layer string
		kind  domain.GeometryKind
	}{
		{5, "amenity", domain.KindPoint},
		{10, "building", domain.KindPolygon},
		{11, "highway", domain.KindLine},
	}
	for i, tt := range tests {
		f := features[i]
		if f.ID != tt.id || f.Layer != tt.layer || f.Kind() != tt.kind {
			t.Errorf("feature %d = {%d %s %s}, want {%d %s %s}",
				i, f.ID, f.Layer, f.Kind(), tt.id, tt.layer, tt.kind)
		}
	}

	bench := features[0]
	if !bench.Geometry.(orb.Point).Equal(orb.Point{8.05, 47.05}) {
		t.Errorf("bench at %v", bench.Geometry)
	}
	if v, _ := bench.Attributes["amenity"].Text(); v != "bench" {
		t.Errorf("amenity = %q", v)
	}
	if v, _ := bench.Attributes["osm_type"].Text(); v != "node" {
		t.Errorf("osm_type = %q", v)
	}
}

func TestLayerOf(t *testing.T) {
	tests := []struct {
		name string
		tags map[string]string
		want string
	}{
		{"primary key wins", map[string]string{"name": "x", "highway": "primary"}, "highway"},
		{"priority order", map[string]string{"amenity": "school", "building": "yes"}, "building"},
		{"fallback", map[string]string{"created_by": "JOSM", "name": "x"}, "name"},
		{"only metadata", map[string]string{"source": "survey"}, untaggedLayer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := layerOf(tagsOf(tt.tags)); got != tt.want {
				t.Errorf("layerOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsArea(t *testing.T) {
	tests := []struct {
		tags map[string]string
		want bool
	}{
		{map[string]string{"building": "yes"}, true},
		{map[string]string{"highway": "pedestrian"}, false},
		{map[string]string{"highway": "pedestrian", "area": "yes"}, true},
		{map[string]string{"building": "yes", "area": "no"}, false},
		{map[string]string{"name": "x"}, false},
	}

	for _, tt := range tests {
		if got := isArea(tagsOf(tt.tags)); got != tt.want {
			t.Errorf("isArea(%v) = %v, want %v", tt.tags, got, tt.want)
		}
	}
}

func TestAnalyze(t *testing.T) {
	p := NewParser(testLogger(), 1)
	a, err := p.Analyze(context.Background(), source(extract))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if a.CRSMetadata != domain.CodeWGS84 {
		t.Errorf("CRSMetadata = %s", a.CRSMetadata)
	}
	if len(a.Layers) != 3 {
		t.Errorf("expected 3 layers, got %v", a.LayerNames())
	}
	if a.Bounds.MinX != 8.0 || a.Bounds.MaxY != 47.1 {
		t.Errorf("unexpected bounds %v", a.Bounds)
	}
}

func TestStreamInvalid(t *testing.T) {
	p := NewParser(testLogger(), 1)
	_, errs := collect(p.Stream(context.Background(), source("<osm><node id="), domain.ReadOptions{}))

	var fe *domain.FormatError
	if len(errs) != 1 || !errors.As(errs[0], &fe) {
		t.Fatalf("expected FormatError, got %v", errs)
	}
}

func TestCanHandle(t *testing.T) {
	p := NewParser(testLogger(), 1)
	for _, name := range []string{"a.osm", "b.osm.pbf", "C.PBF"} {
		if !p.CanHandle(name, "") {
			t.Errorf("expected %s to be handled", name)
		}
	}
	if p.CanHandle("a.xml", "") {
		t.Error("unexpected match for .xml")
	}
}
