// Package geojson reads GeoJSON documents.
package geojson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geopreview/internal/adapters/formats"
	"github.com/jobrunner/geopreview/internal/domain"
)

// FormatName is the name of the GeoJSON format.
const FormatName = "geojson"

// LayerProperty is the property used as layer tag.
const LayerProperty = "layer"

// Parser reads GeoJSON feature collections, features and bare geometries.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a GeoJSON parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Name returns the format name.
func (p *Parser) Name() string {
	return FormatName
}

// Extensions returns the main file extensions.
func (p *Parser) Extensions() []string {
	return []string{".geojson", ".json"}
}

// CanHandle reports whether name is a GeoJSON document.
func (p *Parser) CanHandle(name, mimeHint string) bool {
	return formats.HasExtension(name, p.Extensions()...) || mimeHint == "application/geo+json"
}

// envelope holds the top-level members needed before decoding.
type envelope struct {
	Type string `json:"type"`
	CRS  *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string      `json:"name"`
			Code json.Number `json:"code"`
		} `json:"properties"`
	} `json:"crs"`
}

// crsName returns the embedded coordinate system reference, if any.
func (e *envelope) crsName() string {
	if e.CRS == nil {
		return ""
	}
	if name := strings.TrimSpace(e.CRS.Properties.Name); name != "" {
		return name
	}
	if code := e.CRS.Properties.Code.String(); code != "" {
		return "EPSG:" + code
	}
	return ""
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding document: %v: %w", err, domain.ErrInvalidHeader)
	}
	return &env, nil
}

// Analyze reads a prefix of features and the embedded crs member.
func (p *Parser) Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error) {
	env, err := decodeEnvelope(src.Main.Data)
	if err != nil {
		return nil, &domain.FormatError{Format: FormatName, File: src.Main.Name, Err: err}
	}

	a, err := formats.Analyze(ctx, FormatName, p.Stream(ctx, src, domain.ReadOptions{}), formats.DefaultAnalyzeLimit)
	if err != nil {
		return nil, err
	}
	a.CRSMetadata = env.crsName()
	return a, nil
}

// Stream yields the features of the document.
func (p *Parser) Stream(ctx context.Context, src *domain.Source, opts domain.ReadOptions) domain.FeatureSeq {
	return formats.Limit(func(yield func(*domain.Feature, error) bool) {
		features, err := p.decode(src.Main.Data)
		if err != nil {
			yield(nil, &domain.FormatError{Format: FormatName, File: src.Main.Name, Err: err})
			return
		}

		for i, gf := range features {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			f, err := toFeature(gf, i)
			if err != nil {
				p.logger.Debug("skipping feature", "format", FormatName, "index", i, "error", err)
				if !yield(nil, &domain.RecordError{Format: FormatName, Index: i, Err: err}) {
					return
				}
				continue
			}
			if !yield(f, nil) {
				return
			}
		}
	}, opts.MaxRecords)
}

func (p *Parser) decode(data []byte) ([]*geojson.Feature, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("decoding collection: %v: %w", err, domain.ErrInvalidHeader)
		}
		return fc.Features, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("decoding feature: %v: %w", err, domain.ErrInvalidHeader)
		}
		return []*geojson.Feature{f}, nil
	case "Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon", "GeometryCollection":
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("decoding geometry: %v: %w", err, domain.ErrInvalidHeader)
		}
		return []*geojson.Feature{geojson.NewFeature(g.Geometry())}, nil
	default:
		return nil, fmt.Errorf("unknown document type %q: %w", env.Type, domain.ErrInvalidHeader)
	}
}

func toFeature(gf *geojson.Feature, index int) (*domain.Feature, error) {
	if gf.Geometry == nil {
		return nil, fmt.Errorf("feature without geometry: %w", domain.ErrMalformedRecord)
	}
	g := domain.CleanGeometry(gf.Geometry)
	if g == nil {
		return nil, fmt.Errorf("%s has no valid coordinates: %w", gf.Geometry.GeoJSONType(), domain.ErrInvalidCoordinate)
	}

	f := &domain.Feature{
		ID:         featureID(gf.ID, index),
		Geometry:   g,
		Attributes: make(domain.Attributes, len(gf.Properties)),
	}
	for k, v := range gf.Properties {
		if k == LayerProperty {
			if s, ok := v.(string); ok {
				f.Layer = s
				continue
			}
		}
		f.Attributes[k] = domain.ValueOf(v)
	}
	return f, nil
}

// featureID uses a numeric id member and falls back to the position.
func featureID(id interface{}, index int) int64 {
	switch v := id.(type) {
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return int64(index + 1)
}
