// Package openstreetmap reads OpenStreetMap XML and PBF extracts.
package openstreetmap

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"

	"github.com/jobrunner/geopreview/internal/adapters/formats"
	"github.com/jobrunner/geopreview/internal/domain"
)

// FormatName is the name of the OSM format.
const FormatName = "osm"

const untaggedLayer = "untagged"

// Parser reads OSM extracts. Nodes are kept in memory to resolve way
// geometries; relations are skipped.
type Parser struct {
	logger *slog.Logger
	procs  int
}

// NewParser creates an OSM parser. procs is the number of PBF decoders,
// at least one.
func NewParser(logger *slog.Logger, procs int) *Parser {
	return &Parser{logger: logger, procs: max(procs, 1)}
}

// Name returns the format name.
func (p *Parser) Name() string {
	return FormatName
}

// Extensions returns the main file extensions.
func (p *Parser) Extensions() []string {
	return []string{".osm", ".pbf"}
}

// CanHandle reports whether name is an OSM extract.
func (p *Parser) CanHandle(name, mimeHint string) bool {
	return formats.HasExtension(name, ".osm", ".pbf") ||
		mimeHint == "application/vnd.openstreetmap.data+xml" ||
		mimeHint == "application/x-protobuf"
}

// Analyze reads a prefix of the extract. OSM data is always WGS 84.
func (p *Parser) Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error) {
	a, err := formats.Analyze(ctx, FormatName, p.Stream(ctx, src, domain.ReadOptions{}), formats.DefaultAnalyzeLimit)
	if err != nil {
		return nil, err
	}
	a.CRSMetadata = domain.CodeWGS84
	return a, nil
}

// Stream yields tagged nodes as points and ways as lines or polygons.
func (p *Parser) Stream(ctx context.Context, src *domain.Source, opts domain.ReadOptions) domain.FeatureSeq {
	return formats.Limit(func(yield func(*domain.Feature, error) bool) {
		scanner := p.scanner(ctx, src)
		defer func() { _ = scanner.Close() }()

		nodes := make(map[osm.NodeID]orb.Point)
		index := 0
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var (
				f   *domain.Feature
				err error
			)
			switch obj := scanner.Object().(type) {
			case *osm.Node:
				nodes[obj.ID] = orb.Point{obj.Lon, obj.Lat}
				if !hasMeaningfulTags(obj.Tags) {
					continue
				}
				f, err = nodeFeature(obj)
			case *osm.Way:
				f, err = wayFeature(obj, nodes)
			default:
				continue
			}

			if err != nil {
				p.logger.Debug("skipping object", "format", FormatName, "index", index, "error", err)
				if !yield(nil, &domain.RecordError{Format: FormatName, Index: index, Err: err}) {
					return
				}
			} else if !yield(f, nil) {
				return
			}
			index++
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			yield(nil, &domain.FormatError{Format: FormatName, File: src.Main.Name,
				Err: fmt.Errorf("%v: %w", err, domain.ErrInvalidHeader)})
		}
	}, opts.MaxRecords)
}

func (p *Parser) scanner(ctx context.Context, src *domain.Source) osm.Scanner {
	r := bytes.NewReader(src.Main.Data)
	if formats.HasExtension(src.Main.Name, ".pbf") {
		return osmpbf.New(ctx, r, p.procs)
	}
	return osmxml.New(ctx, r)
}

func nodeFeature(n *osm.Node) (*domain.Feature, error) {
	pt := orb.Point{n.Lon, n.Lat}
	if !domain.FinitePoint(pt) {
		return nil, fmt.Errorf("node %d: %w", n.ID, domain.ErrInvalidCoordinate)
	}
	return &domain.Feature{
		ID:         int64(n.ID),
		Layer:      layerOf(n.Tags),
		Geometry:   pt,
		Attributes: attributes("node", int64(n.ID), n.Tags),
	}, nil
}

// wayFeature resolves node references; ways whose nodes are missing from
// the extract lose those vertices.
func wayFeature(w *osm.Way, nodes map[osm.NodeID]orb.Point) (*domain.Feature, error) {
	line := make(orb.LineString, 0, len(w.Nodes))
	missing := 0
	for _, wn := range w.Nodes {
		// PBF and XML extracts may carry way node locations inline
		if wn.Lat != 0 || wn.Lon != 0 {
			line = append(line, orb.Point{wn.Lon, wn.Lat})
			continue
		}
		pt, ok := nodes[wn.ID]
		if !ok {
			missing++
			continue
		}
		line = append(line, pt)
	}
	if len(line) < 2 {
		return nil, fmt.Errorf("way %d: %d of %d nodes unresolved: %w",
			w.ID, missing, len(w.Nodes), domain.ErrMalformedRecord)
	}

	var g orb.Geometry = line
	if missing == 0 && len(line) >= 4 && line[0].Equal(line[len(line)-1]) && isArea(w.Tags) {
		g = orb.Polygon{orb.Ring(line)}
	}
	if g = domain.CleanGeometry(g); g == nil {
		return nil, fmt.Errorf("way %d: %w", w.ID, domain.ErrInvalidCoordinate)
	}

	return &domain.Feature{
		ID:         int64(w.ID),
		Layer:      layerOf(w.Tags),
		Geometry:   g,
		Attributes: attributes("way", int64(w.ID), w.Tags),
	}, nil
}

func attributes(kind string, id int64, tags osm.Tags) domain.Attributes {
	attrs := make(domain.Attributes, len(tags)+2)
	attrs["osm_type"] = domain.String(kind)
	attrs["osm_id"] = domain.String(strconv.FormatInt(id, 10))
	for _, tag := range tags {
		attrs[tag.Key] = domain.String(tag.Value)
	}
	return attrs
}
