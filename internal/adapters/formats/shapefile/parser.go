// Package shapefile reads ESRI shapefiles (.shp with .dbf, .prj and .cpg
// companions) from memory.
package shapefile

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/jobrunner/geopreview/internal/adapters/formats"
	"github.com/jobrunner/geopreview/internal/domain"
)

// FormatName is the name of the shapefile format.
const FormatName = "shapefile"

// Parser reads shapefiles.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a shapefile parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Name returns the format name.
func (p *Parser) Name() string {
	return FormatName
}

// Extensions returns the main file extensions.
func (p *Parser) Extensions() []string {
	return []string{".shp"}
}

// CanHandle reports whether name is a shapefile.
func (p *Parser) CanHandle(name, mimeHint string) bool {
	return formats.HasExtension(name, ".shp") || mimeHint == "application/x-esri-shape"
}

// Analyze validates the header, reads a prefix of records and passes the
// .prj content through as coordinate system metadata. The extent comes
// from the header bounding box, which writers leave zeroed when unknown.
func (p *Parser) Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error) {
	a, err := formats.Analyze(ctx, FormatName, p.Stream(ctx, src, domain.ReadOptions{}), formats.DefaultAnalyzeLimit)
	if err != nil {
		return nil, err
	}

	if h, err := parseHeader(src.Main.Data); err == nil && h.Bounds != (domain.Bounds{}) {
		a.Extent = h.Bounds.Union(a.Bounds)
	}

	if prj, ok := src.Companion(".prj"); ok {
		a.CRSMetadata = strings.TrimSpace(strings.TrimPrefix(string(prj.Data), "\ufeff"))
	} else {
		a.Warnings.AddError(fmt.Errorf("%s.prj: %w", layerName(src), domain.ErrMissingCompanion))
	}
	return a, nil
}

// Stream yields one feature per record. Records without geometry are
// skipped; malformed records are yielded as *domain.RecordError.
func (p *Parser) Stream(ctx context.Context, src *domain.Source, opts domain.ReadOptions) domain.FeatureSeq {
	h, err := parseHeader(src.Main.Data)
	if err != nil {
		return formats.Fail(&domain.FormatError{Format: FormatName, File: src.Main.Name, Err: err})
	}

	return formats.Limit(func(yield func(*domain.Feature, error) bool) {
		layer := layerName(src)

		table, err := p.openTable(src)
		if err != nil && !yield(nil, err) {
			return
		}

		data := src.Main.Data[:h.FileLength]
		offset := headerLength
		for index := 0; offset+8 <= len(data); index++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			recNum := int(int32(binary.BigEndian.Uint32(data[offset : offset+4])))
			words := int(int32(binary.BigEndian.Uint32(data[offset+4 : offset+8])))
			if words < 0 || words > maxContentWords {
				// the record chain cannot be followed any further
				yield(nil, p.recordError(index, fmt.Errorf("unreasonable content length %d for record %d: %w",
					words, recNum, domain.ErrMalformedRecord)))
				return
			}
			start := offset + 8
			end := start + words*2
			if end > len(data) {
				yield(nil, p.recordError(index, fmt.Errorf("truncated content for record %d (need %d bytes, have %d): %w",
					recNum, words*2, len(data)-start, domain.ErrMalformedRecord)))
				return
			}
			offset = end

			s, err := decodeShape(data[start:end])
			if err != nil {
				if !yield(nil, p.recordError(index, err)) {
					return
				}
				continue
			}
			if s == nil {
				continue
			}

			f := &domain.Feature{
				ID:        int64(recNum),
				Layer:     layer,
				Geometry:  s.Geometry,
				Elevation: s.Elevation,
			}
			if table != nil {
				attrs, deleted, err := table.Row(index)
				switch {
				case err != nil:
					if !yield(nil, p.recordError(index, err)) {
						return
					}
				case deleted:
					continue
				default:
					f.Attributes = attrs
				}
			}
			if !yield(f, nil) {
				return
			}
		}
	}, opts.MaxRecords)
}

// openTable parses the .dbf companion. A missing or broken table is
// reported as a recoverable error; features are then yielded without
// attributes.
func (p *Parser) openTable(src *domain.Source) (*dbfTable, error) {
	dbf, ok := src.Companion(".dbf")
	if !ok {
		return nil, fmt.Errorf("%s.dbf: %w", layerName(src), domain.ErrMissingCompanion)
	}

	var cpg string
	if c, ok := src.Companion(".cpg"); ok {
		cpg = string(c.Data)
	}
	table, err := parseDBF(dbf.Data, codePageDecoder(cpg))
	if err != nil {
		p.logger.Debug("ignoring attribute table", "file", dbf.Name, "error", err)
		return nil, fmt.Errorf("%s: %v: %w", dbf.Name, err, domain.ErrMissingCompanion)
	}
	return table, nil
}

func (p *Parser) recordError(index int, err error) error {
	p.logger.Debug("skipping record", "format", FormatName, "index", index, "error", err)
	return &domain.RecordError{Format: FormatName, Index: index, Err: err}
}

// layerName returns the main file name without directory and extension.
func layerName(src *domain.Source) string {
	name := path.Base(strings.ReplaceAll(src.Main.Name, "\\", "/"))
	return strings.TrimSuffix(name, path.Ext(name))
}
