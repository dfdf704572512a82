// Package delimited reads point tables from delimiter-separated text.
package delimited

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopreview/internal/adapters/formats"
	"github.com/jobrunner/geopreview/internal/domain"
)

// FormatName is the name of the delimited text format.
const FormatName = "delimited"

// Parser reads CSV-like point tables.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a delimited text parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Name returns the format name.
func (p *Parser) Name() string {
	return FormatName
}

// Extensions returns the main file extensions.
func (p *Parser) Extensions() []string {
	return []string{".csv", ".tsv", ".txt"}
}

// CanHandle reports whether name is a delimited text file.
func (p *Parser) CanHandle(name, mimeHint string) bool {
	return formats.HasExtension(name, p.Extensions()...) ||
		mimeHint == "text/csv" || mimeHint == "text/tab-separated-values"
}

// Analyze detects the layout and reads a prefix of rows.
func (p *Parser) Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error) {
	return formats.Analyze(ctx, FormatName, p.Stream(ctx, src, domain.ReadOptions{}), formats.DefaultAnalyzeLimit)
}

// Stream yields one point feature per row.
func (p *Parser) Stream(ctx context.Context, src *domain.Source, opts domain.ReadOptions) domain.FeatureSeq {
	return formats.Limit(func(yield func(*domain.Feature, error) bool) {
		r, header, cols, err := p.open(src)
		if err != nil {
			yield(nil, &domain.FormatError{Format: FormatName, File: src.Main.Name, Err: err})
			return
		}

		layer := layerName(src.Main.Name)
		for index := 0; ; index++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var pe *csv.ParseError
				if !errors.As(err, &pe) {
					yield(nil, err)
					return
				}
				if !yield(nil, p.recordError(index, err)) {
					return
				}
				continue
			}
			if isBlank(rec) {
				continue
			}

			f, err := rowFeature(rec, header, cols)
			if err != nil {
				if !yield(nil, p.recordError(index, err)) {
					return
				}
				continue
			}
			f.ID = int64(index + 1)
			if f.Layer == "" {
				f.Layer = layer
			}
			if !yield(f, nil) {
				return
			}
		}
	}, opts.MaxRecords)
}

// open detects the delimiter and reads the header row.
func (p *Parser) open(src *domain.Source) (*csv.Reader, []string, columns, error) {
	data := bytes.TrimPrefix(src.Main.Data, []byte("\xef\xbb\xbf"))
	comma := detectDelimiter(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, columns{}, fmt.Errorf("reading header: %v: %w", err, domain.ErrInvalidHeader)
	}
	cols := detectColumns(header)
	if cols.x < 0 || cols.y < 0 {
		return nil, nil, columns{}, fmt.Errorf("no coordinate columns in header %q: %w", header, domain.ErrInvalidHeader)
	}

	p.logger.Debug("detected table layout",
		"file", src.Main.Name,
		"delimiter", string(comma),
		"x", header[cols.x],
		"y", header[cols.y],
	)
	return r, header, cols, nil
}

func (p *Parser) recordError(index int, err error) error {
	p.logger.Debug("skipping row", "format", FormatName, "index", index, "error", err)
	return &domain.RecordError{Format: FormatName, Index: index, Err: err}
}

func rowFeature(rec, header []string, cols columns) (*domain.Feature, error) {
	if cols.x >= len(rec) || cols.y >= len(rec) {
		return nil, fmt.Errorf("row has %d columns: %w", len(rec), domain.ErrMalformedRecord)
	}
	x, okX := parseNumber(rec[cols.x])
	y, okY := parseNumber(rec[cols.y])
	if !okX || !okY {
		return nil, fmt.Errorf("coordinates %q, %q: %w", rec[cols.x], rec[cols.y], domain.ErrInvalidCoordinate)
	}

	f := &domain.Feature{
		Geometry:   orb.Point{x, y},
		Attributes: make(domain.Attributes, len(rec)),
	}
	if cols.z >= 0 && cols.z < len(rec) {
		if z, ok := parseNumber(rec[cols.z]); ok {
			f.Elevation = &z
		}
	}
	if cols.layer >= 0 && cols.layer < len(rec) {
		f.Layer = strings.TrimSpace(rec[cols.layer])
	}

	for i, v := range rec {
		if i == cols.x || i == cols.y || i == cols.z || i == cols.layer || i >= len(header) {
			continue
		}
		f.Attributes[strings.TrimSpace(header[i])] = typedValue(v)
	}
	return f, nil
}

// parseNumber accepts a decimal comma as well as a decimal point.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		v, err = strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	}
	if err != nil || !domain.IsFinite(v) {
		return 0, false
	}
	return v, true
}

func typedValue(s string) domain.Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Null()
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && domain.IsFinite(v) {
		return domain.Number(v)
	}
	switch strings.ToLower(s) {
	case "true":
		return domain.Bool(true)
	case "false":
		return domain.Bool(false)
	}
	return domain.String(s)
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func layerName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
