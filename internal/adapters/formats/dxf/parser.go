// Package dxf reads ASCII DXF drawings.
package dxf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jobrunner/geopreview/internal/adapters/formats"
	"github.com/jobrunner/geopreview/internal/domain"
)

const (
	// FormatName is the name of the DXF format.
	FormatName = "dxf"

	// maxInsertDepth limits nested block references.
	maxInsertDepth = 16

	// maxInsertCells limits the grid of a single array insert.
	maxInsertCells = 10000

	// DefaultMaxExpanded limits the block entities placed per read, summed
	// over every insert of the drawing.
	DefaultMaxExpanded = 1_000_000
)

// Parser reads DXF drawings.
type Parser struct {
	logger      *slog.Logger
	maxExpanded int
}

// NewParser creates a DXF parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger, maxExpanded: DefaultMaxExpanded}
}

// Name returns the format name.
func (p *Parser) Name() string {
	return FormatName
}

// Extensions returns the main file extensions.
func (p *Parser) Extensions() []string {
	return []string{".dxf"}
}

// CanHandle reports whether name is a DXF drawing.
func (p *Parser) CanHandle(name, mimeHint string) bool {
	return formats.HasExtension(name, ".dxf") || mimeHint == "image/vnd.dxf" || mimeHint == "application/dxf"
}

// Analyze reads the layer table and a prefix of entities.
func (p *Parser) Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error) {
	doc, err := p.parse(src)
	if err != nil {
		return nil, err
	}

	a, err := formats.Analyze(ctx, FormatName, p.stream(ctx, doc, domain.ReadOptions{}), formats.DefaultAnalyzeLimit)
	if err != nil {
		return nil, err
	}
	formats.MergeLayers(a, doc.layerInfos())
	return a, nil
}

// Stream yields one feature per drawable entity, with block references
// expanded into world coordinates.
func (p *Parser) Stream(ctx context.Context, src *domain.Source, opts domain.ReadOptions) domain.FeatureSeq {
	doc, err := p.parse(src)
	if err != nil {
		return formats.Fail(err)
	}
	return formats.Limit(p.stream(ctx, doc, opts), opts.MaxRecords)
}

func (p *Parser) parse(src *domain.Source) (*document, error) {
	doc, err := parseDocument(src.Main.Data)
	if err != nil {
		return nil, &domain.FormatError{Format: FormatName, File: src.Main.Name, Err: err}
	}
	p.logger.Debug("parsed drawing",
		"file", src.Main.Name,
		"version", doc.header["$ACADVER"],
		"layers", len(doc.layers),
		"blocks", len(doc.blocks),
		"entities", len(doc.entities),
	)
	return doc, nil
}

func (p *Parser) stream(ctx context.Context, doc *document, opts domain.ReadOptions) domain.FeatureSeq {
	return func(yield func(*domain.Feature, error) bool) {
		x := &expander{
			doc:      doc,
			segments: opts.Segments(),
			logger:   p.logger,
			yield:    yield,
			budget:   p.maxExpanded,
		}
		for i, e := range doc.entities {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !x.expand(e, i, identity(), "", "", 0) {
				return
			}
		}
	}
}

// expander walks entities and block references.
type expander struct {
	doc      *document
	segments int
	logger   *slog.Logger
	yield    func(*domain.Feature, error) bool
	nextID   int64

	// budget is the number of block entities left to place.
	budget    int
	exhausted bool
}

// expand emits the features of e placed with m. Entities on the default
// layer inside a block take the layer of the referencing insert. It
// returns false when the consumer stopped.
func (x *expander) expand(e *entity, index int, m mat4, inherited, blockName string, depth int) bool {
	layer := e.layer()
	if inherited != "" && layer == domain.DefaultLayer {
		layer = inherited
	}

	if e.kind == "INSERT" {
		return x.insert(e, index, m, layer, depth)
	}

	s, err := toShape(e, x.segments)
	if err != nil {
		return x.warn(index, err)
	}
	g := transformGeometry(s.geometry, m)
	if g == nil {
		return x.warn(index, fmt.Errorf("entity %s: %w", e.kind, domain.ErrInvalidCoordinate))
	}

	x.nextID++
	f := &domain.Feature{
		ID:         x.nextID,
		Layer:      layer,
		Geometry:   g,
		Attributes: x.attributes(e, blockName),
	}
	if s.elevation != nil {
		z := *s.elevation
		if !m.isIdentity() {
			src := e.point(10)
			_, _, z = m.apply(src[0], src[1], z)
		}
		f.Elevation = &z
	}
	return x.yield(f, nil)
}

func (x *expander) insert(e *entity, index int, m mat4, layer string, depth int) bool {
	name := e.str(2, "")
	blk, ok := x.doc.blocks[name]
	if !ok {
		return x.warn(index, fmt.Errorf("insert of unknown block %q: %w", name, domain.ErrMalformedRecord))
	}
	if depth >= maxInsertDepth {
		return x.warn(index, fmt.Errorf("block %q nested deeper than %d: %w", name, maxInsertDepth, domain.ErrMalformedRecord))
	}

	cols := max(1, e.integer(70, 1))
	rows := max(1, e.integer(71, 1))
	if cols*rows > maxInsertCells {
		return x.warn(index, fmt.Errorf("insert of %q with %d×%d cells: %w", name, cols, rows, domain.ErrMalformedRecord))
	}
	colSpacing := e.float(44, 0)
	rowSpacing := e.float(45, 0)

	pos := e.point(10)
	placement := translate(pos[0], pos[1], e.float(30, 0)).mul(rotateZ(e.float(50, 0)))
	scaling := scale(nonZero(e.float(41, 1)), nonZero(e.float(42, 1)), nonZero(e.float(43, 1))).
		mul(translate(-blk.base[0], -blk.base[1], 0))

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			// the cell offset lives in the rotated frame of the insert
			cell := placement.
				mul(translate(float64(c)*colSpacing, float64(r)*rowSpacing, 0)).
				mul(scaling)
			world := m.mul(cell)
			for _, child := range blk.entities {
				if x.budget <= 0 {
					return x.exhaust(index, name)
				}
				x.budget--
				if !x.expand(child, index, world, layer, name, depth+1) {
					return false
				}
			}
		}
	}
	return true
}

// exhaust reports the first insert that ran out of budget. Later inserts
// are skipped silently.
func (x *expander) exhaust(index int, name string) bool {
	if x.exhausted {
		return true
	}
	x.exhausted = true
	return x.warn(index, fmt.Errorf("insert of %q exceeds the block expansion limit: %w", name, domain.ErrMalformedRecord))
}

func (x *expander) attributes(e *entity, blockName string) domain.Attributes {
	attrs := domain.Attributes{
		"entityType": domain.String(e.kind),
	}
	if h := e.str(5, ""); h != "" {
		attrs["handle"] = domain.String(h)
	}
	if e.has(62) {
		attrs["color"] = domain.Number(float64(e.integer(62, 0)))
	}
	if blockName != "" {
		attrs["block"] = domain.String(blockName)
	}
	return attrs
}

func (x *expander) warn(index int, err error) bool {
	x.logger.Debug("skipping entity", "format", FormatName, "index", index, "error", err)
	return x.yield(nil, &domain.RecordError{Format: FormatName, Index: index, Err: err})
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
