// Package formats holds the shared parts of the file format readers.
package formats

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

// DefaultAnalyzeLimit is the number of records Analyze reads.
const DefaultAnalyzeLimit = 1000

// Set is an ordered list of format parsers.
type Set struct {
	parsers []output.FormatParser
}

// NewSet creates a parser set. The first parser that can handle a file wins.
func NewSet(parsers ...output.FormatParser) *Set {
	return &Set{parsers: parsers}
}

// Parsers returns all parsers in order.
func (s *Set) Parsers() []output.FormatParser {
	return slices.Clone(s.parsers)
}

// Find returns the parser for a file.
func (s *Set) Find(name, mimeHint string) (output.FormatParser, error) {
	for _, p := range s.parsers {
		if p.CanHandle(name, mimeHint) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, domain.ErrUnsupportedFormat)
}

// ByName returns the parser with the given format name.
func (s *Set) ByName(name string) (output.FormatParser, bool) {
	for _, p := range s.parsers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// MainExtensions returns the main file extensions of all parsers.
func (s *Set) MainExtensions() []string {
	var exts []string
	for _, p := range s.parsers {
		for _, ext := range p.Extensions() {
			if !slices.Contains(exts, ext) {
				exts = append(exts, ext)
			}
		}
	}
	return exts
}

// HasExtension reports whether name ends with one of exts, compared
// case-insensitively.
func HasExtension(name string, exts ...string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Analyze consumes at most limit features of seq and summarizes them.
// Recoverable errors become warnings; any other error is returned.
func Analyze(ctx context.Context, format string, seq domain.FeatureSeq, limit int) (*domain.Analysis, error) {
	if limit <= 0 {
		limit = DefaultAnalyzeLimit
	}

	a := &domain.Analysis{
		Format: format,
		Bounds: domain.EmptyBounds(),
	}
	layers := make(map[string]int)

	for f, err := range seq {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			if domain.IsRecoverable(err) {
				a.Warnings.AddError(err)
				continue
			}
			return nil, err
		}
		if len(a.Sample) >= limit {
			a.Truncated = true
			break
		}

		a.Sample = append(a.Sample, f)
		a.Bounds = a.Bounds.Union(f.Bounds())

		name := f.LayerName()
		idx, ok := layers[name]
		if !ok {
			idx = len(a.Layers)
			layers[name] = idx
			a.Layers = append(a.Layers, domain.LayerInfo{Name: name, Visible: true})
		}
		info := &a.Layers[idx]
		info.FeatureCount++
		if kind := f.Kind(); kind != "" && !slices.Contains(info.GeometryKinds, kind) {
			info.GeometryKinds = append(info.GeometryKinds, kind)
		}
	}

	a.FeatureCount = len(a.Sample)
	a.Extent = domain.EmptyBounds()
	if !a.Truncated {
		a.Extent = a.Bounds
	}
	return a, nil
}

// MergeLayers puts declared layers first, in their declared order, and
// fills in the counts observed in a. Layers only seen in records follow.
func MergeLayers(a *domain.Analysis, declared []domain.LayerInfo) {
	observed := a.Layers
	merged := make([]domain.LayerInfo, 0, len(declared)+len(observed))
	seen := make(map[string]bool, len(declared))

	for _, l := range declared {
		if seen[l.Name] {
			continue
		}
		seen[l.Name] = true
		if o, ok := findLayer(observed, l.Name); ok {
			l.FeatureCount = o.FeatureCount
			l.GeometryKinds = o.GeometryKinds
		}
		merged = append(merged, l)
	}
	for _, o := range observed {
		if !seen[o.Name] {
			seen[o.Name] = true
			merged = append(merged, o)
		}
	}
	a.Layers = merged
}

func findLayer(layers []domain.LayerInfo, name string) (domain.LayerInfo, bool) {
	for _, l := range layers {
		if l.Name == name {
			return l, true
		}
	}
	return domain.LayerInfo{}, false
}

// Limit stops seq after maxRecords features; 0 means no limit.
func Limit(seq domain.FeatureSeq, maxRecords int) domain.FeatureSeq {
	if maxRecords <= 0 {
		return seq
	}
	return func(yield func(*domain.Feature, error) bool) {
		n := 0
		for f, err := range seq {
			if err == nil {
				if n >= maxRecords {
					return
				}
				n++
			}
			if !yield(f, err) {
				return
			}
		}
	}
}

// Fail returns a sequence yielding only err.
func Fail(err error) domain.FeatureSeq {
	return func(yield func(*domain.Feature, error) bool) {
		yield(nil, err)
	}
}
