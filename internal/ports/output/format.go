package output

import (
	"context"

	"github.com/jobrunner/geopreview/internal/domain"
)

// FormatParser defines the secondary port for file format readers.
type FormatParser interface {
	// Name returns the format name (shapefile, dxf, ...).
	Name() string

	// Extensions returns the main file extensions, lower-case with dot.
	Extensions() []string

	// CanHandle reports whether the parser reads the named file.
	CanHandle(name, mimeHint string) bool

	// Analyze reads metadata and a bounded prefix of records.
	Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error)

	// Stream lazily reads all records. Per-record problems are yielded as
	// recoverable errors; a fatal error ends the sequence.
	Stream(ctx context.Context, src *domain.Source, opts domain.ReadOptions) domain.FeatureSeq
}

// FormatCatalog defines the secondary port for parser selection.
type FormatCatalog interface {
	// Find returns the parser handling the named file.
	Find(name, mimeHint string) (FormatParser, error)

	// MainExtensions returns the main file extensions of all parsers.
	MainExtensions() []string
}
