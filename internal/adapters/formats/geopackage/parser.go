// Package geopackage reads OGC GeoPackage files with SQLite.
package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/geopreview/internal/adapters/formats"
	"github.com/jobrunner/geopreview/internal/domain"
)

// FormatName is the name of the GeoPackage format.
const FormatName = "geopackage"

// driverName is the read-only SQLite driver.
const driverName = "sqlite3_geopreview_readonly"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			_, err := conn.Exec("PRAGMA query_only = ON", nil)
			return err
		},
	})
}

// layer is a feature table registered in gpkg_contents.
type layer struct {
	Name           string
	GeometryColumn string
	GeometryType   string
	SRSID          int
	FeatureCount   int
	Extent         domain.Bounds // empty when gpkg_contents leaves it unset
}

// Parser reads GeoPackages. SQLite needs a file, so the buffer is spooled
// to a temporary file for the duration of a read.
type Parser struct {
	logger  *slog.Logger
	tempDir string
}

// NewParser creates a GeoPackage parser. An empty tempDir uses the system
// default.
func NewParser(logger *slog.Logger, tempDir string) *Parser {
	return &Parser{logger: logger, tempDir: tempDir}
}

// Name returns the format name.
func (p *Parser) Name() string {
	return FormatName
}

// Extensions returns the main file extensions.
func (p *Parser) Extensions() []string {
	return []string{".gpkg"}
}

// CanHandle reports whether name is a GeoPackage.
func (p *Parser) CanHandle(name, mimeHint string) bool {
	return formats.HasExtension(name, ".gpkg") || mimeHint == "application/geopackage+sqlite3"
}

// Analyze reads the layer list, the coordinate system of the first layer
// and a prefix of features.
func (p *Parser) Analyze(ctx context.Context, src *domain.Source) (*domain.Analysis, error) {
	var (
		layers []layer
		crs    string
	)
	err := p.withDB(ctx, src, func(db *sql.DB) error {
		var err error
		if layers, err = readLayers(ctx, db); err != nil {
			return err
		}
		if len(layers) > 0 {
			crs = readCRS(ctx, db, layers[0].SRSID)
		}
		return nil
	})
	if err != nil {
		return nil, p.formatError(ctx, src, err)
	}

	a, err := formats.Analyze(ctx, FormatName, p.Stream(ctx, src, domain.ReadOptions{}), formats.DefaultAnalyzeLimit)
	if err != nil {
		return nil, err
	}
	a.CRSMetadata = crs
	if extent, ok := declaredExtent(layers); ok {
		a.Extent = extent.Union(a.Bounds)
	}

	declared := make([]domain.LayerInfo, 0, len(layers))
	for _, l := range layers {
		declared = append(declared, domain.LayerInfo{Name: l.Name, Visible: true})
	}
	formats.MergeLayers(a, declared)
	for _, l := range layers {
		if info, ok := a.Layer(l.Name); ok {
			// the table count is exact, the sample is not
			info.FeatureCount = l.FeatureCount
		}
	}
	return a, nil
}

// Stream yields the features of all layers in gpkg_contents order.
func (p *Parser) Stream(ctx context.Context, src *domain.Source, opts domain.ReadOptions) domain.FeatureSeq {
	return formats.Limit(func(yield func(*domain.Feature, error) bool) {
		stopped := false
		err := p.withDB(ctx, src, func(db *sql.DB) error {
			layers, err := readLayers(ctx, db)
			if err != nil {
				return err
			}
			for _, l := range layers {
				if !p.streamLayer(ctx, db, l, yield) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(nil, p.formatError(ctx, src, err))
		}
	}, opts.MaxRecords)
}

func (p *Parser) formatError(ctx context.Context, src *domain.Source, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &domain.FormatError{Format: FormatName, File: src.Main.Name, Err: err}
}

// withDB spools the buffer to a temporary file and opens it read-only.
func (p *Parser) withDB(ctx context.Context, src *domain.Source, fn func(*sql.DB) error) error {
	f, err := os.CreateTemp(p.tempDir, "geopreview-*.gpkg")
	if err != nil {
		return fmt.Errorf("spooling: %w", err)
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()

	if _, err := f.Write(src.Main.Data); err != nil {
		_ = f.Close()
		return fmt.Errorf("spooling: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("spooling: %w", err)
	}

	db, err := sql.Open(driverName, fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("opening database: %v: %w", err, domain.ErrInvalidHeader)
	}
	return fn(db)
}

// readLayers reads feature tables from gpkg_contents.
func readLayers(ctx context.Context, db *sql.DB) ([]layer, error) {
	query := `
		SELECT
			c.table_name,
			g.column_name,
			g.geometry_type_name,
			g.srs_id,
			c.min_x,
			c.min_y,
			c.max_x,
			c.max_y
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading layers: %v: %w", err, domain.ErrInvalidHeader)
	}
	defer func() { _ = rows.Close() }()

	var layers []layer
	for rows.Next() {
		var (
			l                      layer
			minX, minY, maxX, maxY sql.NullFloat64
		)
		if err := rows.Scan(&l.Name, &l.GeometryColumn, &l.GeometryType, &l.SRSID,
			&minX, &minY, &maxX, &maxY); err != nil {
			return nil, fmt.Errorf("scanning layer: %w", err)
		}
		l.Extent = domain.EmptyBounds()
		if minX.Valid && minY.Valid && maxX.Valid && maxY.Valid {
			l.Extent = domain.NewBounds(minX.Float64, minY.Float64, maxX.Float64, maxY.Float64)
		}
		layers = append(layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range layers {
		countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, quoteIdent(layers[i].Name)) //#nosec G201 -- table name from gpkg_contents
		_ = db.QueryRowContext(ctx, countQuery).Scan(&layers[i].FeatureCount)
	}
	return layers, nil
}

// readCRS returns "EPSG:n" for EPSG-registered systems, the WKT definition
// otherwise.
func readCRS(ctx context.Context, db *sql.DB, srsID int) string {
	if srsID <= 0 {
		return ""
	}
	var org, definition string
	var orgID int
	err := db.QueryRowContext(ctx,
		`SELECT organization, organization_coordsys_id, definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?`,
		srsID,
	).Scan(&org, &orgID, &definition)
	if err != nil {
		return domain.CodeFromSRID(srsID)
	}
	if strings.EqualFold(org, "EPSG") && orgID > 0 {
		return domain.CodeFromSRID(orgID)
	}
	if d := strings.TrimSpace(definition); d != "" && !strings.EqualFold(d, "undefined") {
		return d
	}
	return domain.CodeFromSRID(srsID)
}

// streamLayer yields the rows of one layer. It returns false when the
// consumer stopped.
func (p *Parser) streamLayer(ctx context.Context, db *sql.DB, l layer, yield func(*domain.Feature, error) bool) bool {
	query := fmt.Sprintf(`SELECT * FROM "%s"`, quoteIdent(l.Name)) //#nosec G201 -- table name from gpkg_contents
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return yield(nil, &domain.RecordError{Format: FormatName, Index: 0,
			Err: fmt.Errorf("layer %s: %v: %w", l.Name, err, domain.ErrMalformedRecord)})
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return yield(nil, err)
	}

	for index := 0; rows.Next(); index++ {
		f, err := scanFeature(rows, columns, l)
		if err != nil {
			p.logger.Debug("skipping row", "format", FormatName, "layer", l.Name, "index", index, "error", err)
			if !yield(nil, &domain.RecordError{Format: FormatName, Index: index, Err: err}) {
				return false
			}
			continue
		}
		if f == nil {
			continue
		}
		if f.ID == 0 {
			f.ID = int64(index + 1)
		}
		if !yield(f, nil) {
			return false
		}
	}
	if err := rows.Err(); err != nil {
		return yield(nil, err)
	}
	return true
}

// scanFeature scans a row into a Feature. Rows with an empty geometry
// return nil.
func scanFeature(rows *sql.Rows, columns []string, l layer) (*domain.Feature, error) {
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, err
	}

	f := &domain.Feature{
		Layer:      l.Name,
		Attributes: make(domain.Attributes, len(columns)),
	}
	for i, col := range columns {
		switch {
		case strings.EqualFold(col, l.GeometryColumn):
			blob, ok := values[i].([]byte)
			if !ok || blob == nil {
				return nil, nil
			}
			g, _, err := decodeBlob(blob)
			if err != nil {
				return nil, err
			}
			if g == nil {
				return nil, nil
			}
			if f.Geometry = domain.CleanGeometry(g); f.Geometry == nil {
				return nil, fmt.Errorf("geometry has no valid coordinates: %w", domain.ErrInvalidCoordinate)
			}
		case strings.EqualFold(col, "fid"):
			if v, ok := values[i].(int64); ok {
				f.ID = v
			}
		default:
			if b, ok := values[i].([]byte); ok && !utf8.Valid(b) {
				continue
			}
			f.Attributes[col] = domain.ValueOf(values[i])
		}
	}
	return f, nil
}

func quoteIdent(name string) string {
	return strings.ReplaceAll(name, `"`, `""`)
}

// declaredExtent unions the gpkg_contents extents of all layers. It fails
// when a layer has no extent or uses another coordinate system than the
// first one.
func declaredExtent(layers []layer) (domain.Bounds, bool) {
	extent := domain.EmptyBounds()
	if len(layers) == 0 {
		return extent, false
	}
	for _, l := range layers {
		if l.Extent.IsEmpty() || l.SRSID != layers[0].SRSID {
			return extent, false
		}
		extent = extent.Union(l.Extent)
	}
	return extent, true
}
