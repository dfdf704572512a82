package application

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geopreview/internal/domain"
)

// Categorizer buckets features into the point, line and polygon
// collections of a preview and keeps a bounding box per collection.
type Categorizer struct {
	out      *domain.PreviewCollection
	points   domain.Bounds
	lines    domain.Bounds
	polygons domain.Bounds
}

// NewCategorizer creates a categorizer filling out.
func NewCategorizer(out *domain.PreviewCollection) *Categorizer {
	return &Categorizer{
		out:      out,
		points:   domain.EmptyBounds(),
		lines:    domain.EmptyBounds(),
		polygons: domain.EmptyBounds(),
	}
}

// Add buckets f. Collections are split into their members, which keep the
// properties of f. A feature without usable geometry is skipped with a
// warning; Add reports whether anything was added.
func (c *Categorizer) Add(f *domain.Feature) bool {
	if f == nil || f.Geometry == nil {
		c.out.Warnings.Add("feature without geometry skipped")
		return false
	}

	if coll, ok := f.Geometry.(orb.Collection); ok {
		added := false
		for _, g := range coll {
			if g == nil {
				continue
			}
			added = c.Add(f.Derive(g, f.Provenance)) || added
		}
		if !added {
			c.out.Warnings.Addf("feature %d: empty geometry collection skipped", f.ID)
		}
		return added
	}

	var (
		fc     *geojson.FeatureCollection
		bounds *domain.Bounds
	)
	switch domain.KindOf(f.Geometry) {
	case domain.KindPoint:
		fc, bounds = c.out.Points, &c.points
	case domain.KindLine:
		fc, bounds = c.out.Lines, &c.lines
	case domain.KindPolygon:
		fc, bounds = c.out.Polygons, &c.polygons
	default:
		c.out.Warnings.Addf("feature %d: unsupported geometry %T skipped", f.ID, f.Geometry)
		return false
	}

	fb := f.Bounds()
	if fb.IsEmpty() {
		c.out.Warnings.Addf("feature %d: geometry without finite coordinates skipped", f.ID)
		return false
	}

	fc.Append(f.GeoJSON())
	*bounds = bounds.Union(fb)
	c.out.Bounds = c.out.Bounds.Union(fb)
	return true
}

// Finish sets the bounding box of each non-empty collection.
func (c *Categorizer) Finish() {
	setBBox(c.out.Points, c.points)
	setBBox(c.out.Lines, c.lines)
	setBBox(c.out.Polygons, c.polygons)
}

func setBBox(fc *geojson.FeatureCollection, b domain.Bounds) {
	if b.IsEmpty() {
		fc.BBox = nil
		return
	}
	fc.BBox = b.BBox()
}
