// Package domain contains the core business entities and value objects.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Units of a coordinate system.
type Units string

const (
	UnitsMeters  Units = "meters"
	UnitsDegrees Units = "degrees"
)

// Common coordinate system codes.
const (
	CodeWGS84        = "EPSG:4326"  // WGS 84
	CodeWebMercator  = "EPSG:3857"  // Web Mercator
	CodeLV95         = "EPSG:2056"  // CH1903+ / LV95
	CodeLV03         = "EPSG:21781" // CH1903 / LV03
	CodeETRS89UTM32N = "EPSG:25832" // ETRS89 / UTM zone 32N
	CodeETRS89UTM33N = "EPSG:25833" // ETRS89 / UTM zone 33N
	CodeDHDN3GK2     = "EPSG:31466" // DHDN / Gauß-Krüger zone 2
	CodeDHDN3GK3     = "EPSG:31467" // DHDN / Gauß-Krüger zone 3
	CodeWGS84UTM32N  = "EPSG:32632" // WGS 84 / UTM zone 32N
)

// CoordinateSystem describes a registered coordinate reference system.
type CoordinateSystem struct {
	Code       string          // Identifier, e.g. EPSG:2056
	Name       string          // Human-readable name
	Definition string          // proj4-style definition
	Units      Units           // meters or degrees
	Geographic bool            // lon/lat system
	Envelope   Bounds          // Valid coordinate envelope
	Pattern    *NumeralPattern // Conventional numeral pattern (optional)
	Aliases    []string        // Names used in WKT/prj content
}

// SRID returns the numeric part of an EPSG code, or 0.
func (c *CoordinateSystem) SRID() int {
	return ParseSRID(c.Code)
}

// PairKey canonicalizes an ordered pair of coordinate systems.
func PairKey(from, to string) string {
	return from + ":" + to
}

// CodeFromSRID formats a numeric EPSG id as code.
func CodeFromSRID(srid int) string {
	return fmt.Sprintf("EPSG:%d", srid)
}

// ParseSRID extracts the numeric id from "EPSG:n", "epsg:n",
// "urn:ogc:def:crs:EPSG::n" or a bare number. Returns 0 if none.
func ParseSRID(code string) int {
	s := strings.TrimSpace(code)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// NormalizeCode maps user input like "2056", "epsg:2056" or an OGC URN to
// the canonical "EPSG:n" form. CRS84 maps to WGS 84.
func NormalizeCode(code string) string {
	upper := strings.ToUpper(strings.TrimSpace(code))
	if upper == "" {
		return ""
	}
	if strings.HasSuffix(upper, "CRS84") {
		return CodeWGS84
	}
	if srid := ParseSRID(upper); srid > 0 {
		return CodeFromSRID(srid)
	}
	return upper
}

// AxisPattern describes the integer part of one axis: its digit count and
// the range of its leading digit.
type AxisPattern struct {
	MinDigits int
	MaxDigits int
	MinLead   int
	MaxLead   int
}

// Matches reports whether v fits the pattern.
func (a AxisPattern) Matches(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return false
	}
	digits := strconv.FormatInt(int64(v), 10)
	if len(digits) < a.MinDigits || len(digits) > a.MaxDigits {
		return false
	}
	lead := int(digits[0] - '0')
	return lead >= a.MinLead && lead <= a.MaxLead
}

// NumeralPattern is the conventional look of coordinates in a projected
// system, e.g. LV95 eastings are seven digits starting with 2.
type NumeralPattern struct {
	X AxisPattern
	Y AxisPattern
}

// Matches reports whether both axes of p fit the pattern.
func (n *NumeralPattern) Matches(p orb.Point) bool {
	return n.X.Matches(p[0]) && n.Y.Matches(p[1])
}

// Bounds represents an axis-aligned bounding box.
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// EmptyBounds returns the inverted, all-infinite box that means "no finite
// coordinate seen yet".
func EmptyBounds() Bounds {
	return Bounds{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

// NewBounds creates bounds from min/max values.
func NewBounds(minX, minY, maxX, maxY float64) Bounds {
	return Bounds{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// IsEmpty returns true if no finite coordinate was added.
func (b Bounds) IsEmpty() bool {
	return !IsFinite(b.MinX) || !IsFinite(b.MinY) || !IsFinite(b.MaxX) || !IsFinite(b.MaxY) ||
		b.MinX > b.MaxX || b.MinY > b.MaxY
}

// Extend grows the bounds to include p. Non-finite points are ignored.
func (b *Bounds) Extend(p orb.Point) {
	if !IsFinite(p[0]) || !IsFinite(p[1]) {
		return
	}
	b.MinX = math.Min(b.MinX, p[0])
	b.MinY = math.Min(b.MinY, p[1])
	b.MaxX = math.Max(b.MaxX, p[0])
	b.MaxY = math.Max(b.MaxY, p[1])
}

// Union returns the smallest bounds containing both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return Bounds{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Contains checks if a point is within the bounds.
func (b Bounds) Contains(p orb.Point) bool {
	return p[0] >= b.MinX && p[0] <= b.MaxX && p[1] >= b.MinY && p[1] <= b.MaxY
}

// Covers reports whether o lies inside b. Every b covers an empty o.
func (b Bounds) Covers(o Bounds) bool {
	if o.IsEmpty() {
		return true
	}
	return !b.IsEmpty() && o.MinX >= b.MinX && o.MinY >= b.MinY && o.MaxX <= b.MaxX && o.MaxY <= b.MaxY
}

// Width returns the width of the bounds.
func (b Bounds) Width() float64 {
	if b.IsEmpty() {
		return 0
	}
	return b.MaxX - b.MinX
}

// Height returns the height of the bounds.
func (b Bounds) Height() float64 {
	if b.IsEmpty() {
		return 0
	}
	return b.MaxY - b.MinY
}

// Area returns width times height.
func (b Bounds) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the center point of the bounds.
func (b Bounds) Center() orb.Point {
	return orb.Point{(b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2}
}

// Corners returns all four corners, counter-clockwise from min/min.
func (b Bounds) Corners() [4]orb.Point {
	return [4]orb.Point{
		{b.MinX, b.MinY},
		{b.MaxX, b.MinY},
		{b.MaxX, b.MaxY},
		{b.MinX, b.MaxY},
	}
}

// Bound converts to an orb.Bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

// BBox converts to a GeoJSON bbox, or nil when empty.
func (b Bounds) BBox() geojson.BBox {
	if b.IsEmpty() {
		return nil
	}
	return geojson.NewBBox(b.Bound())
}

// MarshalJSON encodes empty bounds as null.
func (b Bounds) MarshalJSON() ([]byte, error) {
	if b.IsEmpty() {
		return []byte("null"), nil
	}
	type plain Bounds
	return json.Marshal(plain(b))
}

// String returns a compact representation.
func (b Bounds) String() string {
	if b.IsEmpty() {
		return "BOUNDS(EMPTY)"
	}
	return fmt.Sprintf("BOUNDS(%f %f, %f %f)", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
