package domain

import (
	"encoding/json"
	"iter"
	"maps"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultLayer is the layer assigned to features that carry none.
const DefaultLayer = "0"

// Provenance property keys written on transformed features.
const (
	PropFromSystem  = "_fromSystem"
	PropToSystem    = "_toSystem"
	PropTransformed = "_transformed"
)

// ValueKind enumerates the scalar kinds an attribute can hold.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindNumber
	KindString
	KindBool
	KindDate
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	default:
		return "null"
	}
}

// Value is a closed scalar attribute value.
type Value struct {
	kind ValueKind
	num  float64
	str  string
	b    bool
	t    time.Time
}

// Null returns the null value.
func Null() Value { return Value{} }

// Number returns a numeric value.
func Number(v float64) Value { return Value{kind: KindNumber, num: v} }

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, str: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Date returns a date value.
func Date(v time.Time) Value { return Value{kind: KindDate, t: v} }

// ValueOf converts a decoded JSON/SQL scalar into a Value. Unsupported
// types are rendered as strings.
func ValueOf(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String())
		}
		return Number(f)
	case string:
		return String(x)
	case []byte:
		return String(string(x))
	case bool:
		return Bool(x)
	case time.Time:
		return Date(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return Null()
		}
		return String(string(b))
	}
}

// Kind returns the value kind.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull returns true for the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float returns the numeric value and whether v is a number.
func (v Value) Float() (float64, bool) { return v.num, v.kind == KindNumber }

// Text returns the string value and whether v is a string.
func (v Value) Text() (string, bool) { return v.str, v.kind == KindString }

// Boolean returns the bool value and whether v is a bool.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Time returns the date value and whether v is a date.
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindDate }

// Interface returns the plain Go value, as used in GeoJSON properties.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindDate:
		return v.t.Format("2006-01-02")
	default:
		return nil
	}
}

// String renders the value as text.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.t.Format("2006-01-02")
	default:
		return ""
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Attributes maps attribute names to scalar values.
type Attributes map[string]Value

// Provenance records the coordinate systems a feature was transformed
// between.
type Provenance struct {
	FromSystem  string
	ToSystem    string
	Transformed bool
}

// Feature is a geometry with attributes and a layer tag. Features are not
// modified after creation; transformations produce new features.
type Feature struct {
	ID         int64        // Sequence number within the source
	Layer      string       // Layer name (DefaultLayer if empty)
	Geometry   orb.Geometry // Geometry in the feature's coordinate system
	Elevation  *float64     // Z of point features (optional)
	Attributes Attributes   // Attribute data
	Provenance Provenance   // Transformation provenance
}

// FeatureSeq is a lazy sequence of features. A non-nil error paired with a
// nil feature reports a skipped record (recoverable) or a fatal failure,
// after which the sequence ends.
type FeatureSeq = iter.Seq2[*Feature, error]

// LayerName returns the layer, falling back to DefaultLayer.
func (f *Feature) LayerName() string {
	if f.Layer == "" {
		return DefaultLayer
	}
	return f.Layer
}

// Attribute returns an attribute value by key.
func (f *Feature) Attribute(key string) (Value, bool) {
	if f.Attributes == nil {
		return Null(), false
	}
	v, ok := f.Attributes[key]
	return v, ok
}

// Bounds computes the bounds of the feature geometry.
func (f *Feature) Bounds() Bounds {
	return BoundsOf(f.Geometry)
}

// Kind classifies the feature geometry for preview categorization.
func (f *Feature) Kind() GeometryKind {
	return KindOf(f.Geometry)
}

// Derive returns a copy of f carrying geometry g and the given provenance.
// Attributes are shared, since features are never mutated.
func (f *Feature) Derive(g orb.Geometry, prov Provenance) *Feature {
	return &Feature{
		ID:         f.ID,
		Layer:      f.Layer,
		Geometry:   g,
		Elevation:  f.Elevation,
		Attributes: f.Attributes,
		Provenance: prov,
	}
}

// WithAttributes returns a copy of f whose attributes also contain extra.
func (f *Feature) WithAttributes(extra Attributes) *Feature {
	merged := make(Attributes, len(f.Attributes)+len(extra))
	maps.Copy(merged, f.Attributes)
	maps.Copy(merged, extra)
	out := *f
	out.Attributes = merged
	return &out
}

// GeoJSON converts the feature to a GeoJSON feature. The layer, elevation
// and provenance are exposed as properties.
func (f *Feature) GeoJSON() *geojson.Feature {
	gf := geojson.NewFeature(f.Geometry)
	gf.ID = f.ID
	for k, v := range f.Attributes {
		gf.Properties[k] = v.Interface()
	}
	gf.Properties["layer"] = f.LayerName()
	if f.Elevation != nil {
		gf.Properties["elevation"] = *f.Elevation
	}
	if f.Provenance.Transformed {
		gf.Properties[PropFromSystem] = f.Provenance.FromSystem
		gf.Properties[PropToSystem] = f.Provenance.ToSystem
		gf.Properties[PropTransformed] = true
	}
	return gf
}
