package openstreetmap

import (
	"github.com/paulmach/osm"
)

// metadataKeys do not make an object a feature on their own.
var metadataKeys = map[string]bool{
	"created_by": true,
	"source":     true,
	"note":       true,
	"fixme":      true,
	"FIXME":      true,
}

// primaryKeys name the layer of an object, in priority order.
var primaryKeys = []string{
	"building", "highway", "railway", "waterway", "landuse", "natural",
	"amenity", "leisure", "shop", "tourism", "man_made", "boundary",
	"place", "barrier", "power", "aeroway",
}

// areaKeys decide whether a closed way is a polygon.
var areaKeys = map[string]bool{
	"building": true,
	"landuse":  true,
	"natural":  true,
	"leisure":  true,
	"amenity":  true,
	"shop":     true,
	"tourism":  true,
	"man_made": true,
	"waterway": false,
	"highway":  false,
	"barrier":  false,
	"railway":  false,
}

func hasMeaningfulTags(tags osm.Tags) bool {
	for _, tag := range tags {
		if !metadataKeys[tag.Key] {
			return true
		}
	}
	return false
}

// layerOf returns the primary tag key, or the first non-metadata key.
func layerOf(tags osm.Tags) string {
	for _, key := range primaryKeys {
		if hasKey(tags, key) {
			return key
		}
	}
	for _, tag := range tags {
		if !metadataKeys[tag.Key] {
			return tag.Key
		}
	}
	return untaggedLayer
}

// isArea reports whether a closed way should be a polygon. An explicit
// area tag wins.
func isArea(tags osm.Tags) bool {
	if v := tags.Find("area"); v != "" {
		return v == "yes"
	}
	for _, tag := range tags {
		if area, ok := areaKeys[tag.Key]; ok {
			return area
		}
	}
	return false
}

func hasKey(tags osm.Tags, key string) bool {
	for _, tag := range tags {
		if tag.Key == key {
			return true
		}
	}
	return false
}
