package shapefile

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jobrunner/geopreview/internal/domain"
)

const (
	headerLength = 100
	fileCode     = 9994
	version      = 1000

	// maxContentWords bounds a single record's content length.
	maxContentWords = 1_000_000
	// maxParts and maxPoints bound the element counts of one record.
	maxParts  = 1_000_000
	maxPoints = 1_000_000
)

// Shape types.
const (
	shapeNull        = 0
	shapePoint       = 1
	shapePolyLine    = 3
	shapePolygon     = 5
	shapeMultiPoint  = 8
	shapePointZ      = 11
	shapePolyLineZ   = 13
	shapePolygonZ    = 15
	shapeMultiPointZ = 18
	shapePointM      = 21
	shapePolyLineM   = 23
	shapePolygonM    = 25
	shapeMultiPointM = 28
	shapeMultiPatch  = 31
)

// header is the fixed 100-byte main file header.
type header struct {
	FileLength int // bytes
	ShapeType  int
	Bounds     domain.Bounds
}

func parseHeader(data []byte) (*header, error) {
	if len(data) < headerLength {
		return nil, fmt.Errorf("buffer too small for header (got %d, need %d): %w",
			len(data), headerLength, domain.ErrInvalidHeader)
	}

	if code := int32(binary.BigEndian.Uint32(data[0:4])); code != fileCode {
		return nil, fmt.Errorf("incorrect file code (got %d, expected %d): %w",
			code, fileCode, domain.ErrInvalidHeader)
	}

	length := int(int32(binary.BigEndian.Uint32(data[24:28]))) * 2
	if length < headerLength || length > len(data) {
		return nil, fmt.Errorf("incorrect file length (got %d, buffer size %d): %w",
			length, len(data), domain.ErrInvalidHeader)
	}

	if v := int32(binary.LittleEndian.Uint32(data[28:32])); v != version {
		return nil, fmt.Errorf("unsupported version (got %d, expected %d): %w",
			v, version, domain.ErrInvalidHeader)
	}

	h := &header{
		FileLength: length,
		ShapeType:  int(int32(binary.LittleEndian.Uint32(data[32:36]))),
		Bounds: domain.Bounds{
			MinX: readFloat(data, 36),
			MinY: readFloat(data, 44),
			MaxX: readFloat(data, 52),
			MaxY: readFloat(data, 60),
		},
	}
	b := h.Bounds
	if !domain.IsFinite(b.MinX) || !domain.IsFinite(b.MinY) || !domain.IsFinite(b.MaxX) || !domain.IsFinite(b.MaxY) {
		return nil, fmt.Errorf("invalid bounding box (%v, %v, %v, %v): %w",
			b.MinX, b.MinY, b.MaxX, b.MaxY, domain.ErrInvalidHeader)
	}
	return h, nil
}

func readFloat(data []byte, offset int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(data[offset : offset+8]))
}

func readInt(data []byte, offset int) int {
	return int(int32(binary.LittleEndian.Uint32(data[offset : offset+4])))
}
