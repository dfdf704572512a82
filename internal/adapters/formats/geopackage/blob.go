package geopackage

import (
	"encoding/binary"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/geopreview/internal/domain"
)

const (
	flagLittleEndian = 0x01
	flagEnvelope     = 0x0E
	flagEmpty        = 0x10
)

// envelopeSizes maps the envelope indicator to its byte size.
var envelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// decodeBlob decodes a GeoPackage geometry blob: the "GP" header with
// optional envelope followed by standard WKB. Empty geometries decode
// to nil.
func decodeBlob(blob []byte) (orb.Geometry, int, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, 0, fmt.Errorf("missing GP header: %w", domain.ErrMalformedRecord)
	}

	flags := blob[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittleEndian != 0 {
		order = binary.LittleEndian
	}
	srsID := int(int32(order.Uint32(blob[4:8])))

	envSize, ok := envelopeSizes[(flags&flagEnvelope)>>1]
	if !ok {
		return nil, srsID, fmt.Errorf("invalid envelope indicator in flags %#x: %w", flags, domain.ErrMalformedRecord)
	}
	if flags&flagEmpty != 0 {
		return nil, srsID, nil
	}

	start := 8 + envSize
	if len(blob) <= start {
		return nil, srsID, fmt.Errorf("geometry blob truncated: %w", domain.ErrMalformedRecord)
	}
	g, err := wkb.Unmarshal(blob[start:])
	if err != nil {
		return nil, srsID, fmt.Errorf("decoding wkb: %v: %w", err, domain.ErrMalformedRecord)
	}
	return g, srsID, nil
}

// encodeBlob wraps a geometry into a GeoPackage blob without envelope.
func encodeBlob(g orb.Geometry, srsID int) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	blob := make([]byte, 8, 8+len(body))
	blob[0], blob[1] = 'G', 'P'
	blob[3] = flagLittleEndian
	binary.LittleEndian.PutUint32(blob[4:8], uint32(int32(srsID)))
	return append(blob, body...), nil
}
