package shapefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/jobrunner/geopreview/internal/domain"
)

const (
	dbfHeaderSize     = 32
	dbfFieldSize      = 32
	dbfTerminator     = 0x0D
	dbfDeletedFlag    = '*'
	dbfFieldNameBytes = 11
)

type dbfField struct {
	Name     string
	Type     byte
	Length   int
	Decimals int
}

// dbfTable is a dBase III attribute table.
type dbfTable struct {
	fields     []dbfField
	numRecords int
	headerLen  int
	recordLen  int
	data       []byte
	decoder    *encoding.Decoder // nil decodes UTF-8, falling back to Latin-1
}

func parseDBF(data []byte, decoder *encoding.Decoder) (*dbfTable, error) {
	if len(data) < dbfHeaderSize+1 {
		return nil, fmt.Errorf("dbf header truncated (%d bytes): %w", len(data), domain.ErrInvalidHeader)
	}

	t := &dbfTable{
		numRecords: int(binary.LittleEndian.Uint32(data[4:8])),
		headerLen:  int(binary.LittleEndian.Uint16(data[8:10])),
		recordLen:  int(binary.LittleEndian.Uint16(data[10:12])),
		data:       data,
		decoder:    decoder,
	}
	if t.headerLen > len(data) || t.recordLen < 1 {
		return nil, fmt.Errorf("dbf header length %d, record length %d: %w",
			t.headerLen, t.recordLen, domain.ErrInvalidHeader)
	}

	width := 1 // deletion flag
	for off := dbfHeaderSize; off+dbfFieldSize <= t.headerLen && data[off] != dbfTerminator; off += dbfFieldSize {
		desc := data[off : off+dbfFieldSize]
		name := desc[:dbfFieldNameBytes]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		f := dbfField{
			Name:     strings.TrimSpace(t.decode(name)),
			Type:     desc[11],
			Length:   int(desc[16]),
			Decimals: int(desc[17]),
		}
		width += f.Length
		t.fields = append(t.fields, f)
	}
	if width > t.recordLen {
		return nil, fmt.Errorf("dbf fields need %d bytes, record length is %d: %w",
			width, t.recordLen, domain.ErrInvalidHeader)
	}
	return t, nil
}

// Row returns the attributes of record i. Deleted rows report deleted.
func (t *dbfTable) Row(i int) (attrs domain.Attributes, deleted bool, err error) {
	if i < 0 || i >= t.numRecords {
		return nil, false, fmt.Errorf("dbf row %d of %d: %w", i, t.numRecords, domain.ErrMalformedRecord)
	}
	start := t.headerLen + i*t.recordLen
	if start+t.recordLen > len(t.data) {
		return nil, false, fmt.Errorf("dbf row %d truncated: %w", i, domain.ErrMalformedRecord)
	}
	rec := t.data[start : start+t.recordLen]
	if rec[0] == dbfDeletedFlag {
		return nil, true, nil
	}

	attrs = make(domain.Attributes, len(t.fields))
	off := 1
	for _, f := range t.fields {
		attrs[f.Name] = t.value(f, rec[off:off+f.Length])
		off += f.Length
	}
	return attrs, false, nil
}

func (t *dbfTable) value(f dbfField, raw []byte) domain.Value {
	switch f.Type {
	case 'N', 'F':
		s := strings.TrimSpace(string(raw))
		if s == "" || strings.Trim(s, "*") == "" {
			return domain.Null()
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Null()
		}
		return domain.Number(v)
	case 'L':
		switch strings.TrimSpace(string(raw)) {
		case "Y", "y", "T", "t":
			return domain.Bool(true)
		case "N", "n", "F", "f":
			return domain.Bool(false)
		default:
			return domain.Null()
		}
	case 'D':
		s := strings.TrimSpace(string(raw))
		d, err := time.Parse("20060102", s)
		if err != nil {
			return domain.Null()
		}
		return domain.Date(d)
	default:
		s := strings.TrimRight(t.decode(raw), " \x00")
		if s == "" {
			return domain.Null()
		}
		return domain.String(s)
	}
}

func (t *dbfTable) decode(raw []byte) string {
	if t.decoder != nil {
		if out, err := t.decoder.Bytes(raw); err == nil {
			return string(out)
		}
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	return string(out)
}

// codePageDecoder maps the content of a .cpg file to a decoder. UTF-8 and
// unknown code pages return nil.
func codePageDecoder(cpg string) *encoding.Decoder {
	cp := strings.ToUpper(strings.TrimSpace(cpg))
	switch {
	case cp == "", strings.Contains(cp, "UTF"):
		return nil
	case strings.Contains(cp, "1252"):
		return charmap.Windows1252.NewDecoder()
	case strings.Contains(cp, "8859-15"), strings.Contains(cp, "885915"):
		return charmap.ISO8859_15.NewDecoder()
	case strings.Contains(cp, "8859"), strings.Contains(cp, "LATIN"):
		return charmap.ISO8859_1.NewDecoder()
	case strings.Contains(cp, "850"):
		return charmap.CodePage850.NewDecoder()
	case strings.Contains(cp, "437"):
		return charmap.CodePage437.NewDecoder()
	default:
		return nil
	}
}
