package dxf

import (
	"bufio"
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopreview/internal/domain"
)

// pair is one group code / value pair.
type pair struct {
	code  int
	value string
}

func readPairs(data []byte) ([]pair, error) {
	if bytes.HasPrefix(data, []byte("AutoCAD Binary DXF")) {
		return nil, fmt.Errorf("binary DXF: %w", domain.ErrUnsupportedFormat)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var pairs []pair
	line := 0
	for sc.Scan() {
		line++
		codeLine := strings.TrimSpace(sc.Text())
		if !sc.Scan() {
			if codeLine == "" {
				break
			}
			return nil, fmt.Errorf("line %d: group code %q without value: %w", line, codeLine, domain.ErrInvalidHeader)
		}
		line++
		code, err := strconv.Atoi(codeLine)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid group code %q: %w", line-1, codeLine, domain.ErrInvalidHeader)
		}
		pairs = append(pairs, pair{code: code, value: strings.TrimSpace(sc.Text())})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %v: %w", line, err, domain.ErrInvalidHeader)
	}
	return pairs, nil
}

// entity is a raw entity record. POLYLINE collects its VERTEX records and
// INSERT its ATTRIB records as children.
type entity struct {
	kind     string
	pairs    []pair
	children []*entity
}

func (e *entity) str(code int, def string) string {
	for _, p := range e.pairs {
		if p.code == code {
			return p.value
		}
	}
	return def
}

func (e *entity) float(code int, def float64) float64 {
	for _, p := range e.pairs {
		if p.code == code {
			if v, err := strconv.ParseFloat(p.value, 64); err == nil {
				return v
			}
			return def
		}
	}
	return def
}

func (e *entity) integer(code int, def int) int {
	for _, p := range e.pairs {
		if p.code == code {
			if v, err := strconv.Atoi(p.value); err == nil {
				return v
			}
			return def
		}
	}
	return def
}

func (e *entity) has(code int) bool {
	for _, p := range e.pairs {
		if p.code == code {
			return true
		}
	}
	return false
}

func (e *entity) layer() string {
	return e.str(8, domain.DefaultLayer)
}

func (e *entity) point(xCode int) orb.Point {
	return orb.Point{e.float(xCode, 0), e.float(xCode+10, 0)}
}

// vertices returns the repeated 10/20 pairs in order.
func (e *entity) vertices() []orb.Point {
	var pts []orb.Point
	for _, p := range e.pairs {
		v, err := strconv.ParseFloat(p.value, 64)
		if err != nil {
			continue
		}
		switch p.code {
		case 10:
			pts = append(pts, orb.Point{v, 0})
		case 20:
			if len(pts) > 0 {
				pts[len(pts)-1][1] = v
			}
		}
	}
	return pts
}

type layerDef struct {
	name  string
	flags int
	color int
}

func (l layerDef) info() domain.LayerInfo {
	color := l.color
	if color < 0 {
		color = -color
	}
	return domain.LayerInfo{
		Name:    l.name,
		Visible: l.color >= 0 && l.flags&layerFrozen == 0,
		Locked:  l.flags&layerLocked != 0,
		Color:   color,
	}
}

const (
	layerFrozen = 1
	layerLocked = 4
)

type block struct {
	name     string
	base     orb.Point
	entities []*entity
}

// document is a parsed drawing.
type document struct {
	header   map[string]string
	layers   []layerDef
	blocks   map[string]*block
	entities []*entity
}

func parseDocument(data []byte) (*document, error) {
	pairs, err := readPairs(data)
	if err != nil {
		return nil, err
	}

	doc := &document{
		header: make(map[string]string),
		blocks: make(map[string]*block),
	}

	sections := 0
	i := 0
	for i < len(pairs) {
		p := pairs[i]
		if p.code == 0 && p.value == "EOF" {
			break
		}
		if p.code != 0 || p.value != "SECTION" {
			i++
			continue
		}
		sections++
		i++
		name := ""
		if i < len(pairs) && pairs[i].code == 2 {
			name = pairs[i].value
			i++
		}
		end := sectionEnd(pairs, i)
		body := pairs[i:end]

		switch name {
		case "HEADER":
			doc.parseHeader(body)
		case "TABLES":
			doc.parseTables(body)
		case "BLOCKS":
			doc.parseBlocks(body)
		case "ENTITIES":
			doc.entities = readEntities(body)
		}
		i = end + 1
	}

	if sections == 0 {
		return nil, fmt.Errorf("no SECTION found: %w", domain.ErrInvalidHeader)
	}
	return doc, nil
}

func sectionEnd(pairs []pair, from int) int {
	for i := from; i < len(pairs); i++ {
		if pairs[i].code == 0 && pairs[i].value == "ENDSEC" {
			return i
		}
	}
	return len(pairs)
}

func (d *document) parseHeader(body []pair) {
	for i := 0; i < len(body); i++ {
		if body[i].code == 9 && i+1 < len(body) {
			d.header[body[i].value] = body[i+1].value
		}
	}
}

func (d *document) parseTables(body []pair) {
	for _, rec := range splitRecords(body) {
		if rec.kind != "LAYER" || !rec.has(2) {
			continue
		}
		d.layers = append(d.layers, layerDef{
			name:  rec.str(2, ""),
			flags: rec.integer(70, 0),
			color: rec.integer(62, 7),
		})
	}
}

func (d *document) parseBlocks(body []pair) {
	records := splitRecords(body)
	for i := 0; i < len(records); i++ {
		if records[i].kind != "BLOCK" {
			continue
		}
		blk := &block{
			name: records[i].str(2, ""),
			base: records[i].point(10),
		}
		j := i + 1
		for j < len(records) && records[j].kind != "ENDBLK" {
			j++
		}
		blk.entities = groupEntities(records[i+1 : j])
		d.blocks[blk.name] = blk
		i = j
	}
}

// splitRecords cuts pairs at every group code 0.
func splitRecords(body []pair) []*entity {
	var records []*entity
	var cur *entity
	for _, p := range body {
		if p.code == 0 {
			cur = &entity{kind: p.value}
			records = append(records, cur)
			continue
		}
		if cur != nil {
			cur.pairs = append(cur.pairs, p)
		}
	}
	return records
}

func readEntities(body []pair) []*entity {
	return groupEntities(splitRecords(body))
}

// groupEntities attaches VERTEX and ATTRIB records to their owner up to the
// closing SEQEND.
func groupEntities(records []*entity) []*entity {
	var out []*entity
	for i := 0; i < len(records); i++ {
		e := records[i]
		owner := e.kind == "POLYLINE" || (e.kind == "INSERT" && e.integer(66, 0) == 1)
		out = append(out, e)
		if !owner {
			continue
		}
		for i+1 < len(records) {
			next := records[i+1]
			if next.kind == "SEQEND" {
				i++
				break
			}
			if next.kind != "VERTEX" && next.kind != "ATTRIB" {
				break
			}
			e.children = append(e.children, next)
			i++
		}
	}
	return out
}

// layerInfos returns the declared layers followed by layers only referenced
// by entities. The default layer is always present.
func (d *document) layerInfos() []domain.LayerInfo {
	var infos []domain.LayerInfo
	seen := make(map[string]bool)
	add := func(info domain.LayerInfo) {
		if !seen[info.Name] {
			seen[info.Name] = true
			infos = append(infos, info)
		}
	}

	hasDefault := false
	for _, l := range d.layers {
		if l.name == domain.DefaultLayer {
			hasDefault = true
		}
	}
	if !hasDefault {
		add(domain.LayerInfo{Name: domain.DefaultLayer, Visible: true, Color: 7})
	}
	for _, l := range d.layers {
		add(l.info())
	}

	implicit := func(entities []*entity) {
		for _, e := range entities {
			add(domain.LayerInfo{Name: e.layer(), Visible: true})
		}
	}
	implicit(d.entities)
	for _, name := range d.blockNames() {
		implicit(d.blocks[name].entities)
	}
	return infos
}

func (d *document) blockNames() []string {
	names := make([]string, 0, len(d.blocks))
	for name := range d.blocks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
