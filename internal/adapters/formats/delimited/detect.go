package delimited

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"strings"
)

// candidates are the delimiters tried, in order of preference.
var candidates = []rune{',', ';', '\t', '|'}

// sniffLines is the number of leading lines used for delimiter detection.
const sniffLines = 10

// Column aliases, matched case-insensitively against header names.
var (
	xAliases = []string{"longitude", "long", "lon", "lng", "easting", "east", "rechtswert", "x"}
	yAliases = []string{"latitude", "lat", "northing", "north", "hochwert", "y"}
	zAliases = []string{"elevation", "altitude", "height", "hoehe", "alt", "z"}
)

// detectDelimiter picks the candidate that splits the header into the most
// columns. A candidate must split at least half of the leading lines like
// the header; ties go to the candidate matching more lines, then to the
// earlier candidate.
func detectDelimiter(data []byte) rune {
	lines := leadingLines(data, sniffLines)
	if len(lines) == 0 {
		return ','
	}

	best := ','
	bestCols, bestConsistent := 1, 0
	for _, c := range candidates {
		counts := fieldCounts(lines, c)
		if len(counts) == 0 || counts[0] < 2 {
			continue
		}
		consistent := 0
		for _, n := range counts {
			if n == counts[0] {
				consistent++
			}
		}
		if consistent*2 < len(counts) {
			continue
		}
		if counts[0] > bestCols || (counts[0] == bestCols && consistent > bestConsistent) {
			best, bestCols, bestConsistent = c, counts[0], consistent
		}
	}
	return best
}

func leadingLines(data []byte, n int) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() && len(lines) < n {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, sc.Text())
		}
	}
	return lines
}

func fieldCounts(lines []string, comma rune) []int {
	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var counts []int
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		counts = append(counts, len(rec))
	}
	return counts
}

// columns holds the indices of the coordinate columns; -1 when absent.
type columns struct {
	x, y, z, layer int
}

// detectColumns finds the coordinate columns. Exact header matches win over
// substring matches; single-letter aliases only match exactly.
func detectColumns(header []string) columns {
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.ToLower(strings.TrimSpace(h))
	}

	cols := columns{x: -1, y: -1, z: -1, layer: -1}
	taken := map[int]bool{}
	cols.x = findColumn(names, xAliases, taken)
	taken[cols.x] = true
	cols.y = findColumn(names, yAliases, taken)
	taken[cols.y] = true
	cols.z = findColumn(names, zAliases, taken)
	for i, n := range names {
		if n == "layer" && !taken[i] {
			cols.layer = i
		}
	}
	return cols
}

func findColumn(names, aliases []string, taken map[int]bool) int {
	for _, alias := range aliases {
		for i, n := range names {
			if !taken[i] && n == alias {
				return i
			}
		}
	}
	for _, alias := range aliases {
		if len(alias) < 2 {
			continue
		}
		for i, n := range names {
			if !taken[i] && strings.Contains(n, alias) {
				return i
			}
		}
	}
	return -1
}
