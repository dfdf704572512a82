package domain

import (
	"path"
	"slices"
	"sort"
	"strings"
	"time"
)

// SourceFile is a named byte buffer.
type SourceFile struct {
	Name     string // File name including extension
	Data     []byte // File content
	MimeType string // Declared content type (optional)
}

// Ext returns the lower-case extension including the dot.
func (f SourceFile) Ext() string {
	return strings.ToLower(path.Ext(f.Name))
}

// BaseName returns the lower-case file name without directory and extension.
func (f SourceFile) BaseName() string {
	return BaseName(f.Name)
}

// BaseName returns the lower-case name of p without directory and extension.
func BaseName(p string) string {
	name := path.Base(strings.ReplaceAll(p, "\\", "/"))
	return strings.ToLower(strings.TrimSuffix(name, path.Ext(name)))
}

// Source is a main file plus its companion files (attribute table,
// projection text, index, code page).
type Source struct {
	Main       SourceFile
	Companions []SourceFile
}

// Companion returns the companion with the given extension (".dbf").
// The match is case-insensitive.
func (s *Source) Companion(ext string) (SourceFile, bool) {
	ext = strings.ToLower(ext)
	for _, c := range s.Companions {
		if c.Ext() == ext {
			return c, true
		}
	}
	return SourceFile{}, false
}

// Size returns the total byte size of all files.
func (s *Source) Size() int64 {
	n := int64(len(s.Main.Data))
	for _, c := range s.Companions {
		n += int64(len(c.Data))
	}
	return n
}

// FileNames returns the names of all files, main first.
func (s *Source) FileNames() []string {
	names := []string{s.Main.Name}
	for _, c := range s.Companions {
		names = append(names, c.Name)
	}
	return names
}

// GroupSources picks every file whose extension is in mainExts as a main
// file and attaches all other files with the same base name as companions.
// Extensions are compared case-insensitively.
func GroupSources(files []SourceFile, mainExts []string) []Source {
	isMain := func(f SourceFile) bool {
		return slices.Contains(mainExts, f.Ext())
	}

	var sources []Source
	for _, f := range files {
		if !isMain(f) {
			continue
		}
		src := Source{Main: f}
		for _, c := range files {
			if c.Name == f.Name || isMain(c) {
				continue
			}
			if c.BaseName() == f.BaseName() {
				src.Companions = append(src.Companions, c)
			}
		}
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Main.Name < sources[j].Main.Name
	})
	return sources
}

// LayerInfo describes a layer discovered in a source.
type LayerInfo struct {
	Name          string         `json:"name"`
	Visible       bool           `json:"visible"`
	Locked        bool           `json:"locked"`
	Color         int            `json:"color,omitempty"`
	FeatureCount  int            `json:"featureCount"`
	GeometryKinds []GeometryKind `json:"geometryKinds,omitempty"`
}

// Detection is the result of coordinate system detection.
type Detection struct {
	System     string  `json:"system"`
	Confidence float64 `json:"confidence"`
	Strategy   string  `json:"strategy"`
}

// Analysis is the metadata-only view of a source, computed from a bounded
// prefix of its records. Bounds covers the prefix only. Extent covers the
// whole source and is empty when neither the container declares it nor
// the prefix reached the end of the records.
type Analysis struct {
	Format       string      `json:"format"`
	Layers       []LayerInfo `json:"layers"`
	CRSMetadata  string      `json:"crsMetadata,omitempty"`
	Detected     *Detection  `json:"detected,omitempty"`
	Bounds       Bounds      `json:"bounds"`
	Extent       Bounds      `json:"extent"`
	Sample       []*Feature  `json:"-"`
	FeatureCount int         `json:"sampledFeatures"`
	Truncated    bool        `json:"truncated"`
	Warnings     Warnings    `json:"warnings"`
}

// Layer returns the layer info by name.
func (a *Analysis) Layer(name string) (*LayerInfo, bool) {
	for i := range a.Layers {
		if a.Layers[i].Name == name {
			return &a.Layers[i], true
		}
	}
	return nil, false
}

// LayerNames returns the names of all layers.
func (a *Analysis) LayerNames() []string {
	names := make([]string, 0, len(a.Layers))
	for _, l := range a.Layers {
		names = append(names, l.Name)
	}
	return names
}

// Dataset represents a registered source discovered in storage.
type Dataset struct {
	ID            string        // Unique identifier (derived from filename)
	Name          string        // Display name
	Path          string        // Main file path
	Files         []string      // Main and companion file paths
	Format        string        // Parser name
	Size          int64         // Total size in bytes
	Analysis      *Analysis     // Analysis result (nil until analyzed)
	Status        DatasetStatus // Load status
	Error         string        // Last error message
	LoadedAt      time.Time     // Load timestamp
	LastPreviewed time.Time     // Last preview timestamp
}

// IsReady returns true if the dataset was analyzed successfully.
func (d *Dataset) IsReady() bool {
	return d.Status == StatusReady && d.Analysis != nil
}

// LayerCount returns the number of layers.
func (d *Dataset) LayerCount() int {
	if d.Analysis == nil {
		return 0
	}
	return len(d.Analysis.Layers)
}

// DatasetStatus represents the status of a dataset.
type DatasetStatus string

const (
	StatusLoading   DatasetStatus = "loading"
	StatusAnalyzing DatasetStatus = "analyzing"
	StatusReady     DatasetStatus = "ready"
	StatusError     DatasetStatus = "error"
	StatusUnloading DatasetStatus = "unloading"
)
