package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/jobrunner/geopreview/internal/adapters/storage"
	"github.com/jobrunner/geopreview/internal/adapters/watcher"
	"github.com/jobrunner/geopreview/internal/config"
	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/input"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

const stationsCSV = "x,y,name\n2600000,1200000,Bern\n2683000,1248000,Zurich\n"

func testConfig(dir string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			MaxUploadMB:     1,
			ShutdownTimeout: time.Second,
		},
		Storage: config.StorageConfig{Type: "local", LocalPath: dir, Parallel: 2},
		Pipeline: config.PipelineConfig{
			ChunkSize:          100,
			MaxMemoryMB:        64,
			MaxPreviewFeatures: 100,
			SmartSampling:      true,
			EnableCaching:      true,
			MemoryEstimator:    "count",
			DefaultTarget:      domain.CodeWGS84,
		},
		Formats: config.FormatsConfig{OSMProcs: 1, CurveSegments: 32},
		Cache:   config.CacheConfig{PreviewTTL: time.Minute},
		Sync:    config.SyncConfig{Cooldown: time.Minute},
	}
}

func newTestApp(t *testing.T, files map[string]string) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	a, err := New(context.Background(), testConfig(dir), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Registry.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	return a, dir
}

func TestNewPipeline(t *testing.T) {
	p := NewPipeline(testConfig(t.TempDir()), &output.NoOpMetrics{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var names []string
	for _, parser := range p.Formats.Parsers() {
		names = append(names, parser.Name())
	}
	want := []string{"geojson", "delimited", "shapefile", "dxf", "geopackage", "osm"}
	if !slices.Equal(names, want) {
		t.Errorf("parsers = %v, want %v", names, want)
	}

	opts := p.Previews.DefaultOptions()
	if opts.TargetCoordinateSystem != domain.CodeWGS84 || opts.MaxPreviewFeatures != 100 || opts.ChunkSize != 100 {
		t.Errorf("unexpected defaults %+v", opts)
	}
	if _, ok := p.Systems.Get(domain.CodeLV95); !ok {
		t.Error("LV95 missing from registry")
	}
}

func TestNewWithoutOptionalComponents(t *testing.T) {
	a, _ := newTestApp(t, nil)
	if a.Metrics != nil || a.TLSServer != nil || a.Watcher != nil {
		t.Error("disabled components were created")
	}
	if _, ok := a.Storage.(*storage.LocalStorage); !ok {
		t.Errorf("storage = %T, want local", a.Storage)
	}
}

func TestHandleFileEvent(t *testing.T) {
	ctx := context.Background()
	a, dir := newTestApp(t, map[string]string{"stations.csv": stationsCSV})

	src, err := a.Registry.Source(ctx, "stations")
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Pipeline.Previews.Preview(ctx, input.PreviewRequest{
		Identity: "dataset:stations",
		Source:   src,
		Options:  a.Pipeline.Previews.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if n := a.Pipeline.Previews.Cache().Stats().Entries; n != 1 {
		t.Fatalf("expected one cached preview, got %d", n)
	}

	t.Run("create main file", func(t *testing.T) {
		path := filepath.Join(dir, "extra.csv")
		if err := os.WriteFile(path, []byte(stationsCSV), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := a.handleFileEvent(ctx, watcher.Event{Path: path, Operation: watcher.OpCreate}); err != nil {
			t.Fatalf("handleFileEvent() error = %v", err)
		}
		if !a.Registry.IsLoaded("extra") {
			t.Error("extra not loaded")
		}
	})

	t.Run("companion reloads dataset", func(t *testing.T) {
		path := filepath.Join(dir, "stations.prj")
		if err := os.WriteFile(path, []byte(`PROJCS["CH1903+ / LV95",AUTHORITY["EPSG","2056"]]`), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := a.handleFileEvent(ctx, watcher.Event{Path: path, Operation: watcher.OpCreate}); err != nil {
			t.Fatalf("handleFileEvent() error = %v", err)
		}
		ds, err := a.Registry.GetDataset(ctx, "stations")
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Contains(ds.Files, path) {
			t.Errorf("files = %v, want prj included", ds.Files)
		}
		if n := a.Pipeline.Previews.Cache().Stats().Entries; n != 0 {
			t.Errorf("cache not invalidated after reload, %d entries", n)
		}
	})

	t.Run("companion without dataset", func(t *testing.T) {
		path := filepath.Join(dir, "orphan.dbf")
		if err := a.handleFileEvent(ctx, watcher.Event{Path: path, Operation: watcher.OpModify}); err != nil {
			t.Errorf("handleFileEvent() error = %v", err)
		}
	})

	t.Run("delete main file", func(t *testing.T) {
		path := filepath.Join(dir, "extra.csv")
		if err := os.Remove(path); err != nil {
			t.Fatal(err)
		}
		if err := a.handleFileEvent(ctx, watcher.Event{Path: path, Operation: watcher.OpDelete}); err != nil {
			t.Fatalf("handleFileEvent() error = %v", err)
		}
		if a.Registry.IsLoaded("extra") {
			t.Error("extra still loaded")
		}
	})
}

func TestInitStorage(t *testing.T) {
	ctx := context.Background()
	exts := storage.NewExtensions([]string{".csv"})

	s, err := initStorage(ctx, config.StorageConfig{
		Type: "http",
		HTTP: config.HTTPConfig{BaseURL: "https://data.example.com", Timeout: time.Second},
	}, exts)
	if err != nil {
		t.Fatalf("initStorage(http) error = %v", err)
	}
	if _, ok := s.(*storage.HTTPStorage); !ok {
		t.Errorf("storage = %T, want http", s)
	}

	if _, err := initStorage(ctx, config.StorageConfig{Type: "ftp"}, exts); err == nil {
		t.Error("expected error for unknown storage type")
	}
}
