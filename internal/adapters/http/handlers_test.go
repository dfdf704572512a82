package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jobrunner/geopreview/internal/adapters/formats"
	"github.com/jobrunner/geopreview/internal/adapters/formats/delimited"
	"github.com/jobrunner/geopreview/internal/adapters/formats/geojson"
	"github.com/jobrunner/geopreview/internal/adapters/projection"
	"github.com/jobrunner/geopreview/internal/adapters/storage"
	"github.com/jobrunner/geopreview/internal/application"
	"github.com/jobrunner/geopreview/internal/config"
	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

// stationsCSV holds two points in LV95 without any coordinate system hint.
const stationsCSV = "x,y,name\n2600000,1200000,Bern\n2683000,1248000,Zurich\n"

const placesGeoJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"Point","coordinates":[8.5,47.4]},"properties":{"name":"a"}},
{"type":"Feature","geometry":{"type":"LineString","coordinates":[[8.5,47.4],[8.6,47.5]]},"properties":{"name":"b"}}
]}`

type testEnv struct {
	server   *Server
	registry *application.DatasetRegistry
	dir      string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestEnv wires the real pipeline against a temporary dataset
// directory. Files are written before the registry loads them.
func newTestEnv(t *testing.T, files map[string]string, withSync bool) *testEnv {
	t.Helper()
	logger := testLogger()

	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	systems := projection.NewDefaultRegistry()
	engine := projection.NewEngine(systems, 0, logger)
	catalog := formats.NewSet(geojson.NewParser(logger), delimited.NewParser(logger))
	previews := application.NewPreviewService(
		catalog,
		application.NewDetector(systems, logger),
		engine,
		application.NewPreviewCache(time.Minute, logger),
		&output.NoOpMetrics{},
		logger,
		application.PreviewServiceConfig{
			Defaults: domain.PreviewOptions{
				TargetCoordinateSystem: domain.CodeWGS84,
				SmartSampling:          true,
				EnableCaching:          true,
			},
			MemoryEstimator: "count",
		},
	)

	store := storage.NewLocalStorage(dir, storage.NewExtensions(catalog.MainExtensions(), storage.CompanionExtensions))
	registry := application.NewDatasetRegistry(previews, catalog, store, &output.NoOpMetrics{}, logger, dir, 1)
	if err := registry.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	services := Services{
		Previews: previews,
		Registry: registry,
		Health:   application.NewHealthService(registry),
		Systems:  systems,
		Formats:  catalog,
	}
	if withSync {
		services.Sync = application.NewSyncService(registry, 0, time.Minute, logger)
	}

	srv := NewServer(config.ServerConfig{
		Host:            "localhost",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxUploadMB:     1,
		FrontendEnabled: true,
	}, services, logger)

	return &testEnv{server: srv, registry: registry, dir: dir}
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)

	var body map[string]interface{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON response: %v", err)
		}
	}
	return rr, body
}

func (e *testEnv) get(t *testing.T, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return e.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

// uploadRequest builds a multipart request with one "files" part per file.
func uploadRequest(t *testing.T, target string, fields map[string]string, files ...[2]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f[0])
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write([]byte(f[1]))
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, map[string]string{"stations.csv": stationsCSV}, false)

	rr, body := env.get(t, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["datasets_loaded"] != float64(1) || body["datasets_ready"] != float64(1) {
		t.Errorf("unexpected dataset counts: %v / %v", body["datasets_loaded"], body["datasets_ready"])
	}
}

func TestHandleProbes(t *testing.T) {
	tests := []struct {
		name   string
		files  map[string]string
		path   string
		status int
	}{
		{"live", nil, "/health/live", http.StatusOK},
		{"ready without datasets", nil, "/health/ready", http.StatusOK},
		{"ready with dataset", map[string]string{"stations.csv": stationsCSV}, "/health/ready", http.StatusOK},
		{"not ready when all datasets failed", map[string]string{"broken.geojson": "{"}, "/health/ready", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.files, false)
			rr, _ := env.get(t, tt.path)
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestHandleListDatasets(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"stations.csv":   stationsCSV,
		"places.geojson": placesGeoJSON,
	}, false)

	rr, body := env.get(t, "/api/v1/datasets")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body["count"] != float64(2) {
		t.Fatalf("expected 2 datasets, got %v", body["count"])
	}

	datasets := body["datasets"].([]interface{})
	first := datasets[0].(map[string]interface{})
	if first["id"] != "places" || first["format"] != "geojson" || first["ready"] != true {
		t.Errorf("unexpected first dataset: %v", first)
	}
}

func TestHandleGetDataset(t *testing.T) {
	env := newTestEnv(t, map[string]string{"stations.csv": stationsCSV}, false)

	rr, body := env.get(t, "/api/v1/datasets/stations")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	det := body["coordinate_system"].(map[string]interface{})
	if det["system"] != domain.CodeLV95 {
		t.Errorf("expected %s, got %v", domain.CodeLV95, det["system"])
	}

	rr, body = env.get(t, "/api/v1/datasets/missing")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
	if body["message"] != "Dataset not found" {
		t.Errorf("unexpected message %v", body["message"])
	}
}

func TestHandleGetAnalysis(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"stations.csv":   stationsCSV,
		"broken.geojson": "{",
	}, false)

	rr, body := env.get(t, "/api/v1/datasets/stations/analysis")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	analysis := body["analysis"].(map[string]interface{})
	if analysis["format"] != "delimited" {
		t.Errorf("expected delimited format, got %v", analysis["format"])
	}

	rr, _ = env.get(t, "/api/v1/datasets/broken/analysis")
	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409 for a failed dataset, got %d", rr.Code)
	}
}

func TestHandleDatasetPreview(t *testing.T) {
	env := newTestEnv(t, map[string]string{"stations.csv": stationsCSV}, false)

	rr, body := env.get(t, "/api/v1/datasets/stations/preview")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body["datasetId"] != "stations" {
		t.Errorf("expected datasetId stations, got %v", body["datasetId"])
	}
	if body["sourceSystem"] != domain.CodeLV95 || body["targetSystem"] != domain.CodeWGS84 {
		t.Errorf("unexpected systems %v -> %v", body["sourceSystem"], body["targetSystem"])
	}
	if body["totalCount"] != float64(2) {
		t.Errorf("expected 2 features, got %v", body["totalCount"])
	}

	points := body["points"].(map[string]interface{})["features"].([]interface{})
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	coords := points[0].(map[string]interface{})["geometry"].(map[string]interface{})["coordinates"].([]interface{})
	lon, lat := coords[0].(float64), coords[1].(float64)
	if math.Abs(lon-7.4396) > 1e-3 || math.Abs(lat-46.9524) > 1e-3 {
		t.Errorf("expected Bern near (7.4396, 46.9524), got (%f, %f)", lon, lat)
	}

	ds, _ := env.registry.GetDataset(context.Background(), "stations")
	if ds.LastPreviewed.IsZero() {
		t.Error("expected dataset to be marked as previewed")
	}
}

func TestHandleDatasetPreviewOptions(t *testing.T) {
	env := newTestEnv(t, map[string]string{"stations.csv": stationsCSV}, false)

	tests := []struct {
		name    string
		query   string
		status  int
		check   func(t *testing.T, body map[string]interface{})
		message string
	}{
		{
			name:   "no reprojection",
			query:  "target=EPSG:2056",
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				if body["targetSystem"] != domain.CodeLV95 {
					t.Errorf("expected LV95 target, got %v", body["targetSystem"])
				}
			},
		},
		{
			name:   "max features",
			query:  "max_features=1&smart_sampling=false",
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				if body["sampled"] != true {
					t.Error("expected sampled preview")
				}
			},
		},
		{
			name:   "source override",
			query:  "source=EPSG:2056&target=EPSG:3857",
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				if body["targetSystem"] != domain.CodeWebMercator {
					t.Errorf("expected web mercator target, got %v", body["targetSystem"])
				}
			},
		},
		{name: "unknown target", query: "target=EPSG:9999", status: http.StatusBadRequest},
		{name: "invalid max features", query: "max_features=0", status: http.StatusBadRequest},
		{name: "invalid boolean", query: "cache=maybe", status: http.StatusBadRequest},
		{name: "invalid tolerance", query: "simplify=abc", status: http.StatusBadRequest},
		{name: "negative tolerance", query: "simplify=-1", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := env.get(t, "/api/v1/datasets/stations/preview?"+tt.query)
			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestHandleUploadPreview(t *testing.T) {
	env := newTestEnv(t, nil, false)

	req := uploadRequest(t, "/api/v1/preview", map[string]string{"smart_sampling": "false"},
		[2]string{"places.geojson", placesGeoJSON})
	rr, body := env.do(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, ok := body["datasetId"]; ok {
		t.Error("uploads must not carry a dataset id")
	}
	if body["totalCount"] != float64(2) {
		t.Errorf("expected 2 features, got %v", body["totalCount"])
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}

	// the same content hits the cache
	req = uploadRequest(t, "/api/v1/preview", map[string]string{"smart_sampling": "false"},
		[2]string{"places.geojson", placesGeoJSON})
	if rr, _ = env.do(t, req); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	_, stats := env.get(t, "/api/v1/cache")
	if stats["hits"] != float64(1) || stats["entries"] != float64(1) {
		t.Errorf("expected 1 hit and 1 entry, got %v", stats)
	}
}

func TestHandleUploadErrors(t *testing.T) {
	env := newTestEnv(t, nil, false)

	tests := []struct {
		name   string
		files  [][2]string
		status int
	}{
		{"no files", nil, http.StatusBadRequest},
		{"two main files", [][2]string{{"a.geojson", placesGeoJSON}, {"b.csv", stationsCSV}}, http.StatusBadRequest},
		{"unsupported format", [][2]string{{"notes.xyz", "hello"}}, http.StatusUnsupportedMediaType},
		{"only companions", [][2]string{{"roads.dbf", "x"}, {"roads.prj", "y"}}, http.StatusUnsupportedMediaType},
		{"malformed document", [][2]string{{"broken.geojson", "{"}}, http.StatusUnprocessableEntity},
		{"too large", [][2]string{{"big.csv", strings.Repeat("x", 2<<20)}}, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := env.do(t, uploadRequest(t, "/api/v1/preview", nil, tt.files...))
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandleUploadAnalyze(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rr, body := env.do(t, uploadRequest(t, "/api/v1/analyze", nil,
		[2]string{"stations.csv", stationsCSV}, [2]string{"stations.prj", "LV95"}, [2]string{"other.dbf", "x"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	files := body["files"].([]interface{})
	if len(files) != 2 || files[0] != "stations.csv" || files[1] != "stations.prj" {
		t.Errorf("unexpected files %v", files)
	}
	analysis := body["analysis"].(map[string]interface{})
	if analysis["format"] != "delimited" {
		t.Errorf("expected delimited format, got %v", analysis["format"])
	}
}

func TestHandleListCoordinateSystems(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rr, body := env.get(t, "/api/v1/coordinate-systems")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body["count"] != float64(len(projection.DefaultSystems())) {
		t.Errorf("expected %d systems, got %v", len(projection.DefaultSystems()), body["count"])
	}
	first := body["coordinate_systems"].([]interface{})[0].(map[string]interface{})
	if first["code"] != domain.CodeWGS84 || first["geographic"] != true {
		t.Errorf("unexpected first system %v", first)
	}
}

func TestHandleListFormats(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rr, body := env.get(t, "/api/v1/formats")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	formats := body["formats"].([]interface{})
	if len(formats) != 2 {
		t.Fatalf("expected 2 formats, got %d", len(formats))
	}
	if formats[0].(map[string]interface{})["name"] != "geojson" {
		t.Errorf("unexpected first format %v", formats[0])
	}
}

func TestHandleCacheClear(t *testing.T) {
	env := newTestEnv(t, map[string]string{"stations.csv": stationsCSV}, false)

	if rr, _ := env.get(t, "/api/v1/datasets/stations/preview"); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr, stats := env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if stats["entries"] != float64(0) || stats["invalidations"] != float64(1) {
		t.Errorf("unexpected stats after clear: %v", stats)
	}
}

func TestHandleSync(t *testing.T) {
	env := newTestEnv(t, map[string]string{"stations.csv": stationsCSV}, true)

	// a file added after startup is picked up
	if err := os.WriteFile(filepath.Join(env.dir, "places.geojson"), []byte(placesGeoJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	rr, body := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body["datasets_added"] != float64(1) || body["datasets_total"] != float64(2) {
		t.Errorf("unexpected sync result %v", body)
	}

	rr, _ = env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Errorf("expected Retry-After 60, got %q", got)
	}

	rr, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/sync", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	last, ok := body["last"].(map[string]interface{})
	if !ok || last["trigger"] != "manual" || last["datasets_added"] != float64(1) {
		t.Errorf("unexpected sync status %v", body)
	}
	if body["scheduled"] != false {
		t.Errorf("expected scheduler to be off, got %v", body["scheduled"])
	}
}

func TestHandleSyncNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rr, _ := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))
	if rr.Code != http.StatusMethodNotAllowed && rr.Code != http.StatusNotFound {
		t.Errorf("expected sync route to be absent, got %d", rr.Code)
	}
}

func TestHandleOpenAPI(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rr, body := env.get(t, "/openapi.json")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body["openapi"] != "3.0.3" {
		t.Errorf("unexpected openapi version %v", body["openapi"])
	}
	paths := body["paths"].(map[string]interface{})
	for _, p := range []string{"/api/v1/preview", "/api/v1/datasets/{datasetId}/preview", "/health"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("missing path %s", p)
		}
	}
}

func TestHandleStaticPages(t *testing.T) {
	env := newTestEnv(t, nil, false)

	for _, path := range []string{"/", "/docs"} {
		rr, _ := env.get(t, path)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, rr.Code)
		}
		if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html") {
			t.Errorf("%s: expected HTML, got %s", path, rr.Header().Get("Content-Type"))
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	env := newTestEnv(t, nil, false)

	const id = "7f1b3c1e-4a52-4c1b-9a7e-0d8f7a2b5c11"
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(RequestIDHeader, id)
	rr, _ := env.do(t, req)
	if got := rr.Header().Get(RequestIDHeader); got != id {
		t.Errorf("expected request id %s to be echoed, got %s", id, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rr, _ = env.do(t, req)
	if got := rr.Header().Get(RequestIDHeader); got == "not-a-uuid" || got == "" {
		t.Errorf("expected a fresh request id, got %q", got)
	}
}

func TestUploadIdentity(t *testing.T) {
	a := []domain.SourceFile{{Name: "a.shp", Data: []byte("1")}, {Name: "a.dbf", Data: []byte("2")}}
	b := []domain.SourceFile{{Name: "a.dbf", Data: []byte("2")}, {Name: "a.shp", Data: []byte("1")}}
	c := []domain.SourceFile{{Name: "a.shp", Data: []byte("12")}}

	if uploadIdentity(a) != uploadIdentity(b) {
		t.Error("identity must not depend on upload order")
	}
	if uploadIdentity(a) == uploadIdentity(c) {
		t.Error("identity must separate file boundaries")
	}
	if !strings.HasPrefix(uploadIdentity(a), "upload:") {
		t.Errorf("unexpected identity %s", uploadIdentity(a))
	}
}

func TestBoolToStatus(t *testing.T) {
	if boolToStatus(true) != "ok" {
		t.Error("expected ok")
	}
	if boolToStatus(false) != "unhealthy" {
		t.Error("expected unhealthy")
	}
}
