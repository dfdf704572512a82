package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/mux"

	"github.com/jobrunner/geopreview/internal/application"
	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/input"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

// multipartMemory is the part of an upload kept in memory before the
// multipart reader spills to disk.
const multipartMemory = 32 << 20

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":          boolToStatus(details.Healthy),
		"ready":           details.Ready,
		"datasets_loaded": details.DatasetsLoaded,
		"datasets_ready":  details.DatasetsReady,
		"components":      details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleListDatasets returns all registered datasets.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.registry.ListDatasets(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list datasets")
		return
	}

	response := make([]map[string]interface{}, len(datasets))
	for i := range datasets {
		response[i] = formatDataset(&datasets[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": response,
		"count":    len(datasets),
	})
}

// handleGetDataset returns a specific dataset.
func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := s.registry.GetDataset(r.Context(), mux.Vars(r)["datasetId"])
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, formatDataset(ds))
}

// handleGetAnalysis returns the analysis of a dataset.
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	ds, err := s.registry.GetDataset(r.Context(), mux.Vars(r)["datasetId"])
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	if !ds.IsReady() {
		s.handleServiceError(w, r, fmt.Errorf("dataset %s is %s: %w", ds.ID, ds.Status, domain.ErrNotReady))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dataset_id": ds.ID,
		"analysis":   ds.Analysis,
	})
}

// handleDatasetPreview previews a registered dataset.
func (s *Server) handleDatasetPreview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["datasetId"]

	opts, err := s.parsePreviewOptions(r.URL.Query())
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	ds, err := s.registry.GetDataset(r.Context(), id)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	if !ds.IsReady() {
		s.handleServiceError(w, r, fmt.Errorf("dataset %s is %s: %w", ds.ID, ds.Status, domain.ErrNotReady))
		return
	}

	src, err := s.registry.Source(r.Context(), id)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	preview, err := s.previews.Preview(r.Context(), input.PreviewRequest{
		Identity: "dataset:" + id,
		Source:   src,
		Analysis: ds.Analysis,
		Options:  opts,
	})
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	s.registry.MarkPreviewed(id)

	s.writeJSON(w, http.StatusOK, newPreviewResponse(id, preview))
}

// handleUploadAnalyze analyzes an uploaded source without previewing it.
func (s *Server) handleUploadAnalyze(w http.ResponseWriter, r *http.Request) {
	src, _, err := s.readUpload(w, r)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	analysis, err := s.previews.Analyze(r.Context(), src)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"files":    src.FileNames(),
		"analysis": analysis,
	})
}

// handleUploadPreview previews an uploaded source. Options are read from
// the query string and the form fields.
func (s *Server) handleUploadPreview(w http.ResponseWriter, r *http.Request) {
	src, identity, err := s.readUpload(w, r)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	opts, err := s.parsePreviewOptions(r.Form)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	preview, err := s.previews.Preview(r.Context(), input.PreviewRequest{
		Identity: identity,
		Source:   src,
		Options:  opts,
	})
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, newPreviewResponse("", preview))
}

// handleListCoordinateSystems returns the registered coordinate systems.
func (s *Server) handleListCoordinateSystems(w http.ResponseWriter, _ *http.Request) {
	systems := s.systems.All()

	response := make([]map[string]interface{}, len(systems))
	for i, cs := range systems {
		response[i] = map[string]interface{}{
			"code":       cs.Code,
			"name":       cs.Name,
			"units":      cs.Units,
			"geographic": cs.Geographic,
			"envelope":   cs.Envelope,
			"definition": cs.Definition,
			"aliases":    cs.Aliases,
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"coordinate_systems": response,
		"count":              len(systems),
	})
}

// handleListFormats returns the readable formats and their extensions.
func (s *Server) handleListFormats(w http.ResponseWriter, _ *http.Request) {
	lister, ok := s.formats.(interface{ Parsers() []output.FormatParser })
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"extensions": s.formats.MainExtensions(),
		})
		return
	}

	parsers := lister.Parsers()
	response := make([]map[string]interface{}, len(parsers))
	for i, p := range parsers {
		response[i] = map[string]interface{}{
			"name":       p.Name(),
			"extensions": p.Extensions(),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"formats":    response,
		"extensions": s.formats.MainExtensions(),
	})
}

// handleCacheStats returns preview cache statistics.
func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.previews.Cache().Stats())
}

// handleCacheClear drops all cached previews.
func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.previews.Cache().Invalidate()
	s.writeJSON(w, http.StatusOK, s.previews.Cache().Stats())
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncService == nil {
		s.writeError(w, http.StatusNotFound, "Sync service not available")
		return
	}

	result, err := s.syncService.TriggerSync(r.Context())
	if err != nil {
		var limited *application.RateLimitError
		if errors.As(err, &limited) {
			retry := int(math.Ceil(limited.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			s.writeError(w, http.StatusTooManyRequests,
				fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retry))
			return
		}
		s.logger.Error("sync failed", "error", err, "request_id", RequestID(r.Context()))
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleSyncStatus reports the scheduler state and the last sync.
func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.syncService.Status())
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// readUpload reads the multipart "files" field into a source. The main
// file is picked by extension; other files with its base name become
// companions. The identity is a content hash of all files.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*domain.Source, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.config.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", err
		}
		return nil, "", &domain.ValidationError{Field: "files", Message: "multipart form expected: " + err.Error()}
	}

	headers := append(r.MultipartForm.File["files"], r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		return nil, "", &domain.ValidationError{Field: "files", Message: "at least one file is required"}
	}

	files := make([]domain.SourceFile, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, "", fmt.Errorf("opening upload %s: %w", h.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, "", fmt.Errorf("reading upload %s: %w", h.Filename, err)
		}
		files = append(files, domain.SourceFile{
			Name:     filepath.Base(filepath.ToSlash(h.Filename)),
			Data:     data,
			MimeType: h.Header.Get("Content-Type"),
		})
	}

	src, err := s.groupUpload(files)
	if err != nil {
		return nil, "", err
	}
	return src, uploadIdentity(files), nil
}

// groupUpload builds the source of an upload. A single file with an
// unknown extension is accepted when its content type selects a parser.
func (s *Server) groupUpload(files []domain.SourceFile) (*domain.Source, error) {
	sources := domain.GroupSources(files, s.formats.MainExtensions())
	switch {
	case len(sources) == 1:
		return &sources[0], nil
	case len(sources) > 1:
		names := make([]string, len(sources))
		for i := range sources {
			names[i] = sources[i].Main.Name
		}
		return nil, &domain.ValidationError{
			Field:   "files",
			Value:   names,
			Message: fmt.Sprintf("exactly one main file expected, got %d", len(sources)),
		}
	case len(files) == 1:
		if _, err := s.formats.Find(files[0].Name, files[0].MimeType); err != nil {
			return nil, err
		}
		return &domain.Source{Main: files[0]}, nil
	default:
		return nil, fmt.Errorf("no readable main file among %d uploads: %w", len(files), domain.ErrUnsupportedFormat)
	}
}

// uploadIdentity hashes names and contents of the uploaded files in name
// order.
func uploadIdentity(files []domain.SourceFile) string {
	sorted := make([]domain.SourceFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := xxhash.New()
	for _, f := range sorted {
		_, _ = h.WriteString(strings.ToLower(f.Name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(f.Data)
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("upload:%016x", h.Sum64())
}

// parsePreviewOptions reads preview options on top of the configured
// defaults.
func (s *Server) parsePreviewOptions(values url.Values) (domain.PreviewOptions, error) {
	opts := s.previews.DefaultOptions()

	if v := values.Get("target"); v != "" {
		opts.TargetCoordinateSystem = v
	}
	if v := values.Get("source"); v != "" {
		opts.SourceCoordinateSystem = v
	}

	var layers []string
	for _, v := range append(values["layers"], values["layer"]...) {
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				layers = append(layers, l)
			}
		}
	}
	if len(layers) > 0 {
		opts.SelectedLayers = layers
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"max_features", &opts.MaxPreviewFeatures},
		{"chunk_size", &opts.ChunkSize},
		{"max_memory_mb", &opts.MaxMemoryMB},
	}
	for _, p := range ints {
		v := values.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, &domain.ValidationError{Field: p.name, Value: v, Message: "must be a positive integer"}
		}
		*p.dst = n
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"smart_sampling", &opts.SmartSampling},
		{"cache", &opts.EnableCaching},
	}
	for _, p := range bools {
		v := values.Get(p.name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, &domain.ValidationError{Field: p.name, Value: v, Message: "must be a boolean"}
		}
		*p.dst = b
	}

	if v := values.Get("simplify"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, &domain.ValidationError{Field: "simplify", Value: v, Message: "must be a number"}
		}
		opts.SimplifyTolerance = f
	}

	return opts, nil
}

// previewResponse is the JSON form of a preview.
type previewResponse struct {
	DatasetID string `json:"datasetId,omitempty"`
	*domain.PreviewCollection
	DurationMS int64 `json:"durationMs"`
}

func newPreviewResponse(datasetID string, p *domain.PreviewCollection) previewResponse {
	return previewResponse{
		DatasetID:         datasetID,
		PreviewCollection: p,
		DurationMS:        p.Duration.Milliseconds(),
	}
}

// formatDataset formats a dataset for JSON output.
func formatDataset(ds *domain.Dataset) map[string]interface{} {
	out := map[string]interface{}{
		"id":             ds.ID,
		"name":           ds.Name,
		"format":         ds.Format,
		"files":          fileNames(ds.Files),
		"size":           ds.Size,
		"status":         ds.Status,
		"ready":          ds.IsReady(),
		"layer_count":    ds.LayerCount(),
		"loaded_at":      ds.LoadedAt,
		"last_previewed": ds.LastPreviewed,
	}
	if ds.Error != "" {
		out["error"] = ds.Error
	}
	if a := ds.Analysis; a != nil {
		out["layers"] = a.LayerNames()
		out["bounds"] = a.Bounds
		if a.Detected != nil {
			out["coordinate_system"] = a.Detected
		}
	}
	return out
}

func fileNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}

// handleServiceError maps service errors to HTTP status codes.
func (s *Server) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *domain.ValidationError
		memoryErr     *domain.MemoryLimitError
		formatErr     *domain.FormatError
		tooLarge      *http.MaxBytesError
	)

	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &tooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Upload exceeds %d MB", s.config.MaxUploadMB))
	case errors.Is(err, domain.ErrDatasetNotFound):
		s.writeError(w, http.StatusNotFound, "Dataset not found")
	case errors.Is(err, domain.ErrUnknownCoordinateSystem):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnsupportedFormat):
		s.writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.As(err, &memoryErr):
		s.writeError(w, http.StatusRequestEntityTooLarge, memoryErr.Error())
	case errors.As(err, &formatErr), errors.Is(err, domain.ErrMissingCompanion):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotReady):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "Preview timed out")
	case errors.Is(err, context.Canceled):
		s.logger.Debug("request canceled", "path", r.URL.Path, "request_id", RequestID(r.Context()))
		s.writeError(w, http.StatusServiceUnavailable, "Request canceled")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", RequestID(r.Context()))
		s.writeError(w, http.StatusInternalServerError, "Request failed")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("failed to encode response", "error", err)
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
