package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

// HTTPStorage downloads dataset files from a plain HTTP(S) server. The
// files are listed in an index file next to them.
type HTTPStorage struct {
	client     *http.Client
	baseURL    string
	indexFile  string
	username   string
	password   string
	extensions Extensions
}

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL    string
	IndexFile  string // default: index.txt
	Timeout    time.Duration
	Username   string
	Password   string
	Extensions Extensions
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTPStorage{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile:  cfg.IndexFile,
		username:   cfg.Username,
		password:   cfg.Password,
		extensions: cfg.Extensions,
	}
}

// List returns the dataset files named in the index file. A line holds a
// key, optionally followed by the size in bytes and the Unix modification
// time. Blank lines and lines starting with # are skipped.
func (s *HTTPStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	body, err := s.get(ctx, s.indexFile)
	if err != nil {
		return nil, fmt.Errorf("fetching index file: %w", err)
	}
	defer func() { _ = body.Close() }()

	var objects []output.StorageObject
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		obj := output.StorageObject{Key: fields[0]}
		if len(fields) > 1 {
			obj.Size, _ = strconv.ParseInt(fields[1], 10, 64)
		}
		if len(fields) > 2 && obj.Size > 0 {
			obj.LastModified, _ = strconv.ParseInt(fields[2], 10, 64)
		}
		if !s.extensions.Match(obj.Key) {
			continue
		}
		objects = append(objects, obj)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}

	return objects, nil
}

// Download writes a file to dest.
func (s *HTTPStorage) Download(ctx context.Context, obj output.StorageObject, dest string) error {
	return download(ctx, obj, dest, s.get)
}

// get fetches key and returns the body of a 200 response.
func (s *HTTPStorage) get(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := s.newRequest(ctx, http.MethodGet, key)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, key)
	}
	return resp.Body, nil
}

func (s *HTTPStorage) newRequest(ctx context.Context, method, key string) (*http.Request, error) {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+"/"+strings.Join(segments, "/"), nil)
	if err != nil {
		return nil, err
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	return req, nil
}
