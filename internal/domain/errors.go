package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
	ErrAborted      = errors.New("aborted")
)

// Specific errors.
var (
	ErrDatasetNotFound          = fmt.Errorf("dataset: %w", ErrNotFound)
	ErrLayerNotFound            = fmt.Errorf("layer: %w", ErrNotFound)
	ErrUnknownCoordinateSystem  = fmt.Errorf("coordinate system: %w", ErrNotFound)
	ErrInvalidCoordinate        = fmt.Errorf("coordinate: %w", ErrInvalidInput)
	ErrInvalidHeader            = fmt.Errorf("header: %w", ErrInvalidInput)
	ErrMalformedRecord          = fmt.Errorf("record: %w", ErrInvalidInput)
	ErrUnsupportedFormat        = fmt.Errorf("format: %w", ErrUnsupported)
	ErrUnsupportedProjection    = fmt.Errorf("projection: %w", ErrUnsupported)
	ErrUnsupportedEntity        = fmt.Errorf("entity: %w", ErrUnsupported)
	ErrMissingCompanion         = fmt.Errorf("companion file: %w", ErrNotFound)
	ErrMemoryLimit              = fmt.Errorf("memory limit exceeded: %w", ErrAborted)
	ErrStreamAborted            = fmt.Errorf("stream: %w", ErrAborted)
	ErrChunkEvicted             = fmt.Errorf("chunk evicted: %w", ErrNotFound)
	ErrNotReady                 = fmt.Errorf("service not ready: %w", ErrUnavailable)
	ErrStorageUnavailable       = fmt.Errorf("storage: %w", ErrUnavailable)
	ErrCoordinateSystemUnsolved = fmt.Errorf("coordinate system detection: %w", ErrNotFound)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// FormatError is a fatal parse failure of a file container (header, magic
// number, structure). Processing of the whole file stops.
type FormatError struct {
	Format string // Parser name (shapefile, dxf, ...)
	File   string // File name
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s error in %s: %v", e.Format, e.File, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Format, e.Err)
}

// Unwrap returns the underlying error.
func (e *FormatError) Unwrap() error {
	return e.Err
}

// RecordError reports a single record that could not be read. The record is
// skipped and reading continues.
type RecordError struct {
	Format string // Parser name
	Index  int    // Record sequence number (0-based)
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	return fmt.Sprintf("%s record %d: %v", e.Format, e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *RecordError) Unwrap() error {
	return e.Err
}

// TransformError represents a failed coordinate transformation.
type TransformError struct {
	From string // Source coordinate system
	To   string // Target coordinate system
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s -> %s: %v", e.From, e.To, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransformError) Unwrap() error {
	return e.Err
}

// MemoryLimitError is raised once when the estimated memory usage of a
// stream exceeds its ceiling.
type MemoryLimitError struct {
	UsedMB  float64 // Estimated usage in megabytes
	LimitMB int     // Configured ceiling
	Count   int     // Features accepted so far
}

// Error implements the error interface.
func (e *MemoryLimitError) Error() string {
	return fmt.Sprintf("memory limit exceeded: %.1f MB used, limit %d MB after %d features",
		e.UsedMB, e.LimitMB, e.Count)
}

// Unwrap returns the underlying error type.
func (e *MemoryLimitError) Unwrap() error {
	return ErrMemoryLimit
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}

// IsRecoverable reports whether err only affects a single record or
// coordinate, so processing may continue.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var recErr *RecordError
	if errors.As(err, &recErr) {
		return true
	}
	return errors.Is(err, ErrInvalidCoordinate) ||
		errors.Is(err, ErrMissingCompanion) ||
		errors.Is(err, ErrUnsupportedEntity)
}
