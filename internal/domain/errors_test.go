package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:      "chunk_size",
		Value:      0,
		Constraint: "> 0",
		Message:    "chunk size must be positive",
	}

	// Test Error() output
	got := err.Error()
	if got == "" {
		t.Error("Error() should not return empty string")
	}

	// Test Unwrap()
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		name string
		err  *FormatError
	}{
		{
			name: "with file",
			err: &FormatError{
				Format: "shapefile",
				File:   "roads.shp",
				Err:    ErrInvalidHeader,
			},
		},
		{
			name: "without file",
			err: &FormatError{
				Format: "dxf",
				Err:    errors.New("unexpected EOF"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() == "" {
				t.Error("Error() should not return empty string")
			}
			if !errors.Is(tt.err, tt.err.Err) {
				t.Error("Unwrap should return the underlying error")
			}
			if IsRecoverable(tt.err) {
				t.Error("FormatError must not be recoverable")
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	err := &RecordError{Format: "shapefile", Index: 7, Err: ErrMalformedRecord}

	if err.Error() != "shapefile record 7: record: invalid input" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("RecordError should unwrap to its cause")
	}
	if !IsRecoverable(fmt.Errorf("wrapped: %w", err)) {
		t.Error("wrapped RecordError should be recoverable")
	}
}

func TestMemoryLimitError(t *testing.T) {
	err := &MemoryLimitError{UsedMB: 600, LimitMB: 512, Count: 10000}

	if !errors.Is(err, ErrMemoryLimit) {
		t.Error("MemoryLimitError should unwrap to ErrMemoryLimit")
	}
	if !errors.Is(err, ErrAborted) {
		t.Error("MemoryLimitError should be an abort")
	}
	if IsRecoverable(err) {
		t.Error("MemoryLimitError must not be recoverable")
	}
}

func TestTransformError(t *testing.T) {
	err := &TransformError{From: "EPSG:9999", To: "EPSG:4326", Err: ErrUnknownCoordinateSystem}

	if !errors.Is(err, ErrNotFound) {
		t.Error("TransformError should unwrap to its cause")
	}
	if IsRecoverable(err) {
		t.Error("unknown coordinate system must be fatal")
	}

	invalid := &TransformError{From: "EPSG:2056", To: "EPSG:4326", Err: ErrInvalidCoordinate}
	if !IsRecoverable(invalid) {
		t.Error("invalid coordinate should be recoverable")
	}
}

func TestStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  *StorageError
	}{
		{
			name: "with key",
			err: &StorageError{
				Operation: "download",
				Key:       "parcels.shp",
				Err:       errors.New("network error"),
			},
		},
		{
			name: "without key",
			err: &StorageError{
				Operation: "list",
				Err:       errors.New("access denied"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got == "" {
				t.Error("Error() should not return empty string")
			}

			// Test Unwrap
			if !errors.Is(tt.err, tt.err.Err) {
				t.Error("Unwrap should return the underlying error")
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "storage.local_path",
		Message: "path not found",
	}

	if err.Error() == "" {
		t.Error("Error() should not return empty string")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ConfigError should unwrap to ErrInvalidInput")
	}
}

func TestSentinelErrors(t *testing.T) {
	// Test that specific errors wrap base errors correctly
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"ErrDatasetNotFound", ErrDatasetNotFound, ErrNotFound},
		{"ErrLayerNotFound", ErrLayerNotFound, ErrNotFound},
		{"ErrUnknownCoordinateSystem", ErrUnknownCoordinateSystem, ErrNotFound},
		{"ErrInvalidCoordinate", ErrInvalidCoordinate, ErrInvalidInput},
		{"ErrInvalidHeader", ErrInvalidHeader, ErrInvalidInput},
		{"ErrUnsupportedFormat", ErrUnsupportedFormat, ErrUnsupported},
		{"ErrUnsupportedEntity", ErrUnsupportedEntity, ErrUnsupported},
		{"ErrStreamAborted", ErrStreamAborted, ErrAborted},
		{"ErrChunkEvicted", ErrChunkEvicted, ErrNotFound},
		{"ErrNotReady", ErrNotReady, ErrUnavailable},
		{"ErrStorageUnavailable", ErrStorageUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.wantErr) {
				t.Errorf("%s should wrap %v", tt.name, tt.wantErr)
			}
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"missing companion", ErrMissingCompanion, true},
		{"unsupported entity", fmt.Errorf("HATCH: %w", ErrUnsupportedEntity), true},
		{"invalid header", ErrInvalidHeader, false},
		{"aborted", ErrStreamAborted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable() = %v, want %v", got, tt.want)
			}
		})
	}
}
