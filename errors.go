// Package segupload holds the error types and the local / Google Storage
// file helpers shared by the segmentation upload packages.
package segupload

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a missing or malformed parameter file, mapping
// file, or configuration key.
type ConfigurationError struct {
	Path  string
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field %q", e.Field))
	}
	msg := "configuration error"
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// MissingFileError is returned when a file backing the configuration does
// not exist. It is a ConfigurationError.
type MissingFileError struct {
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("the file %s does not exist", e.Path)
}

// As lets errors.As match a MissingFileError against *ConfigurationError.
func (e *MissingFileError) As(target interface{}) bool {
	if ce, ok := target.(**ConfigurationError); ok {
		*ce = &ConfigurationError{Path: e.Path, Err: fmt.Errorf("file does not exist")}
		return true
	}

	return false
}

// ShapeError reports an array with the wrong rank, or a slice count that
// disagrees with the number of SOPInstanceUIDs.
type ShapeError struct {
	Rank   int
	Slices int
	UIDs   int
}

func (e *ShapeError) Error() string {
	if e.Rank != 3 {
		return fmt.Sprintf("volume must be a 3D array, got %d dimensions", e.Rank)
	}

	return fmt.Sprintf("the number of slices in the volume (%d) and sop_instance_uids (%d) must be the same", e.Slices, e.UIDs)
}

// DimensionError reports an image file whose rank cannot be brought to
// exactly 3.
type DimensionError struct {
	Rank  int
	Shape []int
}

func (e *DimensionError) Error() string {
	if e.Rank < 3 {
		return fmt.Sprintf("image has dimension %d (shape %v). Use the single slice upload instead of volume", e.Rank, e.Shape)
	}

	return fmt.Sprintf("the input image seems to have more than 3 dimensions (shape %v after squeeze)", e.Shape)
}
