package export

import (
	"errors"
	"fmt"
)

// ErrBatchCancelled indicates the run stopped before completion, either
// through context cancellation or a cancel decision in the overwrite
// chooser. Files exported before the stop remain on disk.
var ErrBatchCancelled = errors.New("export batch cancelled")

// ErrRunInProgress indicates a second Run was started on a driver whose
// previous run has not finished.
var ErrRunInProgress = errors.New("an export run is already in progress")

// HostExportError wraps a host encoding failure for one layer.
type HostExportError struct {
	// Layer is the original layer name.
	Layer string

	// Path is the output path the export was writing.
	Path string

	// Format is the export format in use when the host failed.
	Format string

	// Err is the host's error.
	Err error
}

func (e *HostExportError) Error() string {
	return fmt.Sprintf("exporting layer %q to %s as %s: %v", e.Layer, e.Path, e.Format, e.Err)
}

func (e *HostExportError) Unwrap() error {
	return e.Err
}
