package ingest

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for every way a job can end in the failed state.
// Callers distinguish them with errors.Is; wrapped errors keep the detail for logs.
var (
	ErrInvalidUpload           = errors.New("invalid upload")
	ErrExtraction              = errors.New("archive extraction failed")
	ErrNoGeometrySource        = errors.New("no geometry source in archive")
	ErrAmbiguousGeometrySource = errors.New("archive contains more than one geometry source")
	ErrInvalidIdentifier       = errors.New("invalid identifier")
	ErrToolchainUnavailable    = errors.New("load toolchain unavailable")
	ErrLoadFailure             = errors.New("geometry load failed")
	ErrLoadTimeout             = errors.New("geometry load timed out")
	ErrPartialReplaceFailure   = errors.New("layer dropped but reload failed")
	ErrGeometryNotFound        = errors.New("loaded table has no registered geometry column")
	ErrDuplicateLayer          = errors.New("layer already exists")
	ErrLayerNotFound           = errors.New("layer not found")
)

// ToolError carries the diagnostics of a failed external process.
// Stderr is for server-side logs only and must never reach a client.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s exited with status %d: %v", e.Tool, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// StatusForError maps a pipeline error to the HTTP status reported to the caller.
// Input and state problems are client errors; everything else is a server error.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusCreated
	case errors.Is(err, ErrInvalidUpload),
		errors.Is(err, ErrInvalidIdentifier),
		errors.Is(err, ErrDuplicateLayer),
		errors.Is(err, ErrLayerNotFound),
		errors.Is(err, ErrNoGeometrySource),
		errors.Is(err, ErrAmbiguousGeometrySource):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// MessageForError returns the short, user-facing message for a pipeline error.
// It never includes wrapped detail such as paths, SQL or process output.
func MessageForError(err error) string {
	switch {
	case err == nil:
		return "Layer uploaded successfully"
	case errors.Is(err, ErrInvalidUpload):
		return "Upload must be a non-empty zip archive"
	case errors.Is(err, ErrInvalidIdentifier):
		return "Department and layer names may only contain letters, digits and underscores"
	case errors.Is(err, ErrDuplicateLayer):
		return "A layer with this name already exists in the department"
	case errors.Is(err, ErrLayerNotFound):
		return "Layer not found"
	case errors.Is(err, ErrNoGeometrySource):
		return "No shapefile (.shp) found in archive"
	case errors.Is(err, ErrAmbiguousGeometrySource):
		return "Archive must contain exactly one shapefile"
	case errors.Is(err, ErrPartialReplaceFailure):
		return "Replace failed after the old layer was removed; the layer is currently unavailable"
	case errors.Is(err, ErrExtraction):
		return "Archive could not be extracted"
	case errors.Is(err, ErrLoadTimeout):
		return "Layer load timed out"
	default:
		return "Upload failed"
	}
}
