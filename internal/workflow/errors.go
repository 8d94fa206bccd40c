package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired means the server rejected our credentials. The session
	// is cleared and the operator has to sign in again.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrReportExists means a report was already generated for this save.
	ErrReportExists = errors.New("report already exists for this configuration")

	// ErrEmptyArtifact means the server returned a zero-byte report file.
	ErrEmptyArtifact = errors.New("report file is empty")

	// ErrNotReady means a report was requested before every control was
	// marked.
	ErrNotReady = errors.New("session is not fully marked")
)

// SaveFailedError carries the server's explanation for a rejected save so
// the UI can surface it verbatim.
type SaveFailedError struct {
	StatusCode int
	Message    string
}

func (e *SaveFailedError) Error() string {
	return fmt.Sprintf("save failed (status %d): %s", e.StatusCode, e.Message)
}

// GenerateFailedError carries the server's explanation for a failed report
// generation.
type GenerateFailedError struct {
	StatusCode int
	Message    string
}

func (e *GenerateFailedError) Error() string {
	return fmt.Sprintf("report generation failed (status %d): %s", e.StatusCode, e.Message)
}

// WrongContentTypeError means the downloaded artifact is not a PDF.
type WrongContentTypeError struct {
	Got string
}

func (e *WrongContentTypeError) Error() string {
	return fmt.Sprintf("unexpected report content type %q", e.Got)
}
