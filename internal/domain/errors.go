package domain

import "errors"

// ValidationError is returned for uploads rejected before any remote call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

var (
	ErrNoFile          = NewValidationError("No file uploaded")
	ErrNoFilename      = NewValidationError("No file selected")
	ErrUnsupportedType = NewValidationError("Unsupported file format")
	ErrFileTooLarge    = NewValidationError("File size exceeds limit")
)

// ErrAnalysisFailed wraps every failure of the remote model call.
var ErrAnalysisFailed = errors.New("image analysis failed")
