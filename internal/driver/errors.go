package driver

import "errors"

// Stage failures. Each is wrapped with context by the stage that returns it
// and recorded in the run report; none of them terminates the process.
var (
	ErrLoad              = errors.New("form failed to load")
	ErrAuthTimeout       = errors.New("authentication timeout exceeded")
	ErrClear             = errors.New("form clear failed")
	ErrIncompleteFill    = errors.New("form population incomplete")
	ErrNoFiles           = errors.New("no files available for upload")
	ErrFileInputNotFound = errors.New("file input not found")
	ErrUpload            = errors.New("file upload failed")
	ErrValidation        = errors.New("form validation failed")
	ErrSubmitExhausted   = errors.New("form submission failed after all attempts")
)
