package knowledge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedFormat indicates the uploaded file type is not parseable.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrBatchNotFound indicates the requested batch does not exist.
	ErrBatchNotFound = errors.New("knowledge batch not found")

	// ErrBatchNotProcessable indicates process was called on a batch whose
	// state machine does not allow it (already processing, completed, failed
	// or deleted).
	ErrBatchNotProcessable = errors.New("batch is not in a processable state")
)

// MissingColumnsError reports which mandatory semantic fields could not be
// matched to any uploaded header. The detected header list is echoed back so
// users can correct their file without guessing.
type MissingColumnsError struct {
	Missing []string
	Headers []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s (headers detected: %s)",
		strings.Join(e.Missing, ", "), strings.Join(e.Headers, ", "))
}

// ProcessingError is the fatal batch-level failure recorded in a batch's
// error details when processing aborts. Row-level problems are tallied in
// ErrorCount instead and never abort the batch.
type ProcessingError struct {
	Stage string // "download", "parse", "columns", "persist"
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("batch processing failed at %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
