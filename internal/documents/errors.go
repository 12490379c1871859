package documents

import (
	"errors"
	"fmt"
)

// Validation failures, raised before any reader runs.
var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// ParseErrorKind tells the processor whether the next reader may be tried.
type ParseErrorKind int

const (
	// ParameterMismatch means the reader cannot accept this input shape.
	ParameterMismatch ParseErrorKind = iota
	// MissingDependency means an optional component is not installed.
	MissingDependency
	// Corrupt means the input was accepted but could not be read.
	Corrupt
	// NoContent means the input parsed but yielded no text.
	NoContent
)

func (k ParseErrorKind) String() string {
	switch k {
	case ParameterMismatch:
		return "parameter mismatch"
	case MissingDependency:
		return "missing optional dependency"
	case Corrupt:
		return "corrupt input"
	case NoContent:
		return "no extractable content"
	}
	return "unknown"
}

// ParseError is a single reader's failure.
type ParseError struct {
	Reader   string
	Filename string
	Kind     ParseErrorKind
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s reader: %s: %s", e.Reader, e.Filename, e.Kind)
	}
	return fmt.Sprintf("%s reader: %s: %s: %v", e.Reader, e.Filename, e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Retryable reports whether the processor may fall back to the next reader.
func (e *ParseError) Retryable() bool {
	return e.Kind == ParameterMismatch || e.Kind == MissingDependency
}

func parseErr(reader, filename string, kind ParseErrorKind, err error) *ParseError {
	return &ParseError{Reader: reader, Filename: filename, Kind: kind, Err: err}
}

// ProcessingError reports an ingestion failure for one file.
type ProcessingError struct {
	Filename string
	Cause    error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("failed to process %s: %v", e.Filename, e.Cause)
}

func (e *ProcessingError) Unwrap() error { return e.Cause }

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyFile) || errors.Is(err, ErrFileTooLarge) || errors.Is(err, ErrUnsupportedType)
}
