package upload

import (
	"errors"
	"fmt"
)

// Stable machine-readable error codes returned to clients alongside a message.
const (
	CodeInvalidRequest       = "InvalidRequest"
	CodePathViolation        = "PathViolation"
	CodeNotFound             = "NotFound"
	CodeInvalidState         = "InvalidState"
	CodeChunkIndexOutOfRange = "ChunkIndexOutOfRange"
	CodeOffsetMismatch       = "OffsetMismatch"
	CodePayloadTooLarge      = "PayloadTooLarge"
	CodeQuotaExceeded        = "QuotaExceeded"
	CodeTooManyConcurrent    = "TooManyConcurrent"
	CodeAssemblyError        = "AssemblyError"
	CodeTimeout              = "Timeout"
)

// Error is a coded upload-engine error. Retryable errors never mutate
// session state, so clients may resubmit the same unit safely.
type Error struct {
	Code      string
	Message   string
	Retryable bool

	// ExpectedOffset is set for OffsetMismatch so the client can
	// reposition its stream.
	ExpectedOffset int64
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func retryableError(code, format string, args ...any) *Error {
	e := newError(code, format, args...)
	e.Retryable = true
	return e
}

func offsetMismatch(expected, got int64) *Error {
	e := newError(CodeOffsetMismatch, "expected offset %d, got %d", expected, got)
	e.ExpectedOffset = expected
	return e
}

// IsCode reports whether err carries the given upload error code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// CodeOf returns the error code carried by err, or empty string.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
