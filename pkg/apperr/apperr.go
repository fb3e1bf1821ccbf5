// Package apperr defines the error taxonomy of the session orchestrator.
//
// Every failure that crosses a component boundary is an *Error carrying one
// of the codes below. Kinds are compared with errors.Is against the exported
// sentinels, so wrapping with fmt.Errorf("...: %w", err) keeps them intact.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes.
const (
	CodeServiceStart            = "SERVICE_START"
	CodeServiceStop             = "SERVICE_STOP"
	CodeServiceNotStarted       = "SERVICE_NOT_STARTED"
	CodeModelDownload           = "MODEL_DOWNLOAD"
	CodeModelLoad               = "MODEL_LOAD"
	CodeModelLoadTimeout        = "MODEL_LOAD_TIMEOUT"
	CodeCompletion              = "COMPLETION"
	CodeInvalidRequest          = "INVALID_REQUEST"
	CodeAugmentationUnavailable = "AUGMENTATION_UNAVAILABLE"
)

// Sentinels for errors.Is.
var (
	ErrServiceStart            = &Error{Code: CodeServiceStart, Message: "failed to start inference service"}
	ErrServiceStop             = &Error{Code: CodeServiceStop, Message: "failed to stop inference service"}
	ErrNotStarted              = &Error{Code: CodeServiceNotStarted, Message: "inference service not started"}
	ErrModelDownload           = &Error{Code: CodeModelDownload, Message: "model download failed"}
	ErrModelLoad               = &Error{Code: CodeModelLoad, Message: "model load failed"}
	ErrModelLoadTimeout        = &Error{Code: CodeModelLoadTimeout, Message: "model load timed out"}
	ErrCompletion              = &Error{Code: CodeCompletion, Message: "completion failed"}
	ErrInvalidRequest          = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrAugmentationUnavailable = &Error{Code: CodeAugmentationUnavailable, Message: "augmentation unavailable"}
)

// Error is the error type shared by all orchestrator components.
type Error struct {
	// Code identifies the kind for programmatic handling
	Code string

	// Message is a human-readable description
	Message string

	// Inner is the underlying error, if any
	Inner error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Inner != nil {
		if msg := e.Inner.Error(); msg != "" && msg != e.Message {
			sb.WriteString(": ")
			sb.WriteString(msg)
		}
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Wrap creates an error of the given kind. The message is taken from format
// when non-empty, otherwise from the kind itself.
func Wrap(kind *Error, inner error, format string, args ...interface{}) *Error {
	msg := kind.Message
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: kind.Code, Message: msg, Inner: inner}
}

// New creates an error of the given kind without an underlying cause.
func New(kind *Error, format string, args ...interface{}) *Error {
	return Wrap(kind, nil, format, args...)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage renders err as a single result-stream line.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return "Error: " + err.Error() + "\n"
}
