// Package fault defines the error kinds surfaced by HermesIndex and the
// mapping from kinds to HTTP status codes.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure.
type Kind string

// Kind values.
const (
	KindConfigInvalid    Kind = "CONFIG_INVALID"
	KindDBUnavailable    Kind = "DB_UNAVAILABLE"
	KindEmbedUnavailable Kind = "EMBED_UNAVAILABLE"
	KindEmbedBusy        Kind = "EMBED_BUSY"
	KindVectorUnavail    Kind = "VECTOR_UNAVAILABLE"
	KindDimMismatch      Kind = "DIM_MISMATCH"
	KindVersionMismatch  Kind = "VERSION_MISMATCH"
	KindRowFailed        Kind = "ROW_FAILED"
	KindExpandTimeout    Kind = "EXPAND_TIMEOUT"
	KindNotFound         Kind = "NOT_FOUND"
	KindEmptyQuery       Kind = "EMPTY_QUERY"
	KindCancelled        Kind = "CANCELLED"
	KindInternal         Kind = "INTERNAL"
)

// Error carries a Kind alongside a human-readable message and an
// optional cause.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Kind returns the error kind.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the human-readable message.
func (e *Error) Message() string { return e.message }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap returns the cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the Kind from err, walking the wrap chain.
// Context cancellation maps to KindCancelled; everything else without an
// explicit kind maps to KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus returns the HTTP status code for a kind.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindEmptyQuery:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindEmbedUnavailable, KindEmbedBusy, KindVectorUnavail, KindDBUnavailable:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
