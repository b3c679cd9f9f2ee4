// Package apperr carries the pipeline's error taxonomy. Errors are built and
// wrapped with eris so call sites keep full context; the kind survives
// wrapping and maps to an HTTP status at the API boundary.
package apperr

import (
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
)

// Kind classifies an error for API mapping and run-failure reporting.
type Kind string

const (
	KindBadRequest Kind = "BAD_REQUEST"
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindUpstream   Kind = "UPSTREAM_ERROR"
	KindExtraction Kind = "EXTRACTION_ERROR"
	KindInternal   Kind = "INTERNAL_ERROR"
)

// Error is a kinded error. It is created by the constructor helpers and
// detected through errors.As, so eris wrapping above it is transparent.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

// New builds a kinded error with an eris root for stack context.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, err: eris.New(msg)}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, err: eris.Errorf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: eris.Wrap(err, msg)}
}

func BadRequest(format string, args ...any) error { return Newf(KindBadRequest, format, args...) }
func NotFound(format string, args ...any) error   { return Newf(KindNotFound, format, args...) }
func Conflict(format string, args ...any) error   { return Newf(KindConflict, format, args...) }
func Extraction(format string, args ...any) error { return Newf(KindExtraction, format, args...) }

// Upstream wraps a transport/format failure from storage or the LLM.
func Upstream(err error, msg string) error { return Wrap(KindUpstream, err, msg) }

// KindOf extracts the kind of err, or KindInternal for unkinded errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	case KindExtraction:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
