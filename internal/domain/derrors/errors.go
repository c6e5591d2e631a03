// Package derrors defines the domain error taxonomy shared by all domain
// services: NotFound, Conflict, Validation and Transient. Handlers map these
// to HTTP status codes; the dispatcher retries Transient errors and surfaces
// nothing to the original caller.
package derrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies a domain error.
type Kind int

const (
	// KindUnknown is the zero value; treated as an internal error.
	KindUnknown Kind = iota
	// KindNotFound: the referenced record does not exist or belongs to a
	// different hospital. The two cases are deliberately indistinguishable
	// to the caller.
	KindNotFound
	// KindConflict: terminal-state mutation, double acknowledge/resolve, or
	// duplicate open alert.
	KindConflict
	// KindValidation: malformed input, rejected before any transaction opens.
	KindValidation
	// KindTransient: database or broadcast failure; safe to retry.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a domain error with a kind and message. It may wrap an underlying
// cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotFoundf creates a KindNotFound error.
func NotFoundf(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf creates a KindConflict error.
func Conflictf(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Validationf creates a KindValidation error.
func Validationf(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Transientf creates a KindTransient error wrapping cause.
func Transientf(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of err, or KindUnknown if err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is a KindNotFound domain error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a KindConflict domain error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// HTTPStatus maps a domain error kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts a domain error into an echo HTTPError. Unknown errors are
// reported as opaque internal errors so internals never leak to clients.
func ToHTTP(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error")
	}
	return echo.NewHTTPError(status, err.Error())
}
