package types

import (
	"errors"
	"net/http"

	"github.com/gravitational/trace"
)

// Kind enumerates the error taxonomy used across every HoneyLink
// component, matching the §7 Error Handling Design table.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindInvalidTransition    Kind = "invalid_transition"
	KindUnauthorized         Kind = "unauthorized"
	KindForbidden            Kind = "forbidden"
	KindResourceExhausted    Kind = "resource_exhausted"
	KindDependencyFailure    Kind = "dependency_failure"
	KindTimeout              Kind = "timeout"
	KindEmergencyTimeout     Kind = "emergency_timeout"
	KindRotationFailed       Kind = "rotation_failed"
	KindKeyExpired           Kind = "key_expired"
	KindKeyNotFound          Kind = "key_not_found"
	KindSignatureInvalid     Kind = "signature_invalid"
	KindDeprecated           Kind = "deprecated"
	KindProtocolNotSupported Kind = "protocol_not_supported"
	KindEncryptionError      Kind = "encryption_error"
	KindNatTraversalFailed   Kind = "nat_traversal_failed"
	KindInternal             Kind = "internal"
)

// httpStatus maps each Kind to the status code a thin REST surface
// should render it as.
var httpStatus = map[Kind]int{
	KindValidation:           http.StatusBadRequest,
	KindNotFound:             http.StatusNotFound,
	KindConflict:             http.StatusConflict,
	KindInvalidTransition:    http.StatusConflict,
	KindUnauthorized:         http.StatusUnauthorized,
	KindForbidden:            http.StatusForbidden,
	KindResourceExhausted:    http.StatusServiceUnavailable,
	KindDependencyFailure:    http.StatusBadGateway,
	KindTimeout:              http.StatusGatewayTimeout,
	KindEmergencyTimeout:     http.StatusGatewayTimeout,
	KindRotationFailed:       http.StatusInternalServerError,
	KindKeyExpired:           http.StatusForbidden,
	KindKeyNotFound:          http.StatusNotFound,
	KindSignatureInvalid:     http.StatusUnauthorized,
	KindDeprecated:           http.StatusUnprocessableEntity,
	KindProtocolNotSupported: http.StatusNotImplemented,
	KindEncryptionError:      http.StatusInternalServerError,
	KindNatTraversalFailed:   http.StatusBadGateway,
	KindInternal:             http.StatusInternalServerError,
}

// Error is the concrete error type returned by every HoneyLink component.
// It carries the Kind needed to render an HTTP status without the web
// layer knowing about component-specific error values, and wraps the
// underlying trace.Wrap'd error so DebugReport/stack frames survive.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return string(e.Kind)
}

// Unwrap allows errors.Is/errors.As to see the cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus returns the status code the §7 mapping table assigns to
// this error's Kind.
func (e *Error) HTTPStatus() int {
	if code, ok := httpStatus[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// NewError constructs a Kind-tagged error wrapping err (or creating a new
// error from msg when err is nil). The cause, when present, is wrapped
// with trace.Wrap so a later trace.DebugReport still prints a stack.
func NewError(kind Kind, err error, msg string) *Error {
	var cause error
	if err != nil {
		cause = trace.Wrap(err)
	}
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// HTTPStatusFor maps any error to a status code, falling back to 500 for
// errors that are not a *types.Error.
func HTTPStatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
