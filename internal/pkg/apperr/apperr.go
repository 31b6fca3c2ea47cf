// Package apperr defines the failure taxonomy shared by the loyalty domains.
//
// Every expected domain failure is a sentinel *Error carrying a Kind and a
// stable machine-readable Code. Handlers translate the Kind into an HTTP
// status; the Code goes to the client unchanged so terminals can show a
// deterministic message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindStateConflict      Kind = "state_conflict"
	KindExpired            Kind = "expired"
	KindInsufficientPoints Kind = "insufficient_points"
	KindOwnershipMismatch  Kind = "ownership_mismatch"
	KindInputInvalid       Kind = "input_invalid"
	KindInternal           Kind = "internal"
)

// Error is a typed domain failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New creates a sentinel error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// ErrInternal is wrapped around every infrastructure failure.
var ErrInternal = New(KindInternal, "INTERNAL_ERROR", "internal error")

// KindOf returns the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the client-facing code for err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal.Code
}

// MessageOf returns the sentinel's message without wrapping context.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}

// HTTPStatus maps a failure to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindExpired:
		return http.StatusGone
	case KindInsufficientPoints:
		return http.StatusUnprocessableEntity
	case KindOwnershipMismatch:
		return http.StatusForbidden
	case KindInputInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Internal passes typed errors through and wraps anything else in ErrInternal.
func Internal(err error, step string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return fmt.Errorf("%w: %s", ErrInternal, step)
}
