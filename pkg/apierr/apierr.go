// Package apierr defines the error taxonomy shared by the HTTP server and the
// client gateways. Every failure crossing the API boundary is one of a fixed
// set of kinds, each with a canonical HTTP status.
package apierr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindTransport    Kind = "transport"
	KindServer       Kind = "server_error"
)

// Error is a typed failure. Status is the HTTP status observed or to be
// written; it is zero for transport failures where no response was obtained.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Code    string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an error of the given kind with its canonical status.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Status: StatusFor(kind), Message: msg}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Status: StatusFor(kind), Message: msg, Err: err}
}

func Validation(msg string) *Error   { return New(KindValidation, msg) }
func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error    { return New(KindForbidden, msg) }
func NotFound(msg string) *Error     { return New(KindNotFound, msg) }

// Transport reports a failure that happened before any response was received.
func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Message: "transport: " + err.Error(), Err: err}
}

// Server reports a backend failure.
func Server(msg string, err error) *Error {
	return Wrap(KindServer, msg, err)
}

// StatusFor returns the HTTP status written for a kind.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTransport:
		return 0
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus classifies an HTTP error response.
func FromStatus(status int, msg string) *Error {
	kind := KindServer
	switch {
	case status == http.StatusUnauthorized:
		kind = KindUnauthorized
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status >= 400 && status < 500:
		kind = KindValidation
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Kind: kind, Status: status, Message: msg}
}

// KindOf reports the kind of err. Errors that carry no kind are server errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindServer
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
