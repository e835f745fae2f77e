// Package serviceerr defines the error taxonomy shared by the token store,
// the identity client and the request pipeline. Callers branch on the Code
// with errors.Is or IsCode; no error in this package is meant to be fatal.
package serviceerr

import (
	"errors"
	"net/http"
)

type Code string

const (
	// CodePersistence is reported when durable storage is unavailable.
	CodePersistence Code = "persistence_error"
	// CodeProvider is reported when the identity provider is unreachable
	// or rejects the credentials.
	CodeProvider Code = "provider_error"
	// CodeNetwork is reported when the backend is unreachable or answers
	// with an unexpected status.
	CodeNetwork Code = "network_error"
	// CodeValidation is reported when the input was rejected.
	CodeValidation Code = "validation_error"

	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeUnknown      Code = "unknown"
)

// Error is a classified error. StatusCode is the HTTP status reported by a
// remote party, zero when the failure happened locally.
type Error struct {
	Err         Code
	Description string
	StatusCode  int

	cause error
}

var (
	ErrPersistence  = &Error{Err: CodePersistence, Description: "durable storage unavailable"}
	ErrProvider     = &Error{Err: CodeProvider, Description: "identity provider failure"}
	ErrNetwork      = &Error{Err: CodeNetwork, Description: "backend request failed"}
	ErrValidation   = &Error{Err: CodeValidation, Description: "invalid input"}
	ErrUnauthorized = &Error{Err: CodeUnauthorized, Description: "not authenticated", StatusCode: http.StatusUnauthorized}
	ErrForbidden    = &Error{Err: CodeForbidden, Description: "access denied", StatusCode: http.StatusForbidden}
	ErrNotFound     = &Error{Err: CodeNotFound, Description: "not found", StatusCode: http.StatusNotFound}
	ErrUnknown      = &Error{Err: CodeUnknown, Description: "unknown error"}
)

// New returns an error of the given code.
func New(code Code, description string) *Error {
	return &Error{Err: code, Description: description}
}

// Wrap classifies cause under code. The cause stays reachable through
// errors.Is and errors.As.
func Wrap(code Code, cause error, description string) *Error {
	return &Error{Err: code, Description: description, cause: cause}
}

// WithStatus returns a copy of e carrying the remote status code.
func (e *Error) WithStatus(status int) *Error {
	c := *e
	c.StatusCode = status
	return &c
}

func (e *Error) Error() string {
	msg := string(e.Err)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so the predefined errors work as
// sentinels: errors.Is(err, serviceerr.ErrNetwork).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Err == e.Err
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Err == code
	}
	return false
}

// FromStatus maps a non-2xx backend status to its code.
func FromStatus(status int) Code {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeValidation
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	default:
		return CodeNetwork
	}
}
