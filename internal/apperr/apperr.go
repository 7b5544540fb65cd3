// Package apperr defines the error taxonomy shared by the server pipeline,
// the HTTP layer and the client wrapper.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure. Its string value is what travels on
// the wire in the "errorCode" field.
type Code string

const (
	Validation         Code = "VALIDATION_ERROR"
	ServiceUnavailable Code = "LLM_SERVICE_UNAVAILABLE"
	GenerationFailed   Code = "LLM_GENERATION_FAILED"
	Network            Code = "NETWORK_ERROR"
	Auth               Code = "AUTH_ERROR"
	NotFound           Code = "NOT_FOUND"
	Unknown            Code = "UNKNOWN_ERROR"
)

// Known reports whether c is one of the codes above.
func (c Code) Known() bool {
	switch c {
	case Validation, ServiceUnavailable, GenerationFailed, Network, Auth, NotFound, Unknown:
		return true
	}
	return false
}

// Error is a classified failure. Message is safe to show to the end user
// when UserError is set; Details carries diagnostics (raw model output,
// provider name, the original error text).
type Error struct {
	Code      Code
	Message   string
	Details   map[string]any
	UserError bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil && e.cause.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error without an underlying cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		UserError: code == Validation || code == Auth || code == NotFound,
	}
}

// Wrap classifies err under code, keeping err reachable through errors.Is/As.
func Wrap(code Code, err error, msg string) *Error {
	e := New(code, "%s", msg)
	e.cause = err
	return e
}

// WithDetail returns e with key set in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or Unknown.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return Unknown
}

// Classify converts any error into an *Error, mapping unclassified errors
// to Unknown.
func Classify(err error) *Error {
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(Unknown, err, "An unexpected error occurred.")
}

// HTTPStatus maps a code to the status the HTTP layer responds with.
func HTTPStatus(c Code) int {
	switch c {
	case Validation:
		return http.StatusBadRequest
	case Auth:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	case Network:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
