// Package errors implements the error taxonomy from the error-handling
// design: sentinel errors for the common resource-level failures, plus a
// typed Error carrying an HTTP status and machine-readable code for anything
// that must cross the chat API boundary.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrValidation      = errors.New("validation failed")
	ErrRateLimited     = errors.New("rate limited")
)

// Class categorizes an error for logging/metrics and retry decisions.
type Class string

const (
	ClassInput           Class = "input_error"
	ClassValidation      Class = "validation_error"
	ClassTransientRemote Class = "transient_remote_error"
	ClassNotFound        Class = "not_found"
	ClassRateLimit       Class = "rate_limit"
	ClassGraph           Class = "graph_error"
	ClassInternal        Class = "internal_error"
)

// Error is the typed error that crosses the chat API boundary. It carries an
// HTTP status, a machine-readable code, a class for the taxonomy in spec §7,
// and the underlying cause.
type Error struct {
	Status int
	Code   string
	Class  Class
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, class Class, err error) *Error {
	return &Error{Status: status, Code: code, Class: class, Err: err}
}

func Input(code string, err error) *Error {
	return New(400, code, ClassInput, err)
}

func Validation(code string, err error) *Error {
	return New(422, code, ClassValidation, err)
}

func NotFound(code string, err error) *Error {
	return New(404, code, ClassNotFound, err)
}

func RateLimited(code string, err error) *Error {
	return New(429, code, ClassRateLimit, err)
}

func TransientRemote(code string, err error) *Error {
	return New(502, code, ClassTransientRemote, err)
}

func Internal(err error) *Error {
	return New(500, "internal_error", ClassInternal, err)
}
