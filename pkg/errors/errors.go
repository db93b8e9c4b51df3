// Package errors carries the ledger's typed errors. A Code decides the HTTP
// status, whether workers retry, and how much of the message callers see.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	// CodeConsistency marks ledger states that should never exist (two movements for
	// one event/material pair). Never retried and never auto-corrected.
	CodeConsistency Code = "CONSISTENCY_ERROR"
	// CodeTransient covers lock timeouts and serialization failures.
	CodeTransient Code = "TRANSIENT_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	final   = false
	retry   = true
	hidden  = false
	visible = true
)

func meta(status int, retryable bool, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: retryable, PublicMessage: public, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, final, "validation failed", visible),
	CodeNotFound:      meta(http.StatusNotFound, final, "resource not found", hidden),
	CodeConflict:      meta(http.StatusConflict, final, "conflict detected", hidden),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, final, "state transition disallowed", visible),
	CodeIdempotency:   meta(http.StatusConflict, final, "idempotency key reused", visible),
	CodeInternal:      meta(http.StatusInternalServerError, retry, "internal server error", hidden),
	CodeDependency:    meta(http.StatusServiceUnavailable, retry, "dependency unavailable", visible),
	CodeConsistency:   meta(http.StatusInternalServerError, final, "ledger consistency violation", visible),
	CodeTransient:     meta(http.StatusServiceUnavailable, retry, "temporarily unavailable, retry", hidden),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets the payload rendered under error.details when the code allows it.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code, so errors.Is(err, New(CodeNotFound, ""))
// works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code carried by err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// IsRetryable reports whether the error's code is marked retryable. Untyped errors
// are treated as retryable so an unknown failure never drops work.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).Retryable
}
