// Package domainerrors carries coded errors from services to the transport layer.
//
// Stores return sentinel errors (see pkg/platform/sentinel). Services translate
// them into coded errors here, and handlers map codes to HTTP statuses. The
// message is always safe to show to a caller; the wrapped cause is not.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure independent of transport.
type Code string

const (
	CodeBadRequest           Code = "bad_request"
	CodeInvalidInput         Code = "invalid_input"
	CodeNotFound             Code = "not_found"
	CodeConflict             Code = "conflict"
	CodeUnauthorized         Code = "unauthorized"
	CodeForbidden            Code = "forbidden"
	CodeInternal             Code = "internal"
	CodeTimeout              Code = "timeout"
	CodeTooManyRequests      Code = "too_many_requests"
	CodeInvariantViolation   Code = "invariant_violation"
	CodeInvalidCredentials   Code = "invalid_credentials"
	CodeTokenExpired         Code = "token_expired"
	CodeRecordNotFound       Code = "record_not_found"
	CodeConfirmationRequired Code = "confirmation_required"
	CodeAlreadyVerified      Code = "already_verified"
)

// Error is a coded, caller-safe error with an optional internal cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports equality on code and message so tests can use errors.Is with a
// freshly constructed expected error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and caller-safe message to an underlying cause.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// From extracts the outermost coded error from a chain.
func From(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	de, ok := From(err)
	return ok && de.Code == code
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}
