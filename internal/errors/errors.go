// Package errors provides standardized domain errors with codes for the AAX converter.
//
// Usage:
//
//	// In subsystems - return typed errors
//	if blob == nil {
//	    return errors.NotEncrypted("audio track carries no adrm box")
//	}
//
//	// In the driver - check with errors.Is
//	if errors.Is(err, errors.ErrActivationMismatch) {
//	    log.Error("activation does not match this file; re-fetch it from your account")
//	}
//
//	// Or use the Code directly for switch statements
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    os.Exit(domainErr.ExitCode())
//	}
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the converter.
const (
	CodeIO                 Code = "IO"
	CodeMalformedContainer Code = "MALFORMED_CONTAINER"
	CodeNotEncrypted       Code = "NOT_ENCRYPTED"
	CodeInvalidActivation  Code = "INVALID_ACTIVATION"
	CodeMissingActivation  Code = "MISSING_ACTIVATION"
	CodeActivationMismatch Code = "ACTIVATION_MISMATCH"
	CodeUnsupportedFormat  Code = "UNSUPPORTED_FORMAT"
	CodeMuxer              Code = "MUXER"
	CodeValidation         Code = "VALIDATION"
	CodeInternal           Code = "INTERNAL"
)

// CLI exit codes.
const (
	ExitOK                = 0
	ExitGeneralFailure    = 1
	ExitBadArguments      = 2
	ExitFileNotFound      = 3
	ExitConversionFailed  = 4
	ExitMissingActivation = 5
)

// ExitCode returns the CLI exit code for an error code.
func (c Code) ExitCode() int {
	switch c {
	case CodeValidation, CodeInvalidActivation, CodeUnsupportedFormat:
		return ExitBadArguments
	case CodeMissingActivation:
		return ExitMissingActivation
	case CodeMalformedContainer, CodeNotEncrypted, CodeActivationMismatch, CodeMuxer:
		return ExitConversionFailed
	case CodeIO:
		return ExitConversionFailed
	default:
		return ExitGeneralFailure
	}
}

// Error is a domain error with a code, message, and optional cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// ExitCode returns the CLI exit code for this error.
func (e *Error) ExitCode() int {
	return e.Code.ExitCode()
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrIO                 = &Error{Code: CodeIO, Message: "i/o failure"}
	ErrMalformedContainer = &Error{Code: CodeMalformedContainer, Message: "malformed container"}
	ErrNotEncrypted       = &Error{Code: CodeNotEncrypted, Message: "file is not DRM-encoded"}
	ErrInvalidActivation  = &Error{Code: CodeInvalidActivation, Message: "invalid activation code"}
	ErrMissingActivation  = &Error{Code: CodeMissingActivation, Message: "no activation code configured"}
	ErrActivationMismatch = &Error{Code: CodeActivationMismatch, Message: "activation does not match file"}
	ErrUnsupportedFormat  = &Error{Code: CodeUnsupportedFormat, Message: "unsupported output format"}
	ErrMuxer              = &Error{Code: CodeMuxer, Message: "muxer failure"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation error"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
)

// Constructor functions for creating errors with custom messages.

// IO creates an i/o error.
func IO(msg string) *Error {
	return &Error{Code: CodeIO, Message: msg}
}

// IOf creates an i/o error with formatted message.
func IOf(format string, args ...any) *Error {
	return &Error{Code: CodeIO, Message: fmt.Sprintf(format, args...)}
}

// MalformedContainer creates a malformed container error.
func MalformedContainer(msg string) *Error {
	return &Error{Code: CodeMalformedContainer, Message: msg}
}

// MalformedContainerf creates a malformed container error with formatted message.
func MalformedContainerf(format string, args ...any) *Error {
	return &Error{Code: CodeMalformedContainer, Message: fmt.Sprintf(format, args...)}
}

// NotEncrypted creates a not-encrypted error.
func NotEncrypted(msg string) *Error {
	return &Error{Code: CodeNotEncrypted, Message: msg}
}

// InvalidActivation creates an invalid activation format error.
func InvalidActivation(msg string) *Error {
	return &Error{Code: CodeInvalidActivation, Message: msg}
}

// MissingActivation creates a missing activation error.
func MissingActivation(msg string) *Error {
	return &Error{Code: CodeMissingActivation, Message: msg}
}

// ActivationMismatch creates an activation mismatch error.
func ActivationMismatch(msg string) *Error {
	return &Error{Code: CodeActivationMismatch, Message: msg}
}

// UnsupportedFormat creates an unsupported output format error.
func UnsupportedFormat(msg string) *Error {
	return &Error{Code: CodeUnsupportedFormat, Message: msg}
}

// Muxer creates a muxer error.
func Muxer(msg string) *Error {
	return &Error{Code: CodeMuxer, Message: msg}
}

// Muxerf creates a muxer error with formatted message.
func Muxerf(format string, args ...any) *Error {
	return &Error{Code: CodeMuxer, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
