package apperror

import (
	"errors"
	"fmt"
)

// Code classifies a failure independently of the transport that reports it.
type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeForbidden       Code = "PERMISSION_DENIED"
	CodeConflict        Code = "CONFLICT"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeInternal        Code = "INTERNAL"
)

// Error is a typed application failure.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an error with the given code around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func InvalidArg(msg string) *Error {
	return New(CodeInvalidArgument, msg)
}

func NotFound(msg string) *Error {
	return New(CodeNotFound, msg)
}

func Forbidden(msg string) *Error {
	return New(CodeForbidden, msg)
}

func Conflict(msg string) *Error {
	return New(CodeConflict, msg)
}

func Unauthorized(msg string) *Error {
	return New(CodeUnauthenticated, msg)
}

// Internal wraps a store or transport failure.
func Internal(msg string, cause error) *Error {
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf returns the code of the first *Error in the chain, or CodeUnknown.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// MessageOf returns the message of the first *Error in the chain, falling back to err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
