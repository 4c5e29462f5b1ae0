package services

import (
	"errors"
	"fmt"
)

// ErrorCode distinguishes the failure classes reported to callers
type ErrorCode string

const (
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeInvalidState ErrorCode = "INVALID_STATE"
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
)

// Error is a recoverable domain failure. Message names the precondition that failed.
type Error struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a voucher, lot or SKU lookup miss
func NotFound(format string, args ...any) *Error {
	return newError(CodeNotFound, format, args...)
}

// InvalidState reports a transition attempted from a state that does not allow it
func InvalidState(format string, args ...any) *Error {
	return newError(CodeInvalidState, format, args...)
}

// ValidationError reports a missing or malformed input
func ValidationError(format string, args ...any) *Error {
	return newError(CodeValidation, format, args...)
}

// Unauthorized reports an actor without the required role
func Unauthorized(format string, args ...any) *Error {
	return newError(CodeUnauthorized, format, args...)
}

// IsCode reports whether err is a domain error with the given code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// AsError extracts the domain error, if any
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
