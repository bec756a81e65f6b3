// Package apperr defines the error taxonomy shared by the catalog and order
// packages. Every error surfaced to a client carries one of the stable codes
// below.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeInvalidAction     Code = "INVALID_ACTION"
	CodeConflict          Code = "CONFLICT"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodePersistence       Code = "PERSISTENCE_FAILURE"
)

// Sentinels for errors.Is checks. An *Error matches the sentinel of its code.
var (
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInsufficientStock = &Error{Code: CodeInsufficientStock, Message: "insufficient stock"}
	ErrInvalidAction     = &Error{Code: CodeInvalidAction, Message: "invalid action"}
	ErrConflict          = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInvalidInput      = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrPersistence       = &Error{Code: CodePersistence, Message: "persistence failure"}
)

// Error is a coded failure. Message is safe to show to clients; Err holds the
// underlying cause and is never rendered in responses.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code, so wrapped errors compare equal
// to the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func InsufficientStock(format string, args ...any) *Error {
	return New(CodeInsufficientStock, format, args...)
}

func InvalidAction(format string, args ...any) *Error {
	return New(CodeInvalidAction, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

func InvalidInput(format string, args ...any) *Error {
	return New(CodeInvalidInput, format, args...)
}

// Persistence wraps a storage failure. Already coded errors pass through
// untouched so a NOT_FOUND raised inside a transaction keeps its code.
func Persistence(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	return Wrap(CodePersistence, err, format, args...)
}

// CodeOf extracts the code of err, defaulting to PERSISTENCE_FAILURE for
// uncoded errors.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodePersistence
}

// MessageOf returns the client-safe message of err.
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return "internal error"
}
