package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Error kinds returned by the engine. Callers match them with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("resource not found")
	ErrConflict    = errors.New("resource conflict")
	ErrState       = errors.New("invalid state for operation")
	ErrConcurrency = errors.New("concurrent modification")
	ErrStorage     = errors.New("storage failure")
)

// Error is a typed engine error carrying its kind, the failing operation and a
// message safe to show to API clients.
type Error struct {
	Kind    error
	Op      string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.cause}
}

func validationError(op, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(op, resource string, id uint) *Error {
	return &Error{Kind: ErrNotFound, Op: op, Message: fmt.Sprintf("%s %d not found", resource, id)}
}

func conflictError(op, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

func stateError(op, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrState, Op: op, Message: fmt.Sprintf(format, args...)}
}

func concurrencyError(op string, cause error) *Error {
	return &Error{Kind: ErrConcurrency, Op: op, Message: "resource was modified concurrently, retry the request", cause: cause}
}

// storageError hides driver detail from the message while keeping it for logs.
func storageError(op string, cause error) *Error {
	return &Error{Kind: ErrStorage, Op: op, Message: "storage failure", cause: cause}
}

// lookupError translates a repository lookup failure.
func lookupError(op, resource string, id uint, err error) *Error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundError(op, resource, id)
	}
	return storageError(op, err)
}

// Cause returns the underlying error of an engine error, for logging.
func Cause(err error) error {
	var engineErr *Error
	if errors.As(err, &engineErr) && engineErr.cause != nil {
		return engineErr.cause
	}
	return err
}
