package core

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrForbidden = NewAppError("permission denied", http.StatusForbidden)
	ErrNotFound  = NewAppError("not found", http.StatusNotFound)
)

// AppError is an error safe to show to clients, with the HTTP status it maps to.
type AppError struct {
	Message    string
	StatusCode int
}

func NewAppError(msg string, statusCode int) error {
	return &AppError{Message: msg, StatusCode: statusCode}
}

func (err AppError) Error() string { return err.Message }

// FieldError is a validation message for a single input field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError reports invalid input. Fields maps to a {field: message} response,
// Err is used as a single message when there are no Fields.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, fields ...FieldError) error {
	return &ValidationError{Err: err, Fields: fields}
}

func (err ValidationError) Error() string {
	switch {
	case err.Err != nil:
		return err.Err.Error()
	case len(err.Fields) > 0:
		return err.Fields[0].Field + ": " + err.Fields[0].Error
	default:
		return ""
	}
}

// shutdownError asks the API server to stop, e.g. when the database connection is gone.
type shutdownError string

func NewShutdownError(msg string) error {
	return shutdownError(msg)
}

func (s shutdownError) Error() string { return string(s) }

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(shutdownError)
	return ok
}
