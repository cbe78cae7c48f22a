package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Common sentinel errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNotConfigured     = errors.New("not configured")
	ErrUpstream          = errors.New("upstream service error")
)

// AppError represents an application-specific error with an HTTP status code.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// MapError maps an error chain to an AppError with an appropriate HTTP status code.
func MapError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return New(http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, ErrUnsupportedFormat):
		return New(http.StatusBadRequest, "Unsupported file type. Use .csv, .xml, .gz or .zip", err)
	case errors.Is(err, ErrNotFound):
		return New(http.StatusNotFound, "Resource not found", err)
	case errors.Is(err, ErrNotConfigured):
		return New(http.StatusServiceUnavailable, "Service not configured", err)
	case errors.Is(err, ErrUpstream):
		return New(http.StatusBadGateway, "Upstream service error", err)
	}

	return New(http.StatusInternalServerError, "Internal server error", err)
}
