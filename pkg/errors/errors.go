package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    int    // HTTP status code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

const (
	ErrNotFound     = http.StatusNotFound
	ErrUnauthorized = http.StatusUnauthorized
	ErrInvalidInput = http.StatusBadRequest
	ErrConflict     = http.StatusConflict
	ErrUpstream     = http.StatusBadGateway

	ErrInternalServer = http.StatusInternalServerError
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON renders the user-facing part of the error. The wrapped cause stays
// server-side.
func (e *AppError) ToJSON() string {
	b, err := json.Marshal(map[string]any{
		"type":    "error",
		"code":    e.Code,
		"message": e.Message,
	})
	if err != nil {
		return `{"type":"error","message":"internal server error"}`
	}
	return string(b)
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Code: ErrInternalServer, Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func NotFound(message string) *AppError {
	return &AppError{Code: ErrNotFound, Message: message}
}

func Unauthorized(message string) *AppError {
	return &AppError{Code: ErrUnauthorized, Message: message}
}

func InvalidInput(message string) *AppError {
	return &AppError{Code: ErrInvalidInput, Message: message}
}

// Conflict marks a data-integrity impossibility. Callers log the cause and
// surface only the message.
func Conflict(message string, err error) *AppError {
	return &AppError{Code: ErrConflict, Message: message, Err: err}
}

func Upstream(err error, message string) *AppError {
	return &AppError{Code: ErrUpstream, Message: message, Err: err}
}

// StatusCode extracts the HTTP status for an error, defaulting to 500.
func StatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok && appErr.Code != 0 {
		return appErr.Code
	}
	return ErrInternalServer
}
