package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeConfiguration     = "CONFIGURATION"
	ErrCodeUpstream          = "UPSTREAM"
	ErrCodePersistence       = "PERSISTENCE"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Error is a classified, human-readable failure. Message is safe to show to callers;
// Err carries the underlying cause for logs.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func Unauthorized(message string) *Error  { return New(ErrCodeUnauthorized, message) }
func Forbidden(message string) *Error     { return New(ErrCodeForbidden, message) }
func NotFound(message string) *Error      { return New(ErrCodeNotFound, message) }
func InvalidInput(message string) *Error  { return New(ErrCodeInvalidInput, message) }
func Conflict(message string) *Error      { return New(ErrCodeConflict, message) }
func Configuration(message string) *Error { return New(ErrCodeConfiguration, message) }

func Persistence(message string, err error) *Error {
	return Wrap(ErrCodePersistence, message, err)
}

// CodeOf returns the classification of err, or ErrCodeInternal for unclassified errors.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
