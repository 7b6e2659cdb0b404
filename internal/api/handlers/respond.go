package handlers

import (
	"net/http"

	"github.com/goccy/go-json"

	"cloudcompanion/internal/pkg/errors"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error code to the HTTP status used outside the action endpoint.
func statusFor(code string) int {
	switch code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeQuotaExceeded:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeConfiguration:
		return http.StatusServiceUnavailable
	case errors.ErrCodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeAppError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	errors.WriteError(w, statusFor(code), code, errors.MessageOf(err), nil)
}
