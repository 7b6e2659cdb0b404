package handlers

import (
	"io"
	"net/http"

	"cloudcompanion/internal/api/middleware"
	"cloudcompanion/internal/engine/actions"
	"cloudcompanion/internal/pkg/errors"
)

// ActionHandler serves the single action endpoint. Every dispatcher failure is
// reported as 400 with the error message and its code.
type ActionHandler struct {
	dispatcher *actions.Dispatcher
}

func NewActionHandler(dispatcher *actions.Dispatcher) *ActionHandler {
	return &ActionHandler{dispatcher: dispatcher}
}

func (h *ActionHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), middleware.CallerFrom(r.Context()), body)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.CodeOf(err), errors.MessageOf(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
