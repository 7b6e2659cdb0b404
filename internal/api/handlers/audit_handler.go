package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"cloudcompanion/internal/pkg/errors"
	"cloudcompanion/internal/platform/audit"
)

type AuditHandler struct {
	audit *audit.Logger
}

func NewAuditHandler(auditLog *audit.Logger) *AuditHandler {
	return &AuditHandler{audit: auditLog}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.audit.List(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list audit logs")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodePersistence, "Failed to load audit logs", nil)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
