package handlers

import (
	"crypto/subtle"
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"cloudcompanion/internal/engine/droplets"
	"cloudcompanion/internal/engine/keypool"
	"cloudcompanion/internal/pkg/errors"
	"cloudcompanion/internal/platform/auth"
)

// SweepHandler lets an external scheduler trigger the auto-destroy sweep.
// The endpoint is disabled while no trigger token is configured.
type SweepHandler struct {
	sweeper *droplets.Sweeper
	token   string
}

func NewSweepHandler(sweeper *droplets.Sweeper, token string) *SweepHandler {
	return &SweepHandler{sweeper: sweeper, token: token}
}

func (h *SweepHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.token == "" {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Not found", nil)
		return
	}
	presented, ok := auth.BearerToken(r)
	if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid trigger token", nil)
		return
	}

	result, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("auto-destroy sweep failed")
		if stderrors.Is(err, keypool.ErrNoActiveKey) {
			errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeConfiguration, "No active DigitalOcean API key configured", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Sweep failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
