package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	apiContext "cloudcompanion/internal/api/context"
	"cloudcompanion/internal/pkg/errors"
	"cloudcompanion/internal/platform/auth"
	"cloudcompanion/internal/platform/models"
	"cloudcompanion/internal/platform/repositories"
)

// CallerMiddleware resolves the authenticated user's current role. The role in the
// token is ignored so that a demotion takes effect on the next request.
type CallerMiddleware struct {
	roles *repositories.RoleRepository
}

func NewCallerMiddleware(roles *repositories.RoleRepository) *CallerMiddleware {
	return &CallerMiddleware{roles: roles}
}

func (m *CallerMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
		if !ok || claims.UserID() == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
			return
		}

		role, err := m.roles.GetRole(r.Context(), claims.UserID())
		if err != nil {
			log.Error().Err(err).Str("user_id", claims.UserID()).Msg("failed to load role")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodePersistence, "Failed to load user role", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Caller, &models.Caller{
			UserID: claims.UserID(),
			Email:  claims.Email,
			Role:   role,
		})
		next(w, r.WithContext(ctx))
	}
}

// CallerFrom returns the caller stored by CallerMiddleware, or nil.
func CallerFrom(ctx context.Context) *models.Caller {
	c, _ := ctx.Value(apiContext.Caller).(*models.Caller)
	return c
}

// RequireAdmin rejects callers that are not administrators. It must run after
// CallerMiddleware.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !CallerFrom(r.Context()).IsAdmin() {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Admin access required", nil)
			return
		}
		next(w, r)
	}
}
