package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "cloudcompanion/internal/api/context"
	"cloudcompanion/internal/api/handlers"
	"cloudcompanion/internal/api/middleware"
	"cloudcompanion/internal/pkg/errors"
)

type Dependencies struct {
	ActionHandler    *handlers.ActionHandler
	AuthHandler      *handlers.AuthHandler
	AuditHandler     *handlers.AuditHandler
	SweepHandler     *handlers.SweepHandler
	HealthHandler    *handlers.HealthHandler
	MetricsHandler   *handlers.MetricsHandler
	AuthMiddleware   *middleware.AuthMiddleware
	CallerMiddleware *middleware.CallerMiddleware
	RateLimiter      *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Not found", nil)
	})

	// Operational endpoints
	router.GET("/healthz", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Authentication routes
	router.POST("/api/v1/auth/signup", wrap(deps.AuthHandler.Signup))
	router.POST("/api/v1/auth/login", wrap(deps.AuthHandler.Login))
	router.POST("/api/v1/auth/refresh", wrap(deps.AuthHandler.Refresh))

	// Middleware references
	authMid := deps.AuthMiddleware
	callerMid := deps.CallerMiddleware

	// Action protocol
	router.POST("/api/v1/digitalocean",
		chain(deps.ActionHandler.Handle, authMid.Handle, callerMid.Handle, deps.RateLimiter.Handle))

	// Administration
	router.GET("/api/v1/admin/audit-logs",
		chain(deps.AuditHandler.List, authMid.Handle, callerMid.Handle, middleware.RequireAdmin))

	// Scheduler hook, authenticated by a shared token instead of a user session
	router.POST("/api/v1/internal/auto-destroy", wrap(deps.SweepHandler.Trigger))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
