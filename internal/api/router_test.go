package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudcompanion/internal/api/handlers"
	"cloudcompanion/internal/api/middleware"
	"cloudcompanion/internal/engine/accounts"
	"cloudcompanion/internal/engine/actions"
	"cloudcompanion/internal/engine/digitalocean"
	"cloudcompanion/internal/engine/droplets"
	"cloudcompanion/internal/engine/keypool"
	"cloudcompanion/internal/platform/audit"
	"cloudcompanion/internal/platform/auth"
	"cloudcompanion/internal/platform/config"
	"cloudcompanion/internal/platform/database"
	"cloudcompanion/internal/platform/models"
	"cloudcompanion/internal/platform/repositories"
)

type testServer struct {
	router  *httprouter.Router
	invites *repositories.InviteRepository
	roles   *repositories.RoleRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite3", URL: ":memory:", MaxConnections: 1})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, "up"))
	t.Cleanup(func() { db.Close() })

	// No provider traffic is expected in these tests.
	client := digitalocean.NewClient("http://127.0.0.1:1", time.Second)

	users := repositories.NewUserRepository(db)
	roles := repositories.NewRoleRepository(db)
	limits := repositories.NewLimitsRepository(db)
	invites := repositories.NewInviteRepository(db)
	apiKeys := repositories.NewAPIKeyRepository(db)
	dropletRepo := repositories.NewDropletRepository(db)
	auditLog := audit.NewLogger(db)
	t.Cleanup(auditLog.Wait)

	jwtCfg := config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 24 * time.Hour}
	tokens := auth.NewTokenService(jwtCfg)
	defaults := config.LimitsConfig{MaxDroplets: 2}
	pool := keypool.NewManager(apiKeys, client)
	guard, err := actions.NewGuard()
	require.NoError(t, err)

	dispatcher := actions.NewDispatcher(actions.Deps{
		Client:     client,
		Keys:       pool,
		APIKeys:    apiKeys,
		Droplets:   dropletRepo,
		Limits:     limits,
		Invites:    invites,
		Users:      users,
		Roles:      roles,
		Reconciler: droplets.NewReconciler(client, dropletRepo, pool),
		Audit:      auditLog,
		Guard:      guard,
		Defaults:   defaults,
	})
	sweeper := droplets.NewSweeper(limits, dropletRepo, client, pool)

	router := NewRouter(&Dependencies{
		ActionHandler:    handlers.NewActionHandler(dispatcher),
		AuthHandler:      handlers.NewAuthHandler(accounts.NewService(users, roles, limits, invites, tokens, defaults, jwtCfg.AccessTokenTTL)),
		AuditHandler:     handlers.NewAuditHandler(auditLog),
		SweepHandler:     handlers.NewSweepHandler(sweeper, "trigger-secret"),
		HealthHandler:    handlers.NewHealthHandler(db),
		MetricsHandler:   handlers.NewMetricsHandler(),
		AuthMiddleware:   middleware.NewAuthMiddleware(tokens),
		CallerMiddleware: middleware.NewCallerMiddleware(roles),
		RateLimiter:      middleware.NewRateLimiter(config.RateLimitConfig{ActionsPerMinute: 600, Burst: 50}),
	})
	return &testServer{router: router, invites: invites, roles: roles}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) signup(t *testing.T, email string) accounts.Session {
	t.Helper()
	ctx := context.Background()
	key := "INV-" + email
	require.NoError(t, s.invites.Create(ctx, &models.InviteKey{Key: key, MaxUses: 1}))

	rr := s.do(t, "POST", "/api/v1/auth/signup", "", map[string]string{
		"inviteKey": key,
		"email":     email,
		"password":  "long-enough-password",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var session accounts.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &session))
	return session
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestActionEndpoint(t *testing.T) {
	s := newTestServer(t)
	session := s.signup(t, "alice@example.com")

	t.Run("requires a bearer token", func(t *testing.T) {
		rr := s.do(t, "POST", "/api/v1/digitalocean", "", map[string]string{"action": "get-my-limits"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("rejects refresh tokens", func(t *testing.T) {
		rr := s.do(t, "POST", "/api/v1/digitalocean", session.RefreshToken, map[string]string{"action": "get-my-limits"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("returns the action result", func(t *testing.T) {
		rr := s.do(t, "POST", "/api/v1/digitalocean", session.AccessToken, map[string]string{"action": "get-my-limits"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var body struct {
			Limits       models.UserLimits `json:"limits"`
			DropletCount int               `json:"dropletCount"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Limits.MaxDroplets)
		assert.Equal(t, 0, body.DropletCount)
	})

	t.Run("unknown action is a 400 naming the action", func(t *testing.T) {
		rr := s.do(t, "POST", "/api/v1/digitalocean", session.AccessToken, map[string]string{"action": "reticulate-splines"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := decodeError(t, rr)
		assert.Equal(t, "Unknown action: reticulate-splines", body["error"])
		assert.Equal(t, "INVALID_INPUT", body["code"])
	})

	t.Run("admin actions are refused for users", func(t *testing.T) {
		rr := s.do(t, "POST", "/api/v1/digitalocean", session.AccessToken, map[string]string{"action": "admin-list-users"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "FORBIDDEN", decodeError(t, rr)["code"])
	})

	t.Run("provider actions need a configured key", func(t *testing.T) {
		rr := s.do(t, "POST", "/api/v1/digitalocean", session.AccessToken, map[string]string{"action": "get-regions"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "CONFIGURATION", decodeError(t, rr)["code"])
	})

	t.Run("role changes apply without a new token", func(t *testing.T) {
		require.NoError(t, s.roles.SetRole(context.Background(), session.User.ID, models.RoleAdmin))
		rr := s.do(t, "POST", "/api/v1/digitalocean", session.AccessToken, map[string]string{"action": "admin-list-users"})
		assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	})
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t)
	session := s.signup(t, "bob@example.com")

	rr := s.do(t, "POST", "/api/v1/auth/login", "", map[string]string{"email": "bob@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, "POST", "/api/v1/auth/login", "", map[string]string{"email": "bob@example.com", "password": "long-enough-password"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, "POST", "/api/v1/auth/refresh", "", map[string]string{"refresh_token": session.RefreshToken})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, "POST", "/api/v1/auth/refresh", "", map[string]string{"refresh_token": session.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// The single-use invite is spent.
	rr = s.do(t, "POST", "/api/v1/auth/signup", "", map[string]string{
		"inviteKey": "INV-bob@example.com",
		"email":     "carol@example.com",
		"password":  "long-enough-password",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuditLogsRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	session := s.signup(t, "dave@example.com")

	rr := s.do(t, "GET", "/api/v1/admin/audit-logs", session.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	require.NoError(t, s.roles.SetRole(context.Background(), session.User.ID, models.RoleAdmin))
	rr = s.do(t, "GET", "/api/v1/admin/audit-logs", session.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSweepTrigger(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, "POST", "/api/v1/internal/auto-destroy", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, "POST", "/api/v1/internal/auto-destroy", "trigger-secret", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "CONFIGURATION", decodeError(t, rr)["code"])

	for header, want := range map[string]int{
		"trigger-secret":        http.StatusUnauthorized,
		"Basic trigger-secret":  http.StatusUnauthorized,
		"bearer trigger-secret": http.StatusServiceUnavailable,
	} {
		req := httptest.NewRequest("POST", "/api/v1/internal/auto-destroy", nil)
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, req)
		assert.Equal(t, want, rr.Code, header)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"database":"healthy"`)

	rr = s.do(t, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, "GET", "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
