package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cloudcompanion/internal/api"
	"cloudcompanion/internal/api/handlers"
	"cloudcompanion/internal/api/middleware"
	"cloudcompanion/internal/engine/accounts"
	"cloudcompanion/internal/engine/actions"
	"cloudcompanion/internal/engine/digitalocean"
	"cloudcompanion/internal/engine/droplets"
	"cloudcompanion/internal/engine/keypool"
	"cloudcompanion/internal/pkg/logger"
	"cloudcompanion/internal/platform/audit"
	"cloudcompanion/internal/platform/auth"
	"cloudcompanion/internal/platform/config"
	"cloudcompanion/internal/platform/database"
	"cloudcompanion/internal/platform/repositories"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret must be set")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(db, "up"); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	roleRepo := repositories.NewRoleRepository(db)
	limitsRepo := repositories.NewLimitsRepository(db)
	inviteRepo := repositories.NewInviteRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	dropletRepo := repositories.NewDropletRepository(db)
	auditLog := audit.NewLogger(db)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	client := digitalocean.NewClient(cfg.DigitalOcean.BaseURL, cfg.DigitalOcean.Timeout)
	keyPool := keypool.NewManager(apiKeyRepo, client)
	reconciler := droplets.NewReconciler(client, dropletRepo, keyPool)
	sweeper := droplets.NewSweeper(limitsRepo, dropletRepo, client, keyPool)
	accountSvc := accounts.NewService(userRepo, roleRepo, limitsRepo, inviteRepo, tokenSvc, cfg.Limits, cfg.JWT.AccessTokenTTL)

	guard, err := actions.NewGuard()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build action guard")
	}
	dispatcher := actions.NewDispatcher(actions.Deps{
		Client:     client,
		Keys:       keyPool,
		APIKeys:    apiKeyRepo,
		Droplets:   dropletRepo,
		Limits:     limitsRepo,
		Invites:    inviteRepo,
		Users:      userRepo,
		Roles:      roleRepo,
		Reconciler: reconciler,
		Audit:      auditLog,
		Guard:      guard,
		Defaults:   cfg.Limits,
		CatalogTTL: cfg.DigitalOcean.CatalogTTL,
	})

	// Middleware
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	stopLimiter := make(chan struct{})
	go rateLimiter.Run(stopLimiter)

	// Router
	deps := &api.Dependencies{
		ActionHandler:    handlers.NewActionHandler(dispatcher),
		AuthHandler:      handlers.NewAuthHandler(accountSvc),
		AuditHandler:     handlers.NewAuditHandler(auditLog),
		SweepHandler:     handlers.NewSweepHandler(sweeper, cfg.Sweeper.TriggerToken),
		HealthHandler:    handlers.NewHealthHandler(db),
		MetricsHandler:   handlers.NewMetricsHandler(),
		AuthMiddleware:   middleware.NewAuthMiddleware(tokenSvc),
		CallerMiddleware: middleware.NewCallerMiddleware(roleRepo),
		RateLimiter:      rateLimiter,
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Int("actions", len(dispatcher.Actions())).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("Server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	close(stopLimiter)
	auditLog.Wait()
	log.Info().Msg("Server stopped")
}
