package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"eleve/internal/app"
	"eleve/internal/config"
	"eleve/internal/database"
	"eleve/internal/handlers"
	"eleve/internal/logging"
	"eleve/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.Component("server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database (supports sqlite, postgres, mysql)
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	log.Info().Str("type", cfg.DatabaseType).Msg("database connection established")

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	log.Info().Msg("migrations completed successfully")

	services, err := app.New(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire services")
	}

	limiter := security.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	middleware := handlers.NewMiddleware(security.NewTokenVerifier(cfg.AdminJWTSecret), limiter)
	approvalHandler := handlers.NewApprovalHandler(services.Saga)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handlers.NewRouter(approvalHandler, middleware),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go runHousekeeping(ctx, services, limiter, cfg.ExpirySweepInterval, cfg.ApprovalTTL)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("server shutting down")

	// in-flight approvals finish their current child before returning
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shut down")
	}

	log.Info().Int64("notification_failures", services.Dispatcher.Failures()).Msg("server stopped")
}

// runHousekeeping periodically expires stale requests and forgets idle rate limit buckets
func runHousekeeping(ctx context.Context, services *app.App, limiter *security.RateLimiter, interval, ttl time.Duration) {
	log := logging.Component("housekeeping")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		limiter.Cleanup()

		expired, err := services.ExpireStale(ctx, ttl)
		if err != nil {
			log.Error().Err(err).Msg("failed to expire stale approval requests")
			continue
		}
		if expired > 0 {
			log.Info().Int64("expired", expired).Msg("stale approval requests expired")
		}
	}
}
