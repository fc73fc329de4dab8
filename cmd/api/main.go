package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iago/fitcoach-back/internal/app"
	"github.com/iago/fitcoach-back/internal/config"
	httpserver "github.com/iago/fitcoach-back/internal/http"
	"github.com/iago/fitcoach-back/internal/http/handlers"
	"github.com/iago/fitcoach-back/internal/logging"
	"github.com/iago/fitcoach-back/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, app.Options{WithQueue: true})
	if err != nil {
		logger.Error().Err(err).Msg("failed to start application")
		os.Exit(1)
	}
	defer application.Close()

	api := handlers.NewAPI(application.Orchestrator, application.Sweeper, cfg.SweepToken, logger)
	for name, check := range application.HealthChecks() {
		api.AddHealthCheck(name, check)
	}
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET not configured, trusting the X-Owner-Id header")
	}

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(application.Consumer, application.Orchestrator, cfg.HostBudget, logger)
		go processor.Start(ctx)
		logger.Info().Msg("worker enabled and started")
	} else {
		logger.Info().Msg("worker disabled by configuration")
	}

	if cfg.SweepEnabled {
		go func() {
			if err := application.Sweeper.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("sweep loop stopped")
			}
		}()
		logger.Info().Dur("interval", cfg.SweepInterval).Msg("in-process sweep enabled")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api listening")
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
