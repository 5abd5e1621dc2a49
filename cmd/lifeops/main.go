package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"lifeops/internal/backend"
	"lifeops/internal/budget"
	"lifeops/internal/cli"
	apphttp "lifeops/internal/http"
	"lifeops/internal/ledger"
	"lifeops/internal/log"
	"lifeops/internal/reconcile"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel)

	res := cli.InitBackend(context.Background(), logger, backend.NewFactory(logger), cfg)
	store := res.Store

	srv := apphttp.NewServer(":"+cfg.Port, store, apphttp.Services{
		Ledger:    ledger.NewService(store, logger),
		Budget:    budget.NewService(store, logger),
		Reconcile: reconcile.NewService(store, logger),
	}, apphttp.Options{
		DefaultFamily:      cfg.DefaultFamily,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CORSOrigins:        cfg.CORSOrigins,
		CacheTTL:           cfg.CacheTTL,
		Logger:             logger,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", log.FieldError, err)
			}
		}
	})

	logger.Info("Starting lifeops server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
