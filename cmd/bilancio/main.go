package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"bilancio/internal/backend"
	"bilancio/internal/cli"
	apphttp "bilancio/internal/http"
	applog "bilancio/internal/log"
	"bilancio/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap()
	logger.Info("Starting bilancio API", "port", cfg.Port, "backend", cfg.DataBackend)

	loc, _ := cfg.Location()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err)
		os.Exit(1)
	}

	processor := services.NewRecurringProcessor(
		res.Backend.Rules,
		res.Backend.Ledger,
		services.SystemClock{Location: loc},
		services.ProcessorConfig{SubmitTimeout: cfg.RecurringSubmitTimeout},
	).WithLogger(logger)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Runner:    processor,
		Rules:     res.Backend.Rules,
		Movements: res.Backend.Movements,
		Ping:      res.Backend.Ping,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("HTTP server shutdown failed", applog.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", applog.FieldError, err)
		}
	})

	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", applog.FieldError, err)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
