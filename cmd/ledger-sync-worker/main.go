package main

import (
	"context"
	"errors"
	"os"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cache"
	"bilancio/internal/cli"
	"bilancio/internal/core"
	applog "bilancio/internal/log"
	gsheet "bilancio/internal/sheets/google"
	"bilancio/internal/storage"
	"bilancio/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap()
	logger.Info("Starting ledger-sync-worker", applog.FieldOperation, applog.OpStartup)

	if err := cfg.ValidateMirror(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()
	repo.WithLogger(logger)

	sheetsClient, err := gsheet.New(context.Background(), gsheet.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetBase:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleCredentialsJSON,
		CredentialsFile: cfg.GoogleCredentialsFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}
	sheetsClient.WithLogger(logger)
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	caches := cache.NewManager().WithLogger(logger)
	caches.Register("sheet_keys", sheetsClient.KeyCache())
	caches.StartCleanup(cfg.KeyCacheCleanupInterval)
	defer caches.Stop()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()
	amqpClient.WithLogger(logger)

	syncWorker := worker.NewSyncWorker(repo, sheetsClient).WithLogger(logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Catch up on anything published while the worker was down.
	today := core.DateOf(time.Now().In(loc))
	from := today.AddDays(-cfg.SyncLookbackDays)
	logger.Info("Performing startup sync check", "from", from.String(), "to", today.String())
	if err := syncWorker.StartupSyncCheck(ctx, from, today); err != nil {
		logger.Error("Startup sync check failed", applog.FieldError, err)
	}

	go func() {
		err := amqpClient.ConsumeMovementSync(ctx, syncWorker.HandleSyncMessage)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Ledger-sync-worker shutdown complete",
		"key_cache_hits", sheetsClient.KeyCache().Stats().Hits)
}
