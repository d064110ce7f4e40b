package main

import (
	"context"
	"flag"
	"os"
	"time"

	"bilancio/internal/backend"
	"bilancio/internal/cli"
	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/services"
)

func main() {
	importPath := flag.String("import", "", "replace the rule set with the JSON rules file at this path before running")
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	cfg, logger := cli.Bootstrap()
	logger.Info("Starting recurring-worker", applog.FieldOperation, applog.OpStartup)

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
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	if *importPath != "" {
		if err := importRules(context.Background(), res.Backend.Rules, *importPath); err != nil {
			logger.Error("Rule import failed", "path", *importPath, applog.FieldError, err)
			os.Exit(1)
		}
		logger.Info("Rules imported", "path", *importPath)
	}

	processor := services.NewRecurringProcessor(
		res.Backend.Rules,
		res.Backend.Ledger,
		services.SystemClock{Location: loc},
		services.ProcessorConfig{SubmitTimeout: cfg.RecurringSubmitTimeout},
	).WithLogger(logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	logger.Info("Running initial recurring pass")
	runPass(ctx, processor, logger)
	if *once {
		return
	}

	scheduler := cli.NewScheduler(logger, loc)
	if _, err := scheduler.AddFunc(cfg.RecurringSchedule, func() { runPass(ctx, processor, logger) }); err != nil {
		logger.Error("Invalid recurring schedule", "schedule", cfg.RecurringSchedule, applog.FieldError, err)
		os.Exit(1)
	}
	scheduler.Start()
	logger.Info("Recurring pass scheduled",
		"schedule", cfg.RecurringSchedule,
		"timezone", loc.String(),
		"submit_timeout", cfg.RecurringSubmitTimeout)

	cli.WaitForShutdown(ctx, done)

	// Wait for a pass in progress; it stops between rules once ctx is done.
	<-scheduler.Stop().Done()
	logger.Info("Recurring-worker shutdown complete")
}

func runPass(ctx context.Context, processor *services.RecurringProcessor, logger *applog.Logger) {
	if ctx.Err() != nil {
		return
	}
	result, err := processor.Run(ctx)
	if err != nil {
		logger.Error("Recurring pass failed", applog.FieldError, err)
	}
	s := result.Summary()
	logger.Info("Recurring pass complete",
		applog.FieldEvaluation, s.Date,
		applog.FieldProcessed, s.Processed,
		applog.FieldSkipped, s.Skipped,
		applog.FieldUnrecorded, s.Unrecorded,
		applog.FieldNotDue, s.NotDue)
}

func importRules(ctx context.Context, store services.RuleStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rules, err := core.DecodeRules(f)
	if err != nil {
		return err
	}
	return store.Save(ctx, rules)
}
