package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"lifeops/internal/backend"
	"lifeops/internal/budget"
	"lifeops/internal/cli"
	"lifeops/internal/events"
	"lifeops/internal/ledger"
	"lifeops/internal/log"
	"lifeops/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel)
	logger.Info("Starting ledger-worker")

	if cfg.DataBackend != string(backend.SQLiteBackend) {
		logger.Error("ledger-worker needs the sqlite backend shared with the API", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	factory := backend.NewFactory(logger)
	res := cli.InitBackend(context.Background(), logger, factory, cfg)
	store := res.Store

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	// Only recalculations are consumed; everything else is published for
	// other subscribers.
	broker, err := factory.CreateBroker(bcfg, events.BudgetRecalculated)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	exporter, err := factory.CreateExporter(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize balance exporter", log.FieldError, err)
		os.Exit(1)
	}

	budgetSvc := budget.NewService(store, logger)
	ledgerSvc := ledger.NewService(store, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	g, gctx := errgroup.WithContext(ctx)

	autopay := worker.NewAutoPayProcessor(ledgerSvc, cfg.AutoPayFamilies, cfg.AutoPayInterval, logger)
	g.Go(func() error { return autopay.Run(gctx) })

	if broker != nil {
		relay := worker.NewRelay(store, broker, worker.RelayConfig{
			PollInterval: cfg.OutboxInterval,
			BatchSize:    cfg.OutboxBatchSize,
		}, logger)
		if err := relay.Start(gctx); err != nil {
			logger.Error("Failed to start outbox relay", log.FieldError, err)
			os.Exit(1)
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return relay.Stop(stopCtx)
		})

		exportWorker := worker.NewBalanceExportWorker(budgetSvc, exporter, logger)
		g.Go(func() error {
			err := broker.Consume(gctx, exportWorker.HandleMessage)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Warn("AMQP not configured, outbox relay and balance export are disabled")
	}

	if err := g.Wait(); err != nil {
		logger.Error("ledger-worker stopped with error", log.FieldError, err)
	}

	if broker != nil {
		if err := broker.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err)
		}
	}
	if res.Cleanup != nil {
		if err := res.Cleanup(); err != nil {
			logger.Warn("Backend cleanup error", log.FieldError, err)
		}
	}

	// a worker failure ends the group before any signal arrives
	if ctx.Err() == nil {
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("ledger-worker shutdown complete")
}
