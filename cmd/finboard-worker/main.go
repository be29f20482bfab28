package main

import (
	"context"
	"errors"
	"os"
	"time"

	"finboard/internal/amqp"
	"finboard/internal/cli"
	"finboard/internal/log"
	"finboard/internal/sheets"
	gsheet "finboard/internal/sheets/google"
	"finboard/internal/sheets/memory"
	"finboard/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker, os.Stdout)
	logger.Info("Starting finboard-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	zone := cli.Zone(cfg)
	if cfg.AMQPURL == "" {
		cli.Fatal(logger, "Worker needs an event source", errors.New("AMQP_URL is not set"), "config")
	}

	// The worker reads the current state of each transaction from the same
	// database the API writes to.
	repo := cli.InitSQLite(logger, cfg)
	defer repo.Close()

	var exporter sheets.TransactionExporter
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(context.Background(), gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			Zone:            zone,
		}, logger)
		if err != nil {
			cli.Fatal(logger, "Failed to initialize Google Sheets client", err, "open")
		}
		exporter = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		exporter = memory.New(zone)
		logger.Info("Google Sheets disabled - exporting to memory")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize AMQP client", err, "open")
	}
	defer amqpClient.Close()

	wcfg := worker.DefaultConfig()
	wcfg.BatchSize = cfg.SyncBatchSize
	syncWorker := worker.NewSyncWorker(exporter, repo, zone, wcfg, logger)

	ctx, cancel, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := syncWorker.Stop(ctx); err != nil {
			logger.Error("Worker shutdown error", log.FieldError, err)
		}
	})
	defer cancel()

	// Recover rows for events published while the worker was down.
	y, m, _ := zone.Today(time.Now())
	if _, err := syncWorker.Reconcile(ctx, y, int(m)); err != nil {
		logger.Error("Startup reconcile failed", log.FieldError, err)
	}

	if err := syncWorker.Start(ctx, amqpClient); err != nil {
		cli.Fatal(logger, "Failed to start sync worker", err, "start")
	}

	select {
	case <-syncWorker.Done():
		logger.Warn("Event consumption ended")
		cancel()
	case <-ctx.Done():
	}
	cli.WaitForShutdown(done)
}
