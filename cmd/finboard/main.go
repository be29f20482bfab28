package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finboard/internal/amqp"
	"finboard/internal/cli"
	"finboard/internal/extract"
	apphttp "finboard/internal/http"
	"finboard/internal/log"
	"finboard/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp, os.Stdout)
	cfg := cli.LoadAndValidateConfig(logger)
	zone := cli.Zone(cfg)

	repo := cli.InitSQLite(logger, cfg)
	defer repo.Close()

	// Events are optional: without AMQP the server runs in SQLite-only mode.
	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled - transaction events will not be published")
	}

	var extractor extract.Extractor
	if cfg.ExtractionEnabled() {
		gemini, err := extract.NewGemini(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, zone, logger)
		if err != nil {
			logger.Warn("Failed to initialize Gemini extractor, extraction disabled", log.FieldError, err)
		} else {
			extractor = gemini
			logger.Info("AI extraction enabled", "model", cfg.GeminiModel)
		}
	}

	txs := services.NewTransactionService(repo, publisher, logger)
	deps := apphttp.Deps{
		Transactions: txs,
		Merger:       services.NewMergeService(txs, txs, zone, logger),
		Days:         services.NewDayView(txs, repo, zone),
		Summary:      services.NewSummaryService(txs, repo),
		Reference:    repo,
		Extractor:    extractor,
	}

	opts := apphttp.DefaultOptions()
	opts.Zone = zone
	opts.CacheSize = cfg.CacheSize
	opts.CacheTTL = cfg.CacheTTL
	srv := apphttp.NewServer(":"+cfg.Port, deps, opts, logger)

	_, _, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	logger.Info("Starting finboard server", "port", cfg.Port, "zone", zone.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cli.Fatal(logger, "Server error", err, "listen")
	}

	cli.WaitForShutdown(done)
	logger.Info("Server stopped gracefully")
}
