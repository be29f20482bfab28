package main

import (
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"finboard/internal/amqp"
	"finboard/internal/cli"
	"finboard/internal/log"
	"finboard/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentSubscription, os.Stdout)
	logger.Info("Starting subscription-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	zone := cli.Zone(cfg)

	repo := cli.InitSQLite(logger, cfg)
	defer repo.Close()

	// Created expenses are published so finboard-worker exports them too.
	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
		}
	}

	txs := services.NewTransactionService(repo, publisher, logger)
	processor := services.NewSubscriptionProcessor(repo, txs, zone, logger)

	ctx, cancel, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	defer cancel()

	run := func(now time.Time) {
		count, err := processor.ProcessDue(ctx, now)
		if err != nil {
			logger.Error("Subscription processing failed", log.FieldError, err)
			return
		}
		logger.Info("Subscription processing complete", "expenses_created", count)
	}

	// Schedules are read in the transaction zone, so "0 6 * * *" means
	// 06:00 local time.
	scheduler := cron.New(cron.WithLocation(zone.Location()))
	if _, err := scheduler.AddFunc(cfg.SubscriptionSchedule, func() { run(time.Now()) }); err != nil {
		cli.Fatal(logger, "Invalid subscription schedule", err, "config")
	}

	logger.Info("Running initial subscription processing", "schedule", cfg.SubscriptionSchedule)
	run(time.Now())

	scheduler.Start()
	<-ctx.Done()

	stopped := scheduler.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("Scheduled run still in progress at shutdown")
	}
	cli.WaitForShutdown(done)
}
