package main

import (
	"context"
	"errors"
	"os"
	"time"

	"movimenti/internal/amqp"
	"movimenti/internal/cli"
	"movimenti/internal/log"
	"movimenti/internal/services"
	"movimenti/internal/worker"
)

// jobTimeout bounds one import job, on top of the per-batch timeout.
const jobTimeout = 15 * time.Minute

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	logger.Info("Starting movimenti-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the import worker")
		os.Exit(1)
	}

	backendResult := cli.InitStore(context.Background(), logger, cfg)
	defer backendResult.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// The worker never publishes, so the service gets no publisher.
	svc := services.NewTransactionService(backendResult.Store, cli.IngestConfig(cfg), nil, logger)
	importWorker := worker.NewImportWorker(svc, jobTimeout, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	if err := importWorker.Run(ctx, amqpClient); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	stats := importWorker.Stats()
	logger.Info("Worker shutdown complete",
		"processed", stats.Processed,
		"failed", stats.Failed,
		"rejected", stats.Rejected)
}
