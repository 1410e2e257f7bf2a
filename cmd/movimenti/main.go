package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"movimenti/internal/amqp"
	"movimenti/internal/auth"
	"movimenti/internal/cache"
	"movimenti/internal/cli"
	"movimenti/internal/core"
	apphttp "movimenti/internal/http"
	"movimenti/internal/log"
	"movimenti/internal/services"
	"movimenti/internal/store"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(logger)

	backendResult := cli.InitStore(context.Background(), logger, cfg)

	var (
		st      store.Store = backendResult.Store
		manager *cache.Manager
	)
	if cfg.SnapshotCacheTTL > 0 {
		snapshots := cache.NewLRUCache[[]core.Record](16, cfg.SnapshotCacheTTL)
		st = cache.NewCachedStore(st, snapshots)
		manager = cache.NewManager(logger)
		manager.Register(snapshots)
		manager.StartCleanup(cfg.SnapshotCacheTTL)
	}

	// Asynchronous imports are optional; without a broker the API only
	// accepts synchronous uploads.
	var publisher services.ImportPublisher
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, asynchronous imports disabled", log.FieldError, err)
		} else {
			publisher = client
		}
	}

	var verifier auth.Verifier = auth.AllowAll{}
	if len(cfg.APITokens) > 0 {
		v, err := auth.NewStaticVerifier(cfg.APITokens)
		if err != nil {
			logger.Error("Failed to configure API tokens", log.FieldError, err)
			os.Exit(1)
		}
		verifier = v
	} else {
		logger.Warn("API_TOKENS not set, every request is treated as authenticated")
	}

	svc := services.NewTransactionService(st, cli.IngestConfig(cfg), publisher, logger)
	srv := apphttp.NewServer(svc, apphttp.Options{
		Addr:           ":" + cfg.Port,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimit:      cfg.RateLimit,
		Verifier:       verifier,
		Logger:         logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if manager != nil {
			manager.Stop()
		}
		if err := svc.Close(); err != nil {
			logger.Error("Publisher close error", log.FieldError, err)
		}
		if err := backendResult.Close(); err != nil {
			logger.Error("Record store close error", log.FieldError, err)
		}
	})

	go func() {
		logger.Info("Starting movimenti server",
			"port", cfg.Port,
			log.FieldBackend, cfg.DataBackend,
			"async_imports", publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
