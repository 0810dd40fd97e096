// Package main provides the trade sync worker entry point.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p2p-trade-sync/internal/api"
	"github.com/p2p-trade-sync/internal/config"
	"github.com/p2p-trade-sync/internal/exchange"
	"github.com/p2p-trade-sync/internal/logging"
	"github.com/p2p-trade-sync/internal/retry"
	"github.com/p2p-trade-sync/internal/storage"
	"github.com/p2p-trade-sync/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.NewLogger(logging.LevelError, logging.FormatText).Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger.Info("trade sync worker starting")

	ctx := logging.WithLogger(context.Background(), logger)

	// Postgres is the only hard dependency: bounded retry, then give up.
	var postgres *storage.PostgresDB
	connectCfg := retry.FixedConfig(cfg.Database.Postgres.ConnectRetries, cfg.Database.Postgres.ConnectBackoff)
	err = retry.Do(ctx, connectCfg, func(ctx context.Context, attempt int) error {
		var connectErr error
		postgres, connectErr = storage.NewPostgresDB(&cfg.Database.Postgres)
		return connectErr
	})
	if err != nil {
		logger.Fatalf("failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()
	logger.Info("connected to Postgres")

	// Redis dedup cache is optional: without it every dedup check hits
	// Postgres.
	var cache *storage.OrderCache
	if c, err := storage.NewOrderCache(&cfg.Database.Redis); err != nil {
		logger.WithError(err).Warn("Redis unavailable, continuing without seen-cache")
	} else {
		cache = c
		defer cache.Close()
		logger.Info("connected to Redis")
	}

	// ClickHouse archive is optional and disabled when no host is set.
	var archive *storage.TradeArchiveRepository
	if cfg.Database.ClickHouse.Host != "" {
		ch, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Warn("ClickHouse unavailable, continuing without raw trade archive")
		} else {
			defer ch.Close()
			archive = storage.NewTradeArchiveRepository(ch)
			logger.Info("connected to ClickHouse")
		}
	}

	accountRepo := storage.NewAccountRepository(postgres)
	txRepo := storage.NewTransactionRepository(postgres)

	newClient := func(apiKey, apiSecret string) worker.ExchangeClient {
		return exchange.NewClient(&exchange.ClientConfig{
			APIKey:         apiKey,
			APISecret:      apiSecret,
			BaseURL:        cfg.Exchange.BaseURL,
			RecvWindow:     cfg.Exchange.RecvWindow,
			RequestTimeout: cfg.Exchange.RequestTimeout,
			Logger:         logger,
		})
	}

	fetcher := exchange.NewFetcher(&exchange.FetcherConfig{
		MaxPages:       cfg.Sync.MaxPages,
		WindowDays:     cfg.Sync.WindowDays,
		WindowPageSize: cfg.Sync.WindowPageSize,
		FallbackSize:   cfg.Sync.FallbackSize,
		MinimalSize:    cfg.Sync.MinimalSize,
		PagePacing:     cfg.Sync.PagePacing,
	}, logger)

	syncCfg := &worker.SyncWorkerConfig{
		Accounts:      accountRepo,
		Transactions:  txRepo,
		Fetcher:       fetcher,
		NewClient:     newClient,
		AccountPacing: cfg.Sync.AccountPacing,
		Logger:        logger,
	}
	if cache != nil {
		syncCfg.Cache = cache
	}
	if archive != nil {
		syncCfg.Archive = archive
	}

	syncWorker, err := worker.NewSyncWorker(syncCfg)
	if err != nil {
		logger.Fatalf("failed to create sync worker: %v", err)
	}

	enrichWorker, err := worker.NewEnrichWorker(&worker.EnrichWorkerConfig{
		Accounts:     accountRepo,
		Transactions: txRepo,
		NewClient:    newClient,
		ChatPageSize: cfg.Enrich.ChatPageSize,
		RecordPacing: cfg.Enrich.RecordPacing,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("failed to create enrichment worker: %v", err)
	}

	scheduler := worker.NewScheduler(logger)
	scheduler.Add(worker.Job{
		Name:     "trade-sync",
		Interval: cfg.Sync.Interval,
		Run:      syncWorker.SyncAll,
	})
	scheduler.Add(worker.Job{
		Name:     "chat-enrichment",
		Interval: cfg.Enrich.Interval,
		Run:      enrichWorker.ProcessUnenriched,
	})

	if err := scheduler.Start(ctx); err != nil {
		logger.Fatalf("failed to start scheduler: %v", err)
	}

	var cachePinger api.Pinger
	if cache != nil {
		cachePinger = cache
	}
	server := api.NewServer(&api.ServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, scheduler, postgres, cachePinger, logger)
	server.Start()

	// Termination is handled at the process boundary: stop scheduling new
	// cycles and let the in-flight one finish.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("status server shutdown failed")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("scheduler stop failed")
	}

	logger.Info("trade sync worker stopped")
}
