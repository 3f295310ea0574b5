// Tern - coupon contract eligibility engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/tern/internal/api"
	"github.com/opensource-finance/tern/internal/batch"
	"github.com/opensource-finance/tern/internal/bus"
	"github.com/opensource-finance/tern/internal/cache"
	"github.com/opensource-finance/tern/internal/config"
	"github.com/opensource-finance/tern/internal/contracts"
	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/logging"
	"github.com/opensource-finance/tern/internal/metrics"
	"github.com/opensource-finance/tern/internal/repository"
	"github.com/opensource-finance/tern/internal/rules"
	"github.com/opensource-finance/tern/internal/tracing"
	"github.com/opensource-finance/tern/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("TERN_CONFIG"), "optional config file (yaml, json or toml)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("starting tern",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"workers", cfg.Engine.Workers,
		"precision", cfg.Engine.OutputPrecision,
	)

	if err := run(cfg); err != nil {
		slog.Error("tern failed", "error", err)
		os.Exit(1)
	}
	slog.Info("tern shutdown complete")
}

func run(cfg *domain.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer shutdownTracing(context.Background())
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	validator, err := contracts.NewValidator()
	if err != nil {
		return err
	}
	store := contracts.NewStore(repo, cacheImpl, config.CacheTTL(cfg), slog.Default())

	if cfg.Catalog.File != "" {
		if _, _, err := store.Seed(ctx, validator, cfg.Catalog.File); err != nil {
			return fmt.Errorf("failed to seed contracts: %w", err)
		}
	}

	m := metrics.New()
	engine := rules.NewEngine(rules.WithPrecision(cfg.Engine.OutputPrecision), cfg.Engine.Workers)
	defer engine.Close()

	refresher := contracts.NewRefresher(engine, store, busImpl, m, slog.Default())
	report, err := refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("failed to load contracts: %w", err)
	}
	slog.Info("rule engine initialized",
		"contracts_loaded", report.Loaded,
		"contracts_rejected", report.Rejected,
		"contracts_skipped", report.Skipped,
	)
	if err := refresher.Listen(ctx); err != nil {
		return err
	}
	if err := refresher.Start(cfg.Catalog.RefreshSchedule); err != nil {
		return err
	}
	defer refresher.Stop()

	runner := batch.NewRunner(engine,
		batch.WithWorkers(cfg.Engine.Workers),
		batch.WithMetrics(m),
		batch.WithLogger(slog.Default()),
	)
	processor := worker.NewProcessor(runner, repo, slog.Default())

	var asyncWorker *worker.Worker
	if cfg.Engine.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, processor, slog.Default())
		if err := asyncWorker.Start(); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
		slog.Info("async worker started")
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Engine:    engine,
		Store:     store,
		Validator: validator,
		Refresher: refresher,
		Processor: processor,
		Metrics:   m,
		Logger:    slog.Default(),
		Version:   Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	slog.Info("tern is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop accepting submissions before draining the server.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}
