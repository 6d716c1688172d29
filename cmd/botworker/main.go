package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sidrisov/payflow/internal/bot"
	"github.com/sidrisov/payflow/internal/cache"
	"github.com/sidrisov/payflow/internal/chain"
	"github.com/sidrisov/payflow/internal/db"
	"github.com/sidrisov/payflow/internal/farcaster"
	"github.com/sidrisov/payflow/internal/oracle"
	"github.com/sidrisov/payflow/internal/registry"
	"github.com/sidrisov/payflow/pkg/config"
	"github.com/sidrisov/payflow/pkg/logging"
	"github.com/sidrisov/payflow/pkg/telemetry"
)

// The worker runs only the sweep path: it drains jobs the server's fast
// path missed and expires stale payments. Claim-once job semantics make
// it safe to run alongside the server's in-process pipeline.
func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Payflow Bot Worker")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Redis cache
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
	}
	if redisCache != nil {
		defer redisCache.Close()
	}

	// Repositories
	repo := db.NewRepository(database.DB)
	payments := db.NewPaymentRepository(repo)
	jobs := db.NewBotJobRepository(repo)
	profiles := db.NewProfileRepository(repo)
	wallets := db.NewWalletRepository(repo)

	// Outbound collaborators
	fcClient, err := farcaster.New(&cfg.Farcaster)
	if err != nil {
		logger.Fatal("Failed to create farcaster client", zap.Error(err))
	}
	notifier := farcaster.NewNotifier(fcClient, &cfg.Farcaster)
	prices := oracle.New(cfg.Chain.PriceURL, redisCache)
	balances := chain.NewBalanceClient(cfg.Chain.BalanceURL)

	reg := registry.Default()

	budget := cache.NewAgentBudget(redisCache, cfg.Agent.MaxAttempts, cfg.Agent.AttemptTTL)
	pipeline := bot.NewPipeline(cfg, cfg.Server.PublicURL, bot.PipelineDeps{
		Jobs:       jobs,
		Payments:   payments,
		Profiles:   profiles,
		Wallets:    wallets,
		Social:     fcClient,
		Notifier:   notifier,
		Budget:     budget,
		Dispatcher: bot.NewDispatcherFromConfig(&cfg.Agent, reg),
		Parser:     bot.NewParser(cfg.Farcaster.BotUsername, reg),
		Balances:   balances,
		Prices:     prices,
		Registry:   reg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go pipeline.Run(ctx)

	logger.Info("Bot worker running, waiting for interrupt...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down bot worker...")
	cancel()
	logger.Info("Bot worker exited")
}
