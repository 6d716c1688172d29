package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sidrisov/payflow/internal/api"
	"github.com/sidrisov/payflow/internal/bot"
	"github.com/sidrisov/payflow/internal/cache"
	"github.com/sidrisov/payflow/internal/chain"
	"github.com/sidrisov/payflow/internal/db"
	"github.com/sidrisov/payflow/internal/farcaster"
	"github.com/sidrisov/payflow/internal/frame"
	"github.com/sidrisov/payflow/internal/oracle"
	"github.com/sidrisov/payflow/internal/registry"
	"github.com/sidrisov/payflow/pkg/config"
	"github.com/sidrisov/payflow/pkg/logging"
	"github.com/sidrisov/payflow/pkg/telemetry"
)

func main() {
	// Local development only; production reads real environment variables.
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
	logger.Info("Starting Payflow API Server")

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

	// Frame wizard
	validator := frame.NewValidator(fcClient)
	wizard := frame.NewWizard(reg, payments, profiles, wallets, prices,
		cfg.Server.PublicURL, cfg.Bot.PaymentMaxUSD, cfg.Bot.JarMaxUSD)

	// Bot pipeline: the server runs the full pipeline so webhook
	// ingestion gets the fast path; the claim-once job queue keeps a
	// concurrently running worker safe.
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
	defer cancel()
	go pipeline.Run(ctx)

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	api.NewRouter(validator, wizard, jobs, pipeline).SetupRoutes(engine)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
