package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"trailbot/config"
	"trailbot/internal/adapters/binanceclient"
	"trailbot/internal/adapters/logger"
	"trailbot/internal/adapters/sqlite"
	"trailbot/internal/adapters/telegram"
	"trailbot/internal/app"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Notifier (Telegram Adapter; no-op when unconfigured)
	notifier, err := telegram.New(telegram.Config{
		Token:  cfg.TelegramToken,
		ChatID: cfg.TelegramChatID,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Telegram notifier")
		log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
	}

	// 6. Initialize Application Service
	service, err := app.NewService(cfg, appLogger, binanceClient, binanceClient, repo, notifier)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize monitor service")
		log.Fatalf("FATAL: Failed to initialize monitor service: %v", err)
	}
	appLogger.Info(context.Background(), "Monitor service initialized")

	// 7. Initialize Reconciler
	reconciler, err := app.NewReconciler(cfg, appLogger, binanceClient, binanceClient, repo, notifier, service)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize reconciler")
		log.Fatalf("FATAL: Failed to initialize reconciler: %v", err)
	}

	// 8. Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persisted trades must be in memory before the first reconciliation.
	if err := service.Load(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to load managed trades")
		log.Fatalf("FATAL: Failed to load managed trades: %v", err)
	}

	go func() {
		if err := reconciler.Run(ctx); err != nil {
			appLogger.Error(ctx, err, "Reconciler exited with error")
		}
	}()

	if err := service.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Monitor service exited with error")
		log.Fatalf("FATAL: Monitor service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
