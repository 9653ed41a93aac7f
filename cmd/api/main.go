package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/api"
	"github.com/fieldsales/backend/internal/auth"
	"github.com/fieldsales/backend/internal/cache/redis"
	"github.com/fieldsales/backend/internal/evaluation"
	"github.com/fieldsales/backend/internal/ingestion"
	"github.com/fieldsales/backend/internal/metrics"
	"github.com/fieldsales/backend/internal/quota"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/internal/tracking"
	"github.com/fieldsales/backend/pkg/config"
	appLogger "github.com/fieldsales/backend/pkg/logger"
	"github.com/fieldsales/backend/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting field sales server")
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(ctx); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	authService := auth.NewService(sqliteClient, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMin)*time.Minute)
	if _, err := authService.EnsureAdmin(ctx, cfg.Auth.BootstrapAdminPassword); err != nil {
		appLogger.Fatal("Failed to ensure admin user", zap.Error(err))
	}

	quotaService := quota.NewService(sqliteClient, cfg.Grading.UngradedWeight)
	provinces, err := quotaService.Provinces(ctx)
	if err != nil {
		appLogger.Fatal("Failed to list provinces", zap.Error(err))
	}
	if len(provinces) == 0 {
		if _, err := quotaService.SeedProvinces(ctx, nil); err != nil {
			appLogger.Warn("Failed to seed provinces", zap.Error(err))
		}
	}

	stagingTTL := time.Duration(cfg.Redis.StagingTTLSec) * time.Second
	var stager ingestion.Stager = ingestion.NewMemoryStager(stagingTTL)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, stagingTTL)
		if err != nil {
			appLogger.Warn("Redis unavailable, staging uploads in memory", zap.Error(err))
		} else {
			defer redisClient.Close()
			stager = &ingestion.FallbackStager{Primary: redisClient, Secondary: stager}
		}
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Retryable = sqlite.IsBusy
	retryCfg.Logger = appLogger.Named("retry")
	evaluator := evaluation.NewEvaluator(sqliteClient, retryCfg)
	processor := ingestion.NewProcessor(sqliteClient, cfg.Upload.MaxRows)

	hub := tracking.NewHub(16)
	go hub.Run(ctx)

	server := api.New(api.Deps{
		Config:     cfg,
		DB:         sqliteClient,
		Auth:       authService,
		Evaluator:  evaluator,
		Quota:      quotaService,
		Processor:  processor,
		Stager:     stager,
		Hub:        hub,
		RequestLog: cfg.Server.IsDevelopment,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.App.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	cancel()
	if err := server.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	server.Stop()
	appLogger.Info("Server stopped")
}
