package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andzen/prospect-audit/internal/api"
	"github.com/andzen/prospect-audit/internal/audit"
	"github.com/andzen/prospect-audit/internal/config"
	"github.com/andzen/prospect-audit/internal/klaviyo"
	"github.com/andzen/prospect-audit/internal/pkg/distlock"
	"github.com/andzen/prospect-audit/internal/pkg/logger"
	"github.com/andzen/prospect-audit/internal/ratelimit"
	"github.com/andzen/prospect-audit/internal/storage"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	client := klaviyo.NewClient(klaviyo.Config{
		APIKey:  cfg.Klaviyo.APIKey,
		BaseURL: cfg.Klaviyo.BaseURL,
		Tier:    ratelimit.Tier(cfg.Klaviyo.RateTier),
		Timeout: time.Duration(cfg.Klaviyo.TimeoutSeconds) * time.Second,
	})

	var cache klaviyo.ReportCache
	var runLock distlock.Lock
	if cfg.Cache.URL != "" {
		redisCache, err := klaviyo.NewRedisReportCache(cfg.Cache.URL)
		if err != nil {
			logger.Warn("server", logger.EventDataQuality,
				"reason", "redis_unavailable", "error", err.Error())
		} else {
			defer redisCache.Close()
			cache = redisCache
		}

		if redisClient, err := distlock.Connect(cfg.Cache.URL); err == nil {
			defer redisClient.Close()
			runLock = distlock.NewRedisLock(redisClient, "audit-run", 30*time.Minute)
		}
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	orchestrator := audit.New(client, cache)
	orchestrator.Progress = func(stage, message string) {
		logger.Info("server", "audit_progress", "stage", stage, "message", message)
	}

	handlers := api.NewHandlers(orchestrator, store, cfg.Audit)
	handlers.RunLock = runLock
	server := api.NewServer(cfg.Server, handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server", "listening", "addr", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-stop:
		logger.Info("server", "shutting_down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}
