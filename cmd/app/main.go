package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gateway-console/internal/cache"
	"gateway-console/internal/config"
	"gateway-console/internal/conn"
	"gateway-console/internal/gateway"
	"gateway-console/internal/httpserver"
	"gateway-console/internal/logging"
	"gateway-console/internal/metrics"
	"gateway-console/internal/repo"
	"gateway-console/internal/resolver"
	"gateway-console/internal/settings"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting gateway-console", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	store, err := repo.New(ctx, cfg.DatabaseURL, cfg.SQLitePath, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var redisClient *cache.Redis
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed, list caching degraded", "error", err)
		}
	}

	settingsSvc := settings.New(store, logger)

	endpointResolver := resolver.New(settingsSvc, resolver.Config{
		DefaultURL:        cfg.GatewayURL,
		HostPattern:       cfg.GatewayHostPattern,
		ServingHost:       cfg.ServingHost,
		DefaultCredential: cfg.GatewayAPIKey,
	}, logger)

	gatewayClient := gateway.New(gateway.Config{
		Timeout: cfg.GatewayTimeout,
	}, endpointResolver, logger, metricRegistry, redisClient)

	connManager := conn.NewManager(gatewayClient, store, logger, metricRegistry, conn.DefaultConfig())
	defer connManager.Shutdown()

	webhookHandler := gateway.NewWebhookHandler(logger, metricRegistry, cfg.WebhookSecret, connManager)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Dependencies{
		Gateway:        gatewayClient,
		Conn:           connManager,
		Settings:       settingsSvc,
		Store:          store,
		GatewayWebhook: webhookHandler,
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
