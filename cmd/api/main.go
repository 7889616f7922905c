package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ringflow/call-auction-backend/internal/api/rest"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/captracker"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/config"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/database"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/events"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/repository"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/telemetry"
	"github.com/ringflow/call-auction-backend/internal/metrics"
	"github.com/ringflow/call-auction-backend/internal/service/bidding"
	"github.com/ringflow/call-auction-backend/internal/service/dispatch"
	"github.com/ringflow/call-auction-backend/internal/service/eligibility"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rtb-auction: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.Environment)
	slog.SetDefault(logger)

	zapLogger, err := newZapLogger(cfg.Environment)
	if err != nil {
		return fmt.Errorf("init zap: %w", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	provider, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "rtb-auction",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		Enabled:        cfg.Tracing.Enabled,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	pool, err := database.NewPool(ctx, &cfg.Database, zapLogger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	routerRepo := repository.NewRouterRepository(pool.DB())
	targetRepo := repository.NewTargetRepository(pool.DB())
	auctionRepo := repository.NewAuctionRepository(pool.DB())

	clock := rtb.RealClock{}

	var caps captracker.Tracker
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		caps = captracker.NewRedisTracker(client, clock, zapLogger)
		logger.Info("cap tracker using redis", "addr", cfg.Redis.URL)
	} else {
		caps = captracker.NewMemoryTracker(clock)
	}

	registry, err := metrics.NewRegistry("ringflow.rtb")
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	hub := events.NewHub(zapLogger, events.Config{SendBufferSize: cfg.Auction.EventBufferSize})
	defer hub.Close()

	filter := eligibility.NewFilter(caps, auctionRepo, clock, logger)
	dispatcher := dispatch.NewHTTPDispatcher(caps, logger)
	coordinator := bidding.NewCoordinator(routerRepo, filter, dispatcher, caps, auctionRepo, hub, registry, clock, logger)

	handler := rest.NewHandler(routerRepo, targetRepo, auctionRepo, coordinator, logger)
	server := rest.NewServer(cfg, rest.Deps{
		Handler:       handler,
		EventsHandler: hub,
		Metrics:       registry,
		Database:      pool,
		Logger:        logger,
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("api server starting",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"version", cfg.Version)
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newZapLogger(environment string) (*zap.Logger, error) {
	if environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
