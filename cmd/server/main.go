package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"marketviews/internal/aggregator"
	"marketviews/internal/api"
	"marketviews/internal/config"
	"marketviews/internal/consumer"
	"marketviews/internal/history"
	"marketviews/internal/instrumentation"
	"marketviews/internal/lifecycle"
	"marketviews/internal/models"
	"marketviews/internal/publisher"
)

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("marketviews_starting",
		"redis_url", cfg.RedisURL,
		"stream_key", cfg.StreamKey,
		"consumer_group", cfg.ConsumerGroup,
		"aggregators_file", cfg.AggregatorsFile,
		"product_ttl", cfg.ProductTTL,
	)

	defs, err := config.LoadAggregators(cfg.AggregatorsFile)
	if err != nil {
		logger.Error("failed to load aggregator definitions", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := history.Dial(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	logger.Info("redis_connected")

	store := history.NewRedisStore(client, logger)
	products := publisher.NewRedisPublisher(client, cfg.ProductTTL, logger)
	publishers := publisher.NewManager()
	publishers.Register("default", products)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := instrumentation.NewMetrics(reg)

	manager := lifecycle.NewManager(aggregator.DefaultRegistry(), aggregator.Deps{
		History:     store,
		Publishers:  publishers,
		Logger:      logger,
		CallTimeout: cfg.CallTimeout,
	}, metrics, logger)

	enabled := 0
	for _, spec := range defs.Feeds {
		if err := manager.Enable(spec); err != nil {
			// Already logged by the manager; other feeds still start.
			continue
		}
		enabled++
	}
	logger.Info("feeds_enabled", "enabled", enabled, "configured", len(defs.Feeds))

	if err := manager.Start(cfg.BarTimerSpec); err != nil {
		logger.Error("failed to start bar timer", "error", err)
		os.Exit(1)
	}
	defer manager.Stop()

	cons, err := consumer.New(ctx, client, consumer.Config{
		StreamKey:     cfg.StreamKey,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
		BatchSize:     10,
	}, func(ctx context.Context, env *models.BookEventEnvelope, _ string) error {
		return manager.Dispatch(ctx, env)
	}, metrics, logger)
	if err != nil {
		logger.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}

	handlers := api.NewHandlers(manager, store, products, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewRouter(handlers, reg, cfg.CallTimeout, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		logger.Info("http_server_starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := cons.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("consumer: %w", err)
		}
	}()

	logger.Info("marketviews_running", "status", "healthy")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown_signal_received", "signal", sig.String())
	case err := <-errChan:
		logger.Error("component_failed", "error", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", "error", err)
	}

	logger.Info("marketviews_stopped")
}
