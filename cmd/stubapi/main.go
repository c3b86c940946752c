// Command stubapi serves a local stand-in for the marketplace REST API so the
// client packages and klinctl can be exercised without the real backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/klinners/klinners_web/internal/config"
	"github.com/klinners/klinners_web/internal/logging"
	"github.com/klinners/klinners_web/internal/obs"
	"github.com/klinners/klinners_web/internal/storage"
	"github.com/klinners/klinners_web/internal/stubapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stub api failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	cache, closeCache, err := openCache(ctx, cfg.RedisURL, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	autoVerify, _ := strconv.ParseBool(os.Getenv("STUB_AUTO_VERIFY"))
	srv, err := stubapi.New(stubapi.Config{
		AppName:                cfg.AppName,
		JWTSecret:              cfg.JWTSecret,
		TokenTTL:               cfg.TokenTTL,
		PINTTL:                 cfg.PINTTL,
		LoginAttemptsPerMinute: 5,
		AutoVerify:             autoVerify,
	}, stubapi.Deps{
		Cache:    cache,
		Logger:   logger,
		Metrics:  obs.New(prometheus.DefaultRegisterer),
		Gatherer: prometheus.DefaultGatherer,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stub api listening", "addr", cfg.Address(), "auto_verify", autoVerify)
		errCh <- srv.Listen(cfg.Address())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openCache dials Redis when configured. Without it the server still runs but
// login throttling and register idempotency are off.
func openCache(ctx context.Context, url string, logger *slog.Logger) (redis.Cmdable, func(), error) {
	if url == "" {
		logger.Warn("REDIS_URL not set, login rate limiting and idempotency are disabled")
		return nil, func() {}, nil
	}
	client, err := storage.DialRedis(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}, nil
}
