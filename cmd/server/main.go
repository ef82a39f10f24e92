// Package main runs the coffee shop HTTP server: command API, tracking
// processors for the order, payment and product views, and the dead-letter
// redrive.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/app"
	"coffeeshop.io/coffeeshop/internal/config"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coffeeshop: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shop, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer shop.Shutdown()

	if err := shop.Start(ctx); err != nil {
		return fmt.Errorf("start processors: %w", err)
	}
	logStartup(cfg, shop)

	return serve(ctx, cfg, shop.Router)
}

func logStartup(cfg *config.Config, shop *app.Application) {
	var groups []string
	if p := shop.Projection(); p != nil {
		groups = p.Registry().Groups()
	}
	logger.Info("Coffee shop started",
		zap.String("profile", cfg.App.Profile),
		logger.StorageDriver(cfg.Storage.Driver),
		logger.ProcessingGroups(groups),
		zap.Bool("demo_faults", cfg.Projection.DemoFaults),
		zap.Bool("async_snapshots", cfg.Snapshot.Async),
		zap.Int("order_snapshot_threshold", cfg.Snapshot.Order),
		zap.Int("payment_snapshot_threshold", cfg.Snapshot.Payment),
		zap.Int("product_snapshot_threshold", cfg.Snapshot.Product),
		zap.Duration("redrive_interval", cfg.DeadLetter.RedriveInterval),
		zap.Int("legacy_products_seeded", cfg.Upcast.SeedLegacyProducts),
	)
}

// serve runs the API until ctx is canceled, then drains in-flight requests
// for at most server.shutdown_timeout.
func serve(ctx context.Context, cfg *config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("Coffee shop API listening", zap.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received, draining requests",
			zap.Duration("timeout", cfg.Server.ShutdownTimeout),
		)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("drain requests: %w", err)
	}
	logger.Info("Coffee shop API stopped")
	return nil
}
