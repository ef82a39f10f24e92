// Package main generates a batch of demo data through the command services.
//
// The batch is sized by environment variables (SEED_PRODUCTS, SEED_ORDERS,
// SEED_TRIGGER_SNAPSHOTS, SEED_TRIGGER_DEAD_LETTERS, SEED_VALUE); storage and
// thresholds come from the regular configuration. The command waits until
// every processing group has caught up before exiting.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/app"
	"coffeeshop.io/coffeeshop/internal/config"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/service"
)

const (
	defaultProducts = 10
	defaultOrders   = 50
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
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

	opts, err := loadBatchOptions()
	if err != nil {
		return err
	}

	ctx := context.Background()
	application, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer application.Shutdown()

	logger.Info("Starting data generation...", zap.String("storage_driver", cfg.Storage.Driver))

	summary, err := application.Commands().Generator().Generate(ctx, opts)
	if err != nil {
		return fmt.Errorf("generate batch: %w", err)
	}
	if err := application.Projection().Registry().CatchUp(ctx); err != nil {
		return fmt.Errorf("catch up projections: %w", err)
	}

	out, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func loadBatchOptions() (service.BatchOptions, error) {
	var (
		opts service.BatchOptions
		err  error
	)
	if opts.Products, err = intEnv("SEED_PRODUCTS", defaultProducts); err != nil {
		return opts, err
	}
	if opts.Orders, err = intEnv("SEED_ORDERS", defaultOrders); err != nil {
		return opts, err
	}
	if opts.TriggerSnapshots, err = boolEnv("SEED_TRIGGER_SNAPSHOTS", false); err != nil {
		return opts, err
	}
	if opts.TriggerDeadLetters, err = boolEnv("SEED_TRIGGER_DEAD_LETTERS", false); err != nil {
		return opts, err
	}
	seed, err := intEnv("SEED_VALUE", 0)
	if err != nil {
		return opts, err
	}
	if seed < 0 {
		return opts, fmt.Errorf("SEED_VALUE must not be negative")
	}
	opts.Seed = uint64(seed)
	if opts.Products < 0 || opts.Orders < 0 {
		return opts, fmt.Errorf("SEED_PRODUCTS and SEED_ORDERS must not be negative")
	}
	return opts, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v, err := strconv.Atoi(envOrDefault(key, strconv.Itoa(fallback)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v, err := strconv.ParseBool(envOrDefault(key, strconv.FormatBool(fallback)))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
