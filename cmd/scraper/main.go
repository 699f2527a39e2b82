// Package main runs one drain of the pending product pages.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/product-scraper/internal/app"
	"github.com/JakeFAU/product-scraper/internal/config"
	"github.com/JakeFAU/product-scraper/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		logger.Error("init failed", zap.Error(err))
		return 1
	}

	summary, runErr := a.Run(ctx)
	if err := a.Close(context.Background()); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	if runErr != nil {
		logger.Error("run failed", zap.Error(runErr))
		return 1
	}
	if summary.Interrupted {
		logger.Info("run interrupted", zap.Int("succeeded", summary.Succeeded), zap.Int("total", summary.Total))
	}
	return 0
}
