package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tejasbhor/Civiclens/internal/app"
	"github.com/tejasbhor/Civiclens/internal/config"
	"github.com/tejasbhor/Civiclens/internal/logger"
	"github.com/tejasbhor/Civiclens/internal/service"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "civiclens-cluster",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	category := flag.String("category", "", "Only cluster reports of this category")
	window := flag.Int("window", 0, "Time window in days (0 uses the configured default)")
	force := flag.Bool("force", false, "Refresh clusters a reviewer already resolved")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	appLogger.WithFields(logger.Fields{
		"category": *category,
		"window":   *window,
		"force":    *force,
	}).Info("Starting clustering run")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}

	result, err := application.Services.Engine.Run(ctx, service.ClusterRequest{
		Category:       *category,
		TimeWindowDays: *window,
		ForceRecluster: *force,
	})
	exitCode := 0
	if err != nil {
		appLogger.WithError(err).Error("Clustering run failed")
		exitCode = 1
	}
	if result != nil {
		logger.Info("Clustering run %s finished: status=%s, clusters=%d", result.RunID, result.Status, len(result.Clusters))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Error("Failed to print run summary: %v", err)
		}
	}

	if err := application.Close(); err != nil {
		logger.Warn("Failed to close resources: %v", err)
	}
	os.Exit(exitCode)
}
