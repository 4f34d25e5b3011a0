package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tejasbhor/Civiclens/internal/api"
	"github.com/tejasbhor/Civiclens/internal/api/handler"
	"github.com/tejasbhor/Civiclens/internal/app"
	"github.com/tejasbhor/Civiclens/internal/config"
	"github.com/tejasbhor/Civiclens/internal/logger"
)

func main() {
	// Initialize logger from LOG_* environment variables
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	// The handler takes an interface, so only pass a configured archiver
	var runs handler.RunLoader
	if application.Services.Archiver != nil {
		runs = application.Services.Archiver
	}

	handlers := api.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"database": application.Ping,
		}),
		Duplicates: handler.NewDuplicateHandler(application.Services.Checker),
		Clusters:   handler.NewClusterHandler(application.Services.Review, application.Services.Ledger),
		Admin:      handler.NewAdminHandler(application.Services.Engine, runs, appLogger),
	}
	router := api.SetupRouter(handlers, &cfg.Server, appLogger)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
