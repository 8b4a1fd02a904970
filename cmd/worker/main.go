package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/mailqueue/mailqueue/config"
	"github.com/mailqueue/mailqueue/internal/app"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

var osExit = os.Exit

// runWorker boots the dispatch pool and blocks until a signal.
func runWorker(cfg *config.Config, appLogger logger.Logger) error {
	appInstance := app.NewApp(cfg, app.WithLogger(appLogger))

	if err := appInstance.Initialize(); err != nil {
		appLogger.WithField("error", err.Error()).Error("Initialization failed")
		return err
	}

	appInstance.StartWorker()
	appLogger.Info("Worker started successfully")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	appLogger.WithField("signal", sig.String()).Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := appInstance.Shutdown(ctx); err != nil {
		appLogger.WithField("error", err.Error()).Error("Shutdown error")
		return err
	}

	appLogger.Info("Worker stopped")
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger().WithField("error", err.Error()).Error("Failed to load configuration")
		osExit(1)
		return
	}

	appLogger := logger.NewLoggerWithLevel(cfg.LogLevel)
	if err := runWorker(cfg, appLogger); err != nil {
		osExit(1)
	}
}
