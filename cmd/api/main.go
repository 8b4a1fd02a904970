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

// osExit is a variable to allow mocking os.Exit in tests
var osExit = os.Exit

// runServer contains the core server logic, extracted for testability
func runServer(cfg *config.Config, appLogger logger.Logger) error {
	appInstance := app.NewApp(cfg, app.WithLogger(appLogger))

	if err := appInstance.Initialize(); err != nil {
		appLogger.WithField("error", err.Error()).Error("Initialization failed")
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverError := make(chan error, 1)
	go func() {
		appLogger.Info("Server started successfully")
		serverError <- appInstance.StartAPI()
	}()

	select {
	case sig := <-shutdown:
		appLogger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-serverError:
		if err != nil {
			appLogger.WithField("error", err.Error()).Error("Server error")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := appInstance.Shutdown(ctx); err != nil {
		appLogger.WithField("error", err.Error()).Error("Shutdown error")
		return err
	}

	appLogger.Info("Server stopped")
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
	if err := runServer(cfg, appLogger); err != nil {
		osExit(1)
	}
}
