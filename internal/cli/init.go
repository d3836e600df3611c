// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/moneymanager and cmd/notify-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"moneymanager/internal/config"
	"moneymanager/internal/log"
)

// SetupLogger initializes structured logging from LOG_LEVEL and LOG_FORMAT.
// Returns the configured logger and sets it as the default logger.
func SetupLogger(component string) *log.Logger {
	level, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = log.FormatText
	}
	logger := log.New(log.Config{
		Level:     level,
		Format:    format,
		Component: component,
		Output:    os.Stdout,
	})
	if err != nil {
		logger.Warn("Falling back to info level", "error", err)
	}
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// Bootstrap runs the shared startup sequence of every binary: env file,
// logger, validated config.
func Bootstrap(component string) (*log.Logger, *config.Config) {
	LoadEnvFile()
	logger := SetupLogger(component)
	cfg := LoadAndValidateConfig(logger)
	return logger, cfg
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		case <-finished:
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}

// Fatal logs err and exits. Used for startup failures after the logger exists.
func Fatal(logger *log.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	fmt.Fprintln(os.Stderr, msg+":", err)
	os.Exit(1)
}
