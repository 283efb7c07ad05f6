package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"syncdeck/internal/app"
	"syncdeck/internal/config"
)

// Main entry point with signal management. Graceful shutdown on
// SIGINT/SIGTERM ensures proper resource cleanup.
func main() {
	if err := run(); err != nil {
		logrus.Fatal(err)
	}
}

// run is separated from main so errors flow back as values.
func run() error {
	configPath := flag.String("config", os.Getenv("SYNCDECK_CONFIG_FILE"), "path to JSON config file")
	logLevel := flag.String("log-level", os.Getenv("SYNCDECK_LOG_LEVEL"), "log level (debug, info, warn, error)")
	flag.Parse()

	setupLogging(*logLevel)

	// Configuration precedence: file > environment > defaults
	cfg := config.LoadConfigWithPrecedence(*configPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := application.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		logrus.WithField("signal", sig.String()).Info("shutting down gracefully")

		// Timeout context prevents a hanging shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := application.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
