// Crystald is the knowledge retrieval daemon. It ingests free-form text
// documents, indexes them as embedded chunks, and answers natural-language
// questions over HTTP with strict role-based category partitioning.
//
// Usage:
//
//	# Start with defaults (config at ~/.config/crystald/config.yaml)
//	crystald
//
//	# Point at an explicit config file
//	crystald -config /etc/crystald/config.yaml
//
// Environment variables with the CRYSTALD_ prefix override file settings,
// e.g. CRYSTALD_SERVER_PORT=9090.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crystald/internal/config"
	"github.com/fyrsmithlabs/crystald/internal/httpapi"
	"github.com/fyrsmithlabs/crystald/internal/logging"
	"github.com/fyrsmithlabs/crystald/internal/services"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("crystald %s (%s)\n", version, gitCommit)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		log.Fatalf("crystald: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting crystald",
		zap.String("version", version),
		zap.String("vectorstore", cfg.VectorStore.Provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := services.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building services: %w", err)
	}
	defer registry.Close()

	server, err := httpapi.NewServer(registry.Pages, registry.Search, registry.Chat, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("building http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
