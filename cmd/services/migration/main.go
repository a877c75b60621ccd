package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkflow-ai/dbmigrate/internal/migration/app"
	"github.com/linkflow-ai/dbmigrate/internal/migration/server"
	"github.com/linkflow-ai/dbmigrate/internal/platform/config"
	"github.com/linkflow-ai/dbmigrate/internal/platform/logger"
)

func main() {
	cfg, err := config.Load("migration")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Logger)
	log.Info("Starting Migration Service", "version", cfg.Version, "port", cfg.HTTP.Port, "sources", len(cfg.Migration.Sources))

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("failed to initialize migration runner", "error", err)
	}

	srv, err := server.New(
		server.WithConfig(cfg),
		server.WithLogger(log),
		server.WithMigrationService(a.Service),
		server.WithMetrics(a.Metrics),
		server.WithHealth(a.Health),
	)
	if err != nil {
		a.Close(context.Background())
		log.Fatal("failed to create server", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := a.Close(ctx); err != nil {
		log.Error("failed to close resources", "error", err)
	}

	log.Info("Migration Service stopped gracefully")
}
