// Package main is the entry point for the account service.
//
// main stays minimal:
//  1. read configuration (internal/config)
//  2. create the logger and open the user store
//  3. hand both to internal/server and start it
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sakif/account-service/internal/config"
	"github.com/sakif/account-service/internal/repository"
	"github.com/sakif/account-service/internal/repository/postgres"
	"github.com/sakif/account-service/internal/repository/sqlite"
	"github.com/sakif/account-service/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; its level is part of the config.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open user store",
			slog.String("driver", cfg.DBDriver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	srv, err := server.New(server.Config{
		Port:       cfg.Port,
		PublicURL:  cfg.PublicURL,
		JWTSecret:  cfg.JWTSecret,
		CostFactor: cfg.CostFactor,
		AvatarDir:  cfg.AvatarDir,
	}, store, logger)
	if err != nil {
		store.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM and closes the store on the way out.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// openStore opens the backend named by DB_DRIVER and brings its schema up
// to date.
func openStore(cfg *config.Config) (repository.UserStore, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return db, nil

	default:
		// The data directory may not exist on a fresh checkout.
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}
