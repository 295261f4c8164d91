// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package server wires the recovery service together and runs the
// HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/oliverandrich/go-account-recovery/internal/audit"
	"codeberg.org/oliverandrich/go-account-recovery/internal/config"
	"codeberg.org/oliverandrich/go-account-recovery/internal/database"
	"codeberg.org/oliverandrich/go-account-recovery/internal/handlers"
	"codeberg.org/oliverandrich/go-account-recovery/internal/i18n"
	"codeberg.org/oliverandrich/go-account-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-account-recovery/internal/services/auth"
	"codeberg.org/oliverandrich/go-account-recovery/internal/services/email"
	"codeberg.org/oliverandrich/go-account-recovery/internal/services/reset"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
)

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	// Database
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	// i18n
	if initErr := i18n.Init(); initErr != nil {
		return fmt.Errorf("failed to init i18n: %w", initErr)
	}

	// Repository and services
	repo := repository.New(db)
	sink := audit.NewStoreSink(repo)
	authService := auth.NewService(repo, sink)
	resetService := reset.NewService(repo, authService, sink)

	emailService, err := email.NewService(repo, &cfg.SMTP, sink, cfg.Server.BaseURL)
	if err != nil {
		slog.Warn("email channel disabled", "error", err)
		emailService = nil
	}

	// Echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupMiddleware(e, cfg)
	setupRoutes(e, handlers.New(resetService, emailService))

	return startWithGracefulShutdown(ctx, e, cfg)
}

func setupRoutes(e *echo.Echo, h *handlers.Handlers) {
	e.GET("/health", h.Health)

	api := e.Group("/api/recovery")
	api.POST("/complete", h.CompleteRecovery)
	api.POST("/send-email", h.SendRecoveryEmail)
	api.POST("/verify-token", h.VerifyRecoveryToken)
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		slog.Info("server running", "url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case <-quit:
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
