// cmd/service/main.go
package main

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

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"pr-insights/internal/ai"
	"pr-insights/internal/api"
	"pr-insights/internal/config"
	"pr-insights/internal/github"
	"pr-insights/internal/insight"
	"pr-insights/internal/store"
	"pr-insights/internal/syncer"
	"pr-insights/internal/tokencipher"
	"pr-insights/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	db, err := store.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	cipher, err := tokencipher.New(cfg.TokenCipherKey)
	if err != nil {
		return fmt.Errorf("failed to initialize token cipher: %w", err)
	}

	newClient := func(token string) syncer.GithubClient {
		return github.NewClient(token, logger)
	}
	appSyncer := syncer.NewSyncer(db, newClient, cipher, logger, cfg.SyncInterval, cfg.StaleJobTimeout)

	var summarizer insight.Summarizer
	if cfg.AIBaseURL != "" {
		summarizer = ai.NewSummarizer(cfg.AIBaseURL, cfg.AIModel)
		logger.Info("AI summarizer enabled", "model", cfg.AIModel)
	}
	engine := insight.NewEngine(db, summarizer, logger, cfg.InsightWindowDays)

	webhookHandler := webhook.NewGitHubHandler(cfg.WebhookSecret, appSyncer, logger)
	newProbe := func(token string) api.GithubProbe {
		return github.NewClient(token, logger)
	}
	router := api.NewRouter(db, appSyncer, engine, newProbe, cipher, webhookHandler, logger)

	// 6. Start the syncer in a separate goroutine
	go appSyncer.Start(ctx)

	// 7. Serve HTTP until the shutdown signal
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting.")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	return nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
