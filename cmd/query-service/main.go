// Command query-service runs C5: range and aggregate queries, the VQL
// DSL, live push, health scores, adaptive alerting, and cohort
// comparison. Startup and graceful-shutdown shape follow
// cmd/ingest-gateway/main.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/config"
	"github.com/vantage-observability/vantage/internal/query"
	"github.com/vantage-observability/vantage/internal/store"
	"github.com/vantage-observability/vantage/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadQueryConfig(config.ConfigPath("query"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Log

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, err := store.NewPostgresAdapter(ctx, cfg.DatabaseURL(), cfg.Database.MaxConnections, log)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer adapter.Close()

	server := query.New(cfg, log, adapter)
	go server.RunAlertLoop(ctx)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           server.Router(),
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      0, // the live channel streams indefinitely
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("query service listening", zap.Int("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	return nil
}
