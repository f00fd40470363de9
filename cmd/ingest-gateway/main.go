// Command ingest-gateway runs C3: validated HTTP intake, admission
// control, pre-aggregation, and fan-out to the message bus. Startup and
// graceful-shutdown shape follow the teacher's cmd/aura/main.go.
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

	"github.com/vantage-observability/vantage/internal/bus"
	"github.com/vantage-observability/vantage/internal/config"
	"github.com/vantage-observability/vantage/internal/ingest"
	"github.com/vantage-observability/vantage/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadGatewayConfig(config.ConfigPath("gateway"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Log

	mqttBus, err := bus.NewMQTTBus(cfg.Bus.BrokerURL, cfg.Bus.ClientID, log)
	if err != nil {
		return fmt.Errorf("connecting to message bus: %w", err)
	}
	defer mqttBus.Close()

	server := ingest.New(cfg, log, mqttBus, mqttBus.IsConnected)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           server.Router(),
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("ingest gateway listening", zap.Int("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	return nil
}
