// Command stream-worker runs C4: consumes batches off the message bus,
// inserts them through a circuit breaker with backpressure-aware batch
// sizing, and drives periodic rollups and retention. Startup and
// graceful-shutdown shape follow cmd/ingest-gateway/main.go, itself
// following the teacher's cmd/aura/main.go.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/bus"
	"github.com/vantage-observability/vantage/internal/config"
	"github.com/vantage-observability/vantage/internal/store"
	"github.com/vantage-observability/vantage/internal/worker"
	"github.com/vantage-observability/vantage/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorkerConfig(config.ConfigPath("worker"))
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, err := store.NewPostgresAdapter(ctx, cfg.DatabaseURL(), cfg.Database.MaxConnections, log)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer adapter.Close()

	c := worker.New(cfg, log, mqttBus, adapter)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := c.Run(ctx); err != nil {
			log.Error("consumer loop exited with error", zap.Error(err))
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	debugRouter := gin.New()
	debugRouter.Use(gin.Recovery())
	debugRouter.GET("/healthz", func(g *gin.Context) {
		g.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	debugRouter.GET("/readyz", func(g *gin.Context) {
		if err := adapter.Health(g.Request.Context()); err != nil {
			g.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
			return
		}
		snap := c.BreakerSnapshot()
		g.JSON(http.StatusOK, gin.H{
			"ready":             true,
			"breaker_state":     snap.State,
			"dead_letter_total": c.DeadLetterTotal(),
		})
	})
	debugRouter.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{})))
	debugRouter.GET("/internal/deadletters", func(g *gin.Context) {
		entries := c.RecentDeadLetters()
		out := make([]gin.H, 0, len(entries))
		for _, e := range entries {
			out = append(out, gin.H{
				"service_name": e.Row.ServiceName,
				"metric_name":  e.Row.MetricName,
				"reason":       e.Reason,
				"dropped_at":   e.DroppedAt,
			})
		}
		g.JSON(http.StatusOK, gin.H{"total": c.DeadLetterTotal(), "recent": out})
	})

	debugSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.DebugPort),
		Handler: debugRouter,
	}
	go func() {
		log.Info("stream worker debug server listening", zap.Int("port", cfg.DebugPort))
		if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("debug server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-quit:
	case <-runDone:
		log.Warn("consumer loop exited before a shutdown signal")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := debugSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("debug server shutdown error", zap.Error(err))
	}

	select {
	case <-runDone:
	case <-time.After(30 * time.Second):
		log.Warn("consumer loop did not exit within shutdown deadline")
	}
	return nil
}
