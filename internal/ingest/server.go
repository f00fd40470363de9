// Package ingest implements the C3 ingest gateway: validated HTTP intake,
// admission control, pre-aggregation, and fan-out to the message bus.
// Router construction and graceful-shutdown plumbing follow the teacher's
// cmd/aura/main.go shape (gin.New + middleware + /healthz/readyz/metrics
// triad); the domain handlers are this spec's.
package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/apperr"
	"github.com/vantage-observability/vantage/internal/bus"
	"github.com/vantage-observability/vantage/internal/config"
	"github.com/vantage-observability/vantage/internal/ingest/preagg"
	"github.com/vantage-observability/vantage/internal/ingest/publish"
	"github.com/vantage-observability/vantage/internal/ingest/ratelimit"
	"github.com/vantage-observability/vantage/internal/ingest/validate"
	"github.com/vantage-observability/vantage/internal/model"
)

// Server holds the gateway's dependencies and wires the HTTP routes.
type Server struct {
	cfg       *config.GatewayConfig
	log       *zap.Logger
	limiter   *ratelimit.Limiter
	publisher *publish.Publisher
	preagg    *preagg.Buffer
	metrics   *selfMetrics
	registry  *prometheus.Registry
	busReady  func() bool

	acceptedCount int64
}

// New builds a Server. busReady reports whether C1 is currently reachable,
// for /readyz. Each Server owns its own metrics registry so that multiple
// instances (e.g. in tests) never collide on a shared default registerer.
func New(cfg *config.GatewayConfig, log *zap.Logger, b bus.Publisher, busReady func() bool) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:       cfg,
		log:       log,
		limiter:   ratelimit.New(float64(cfg.RateLimitBurst), cfg.RateLimitRPM),
		publisher: publish.New(b, cfg.PublishRetryBudget),
		metrics:   newSelfMetrics(reg),
		registry:  reg,
		busReady:  busReady,
	}

	if cfg.PreaggEnabled {
		s.preagg = preagg.New(cfg.PreaggShardCount, cfg.PreaggMaxKeys, cfg.PreaggWindow, s.publishRows, s.publishRawSample)
		go s.preagg.Run()
	}
	return s
}

// Router builds the gin engine with every route spec.md §6 names for C3.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.loggingMiddleware(), s.inFlightMiddleware())

	r.POST("/v1/metrics", s.handleIngest)
	r.GET("/v1/stats", s.handleStats)
	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)
	r.GET("/live", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return r
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *Server) inFlightMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.metrics.inFlight.Inc()
		defer s.metrics.inFlight.Dec()
		c.Next()
	}
}

func (s *Server) identity(c *gin.Context) (string, bool) {
	if !s.cfg.AuthEnabled {
		return c.ClientIP(), true
	}
	key := c.GetHeader("X-API-Key")
	if key == "" {
		return "", false
	}
	for _, allowed := range s.cfg.APIKeys {
		if key == allowed {
			return key, true
		}
	}
	return "", false
}

func (s *Server) handleIngest(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		s.metrics.requests.WithLabelValues("auth_rejected").Inc()
		c.JSON(http.StatusUnauthorized, apperr.New(apperr.KindAuth, "invalid_api_key", "missing or invalid API key"))
		return
	}

	allowed, retryAfter := s.limiter.Allow(identity)
	if !allowed {
		s.metrics.requests.WithLabelValues("rate_limited").Inc()
		c.Header("Retry-After", formatSeconds(retryAfter))
		c.JSON(http.StatusTooManyRequests, apperr.New(apperr.KindOverload, "rate_limited", "token bucket exhausted").
			WithDetails(map[string]any{"retry_after_seconds": retryAfter.Seconds()}))
		return
	}

	var env model.BatchEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		s.metrics.requests.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, apperr.New(apperr.KindValidation, "malformed_json", err.Error()))
		return
	}
	env.ReceivedAt = time.Now()

	if len(env.Metrics) > s.cfg.MaxBatchSize {
		s.metrics.requests.WithLabelValues("batch_too_large").Inc()
		c.JSON(http.StatusRequestEntityTooLarge, apperr.New(apperr.KindValidation, "batch_too_large", "batch exceeds max_batch_size"))
		return
	}

	var fieldErrs []validate.FieldError
	for i, sample := range env.Metrics {
		fieldErrs = append(fieldErrs, validate.Sample(i, sample)...)
	}
	if len(fieldErrs) > 0 {
		s.metrics.requests.WithLabelValues("validation_rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"errors": fieldErrs})
		return
	}

	if err := s.dispatch(c, env); err != nil {
		s.metrics.publishErrors.Inc()
		s.metrics.requests.WithLabelValues("publish_failed").Inc()
		appErr, _ := apperr.As(err)
		if appErr == nil {
			appErr = apperr.New(apperr.KindDependencyRetryable, "publish_failed", err.Error())
		}
		c.JSON(apperr.StatusFor(appErr.Kind), appErr)
		return
	}

	s.metrics.requests.WithLabelValues("accepted").Inc()
	atomic.AddInt64(&s.acceptedCount, int64(len(env.Metrics)))
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(env.Metrics)})
}

// dispatch either hands samples to the pre-aggregation buffer or publishes
// them directly, depending on configuration.
func (s *Server) dispatch(c *gin.Context, env model.BatchEnvelope) error {
	if s.preagg == nil {
		for _, sample := range env.Metrics {
			if err := s.publishSample(c, sample); err != nil {
				return err
			}
		}
		return nil
	}
	for _, sample := range env.Metrics {
		s.preagg.Add(sample)
	}
	return nil
}

func (s *Server) publishRawSample(sample model.Sample) {
	if err := s.publishSample(nil, sample); err != nil {
		s.log.Error("failed to publish raw sample", zap.Error(err), zap.String("service", sample.ServiceName))
	}
}

func (s *Server) publishRows(rows []model.Row) {
	for _, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			s.log.Error("failed to marshal aggregated row", zap.Error(err))
			continue
		}
		start := time.Now()
		if err := s.publisher.Publish(contextOrBackground(nil), row.ServiceName, payload); err != nil {
			s.log.Error("failed to publish aggregated row", zap.Error(err), zap.String("service", row.ServiceName))
			continue
		}
		s.metrics.publishLatency.Observe(time.Since(start).Seconds())
	}
}

func (s *Server) publishSample(c *gin.Context, sample model.Sample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return apperr.New(apperr.KindInternal, "marshal_failed", err.Error())
	}
	start := time.Now()
	err = s.publisher.Publish(contextOrBackground(c), sample.ServiceName, payload)
	s.metrics.publishLatency.Observe(time.Since(start).Seconds())
	return err
}

func contextOrBackground(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	return c.Request.Context()
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accepted_total": atomic.LoadInt64(&s.acceptedCount)})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	if s.busReady != nil && !s.busReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
