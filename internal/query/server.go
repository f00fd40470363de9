// Package query implements C5, the query & signals service: range and
// aggregate queries, the restricted VQL DSL, live push, health scores,
// adaptive alerting, and cohort comparison. Router construction follows
// the same gin.New + middleware + health-triad shape as internal/ingest.
package query

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/apperr"
	"github.com/vantage-observability/vantage/internal/config"
	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/query/live"
	"github.com/vantage-observability/vantage/internal/query/rangequery"
	"github.com/vantage-observability/vantage/internal/query/vql"
	"github.com/vantage-observability/vantage/internal/signals/alert"
	"github.com/vantage-observability/vantage/internal/signals/anomaly"
	"github.com/vantage-observability/vantage/internal/signals/compare"
	"github.com/vantage-observability/vantage/internal/signals/health"
	"github.com/vantage-observability/vantage/internal/store"
)

// Server wires C5's HTTP routes to the store adapter and the signals
// engine.
type Server struct {
	cfg      *config.QueryConfig
	log      *zap.Logger
	store    store.Adapter
	cache    *redis.Client
	evalr    *alert.Evaluator
	metrics  *selfMetrics
	registry *prometheus.Registry
}

// New builds a Server. cacheAddr may be empty, in which case service-list
// lookups always go to the store. Each Server owns its own metrics
// registry so that multiple instances (e.g. in tests) never collide on a
// shared default registerer.
func New(cfg *config.QueryConfig, log *zap.Logger, s store.Adapter) *Server {
	var cache *redis.Client
	if cfg.CacheAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.CacheAddr})
	}
	reg := prometheus.NewRegistry()
	return &Server{
		cfg:      cfg,
		log:      log,
		store:    s,
		cache:    cache,
		metrics:  newSelfMetrics(reg),
		registry: reg,
		evalr: alert.NewEvaluator(s, alert.Config{
			SigmaK:          cfg.SigmaK,
			SigmaFloorRatio: alert.DefaultConfig.SigmaFloorRatio,
			ConsecBreaches:  alert.DefaultConfig.ConsecBreaches,
			ConsecOK:        alert.DefaultConfig.ConsecOK,
			DedupWindow:     alert.DefaultConfig.DedupWindow,
		}),
	}
}

// Router builds the gin engine with every route spec.md §6 names for C5.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.loggingMiddleware())

	r.GET("/api/metrics/timeseries", s.handleTimeSeries)
	r.GET("/api/metrics/aggregated", s.handleAggregated)
	r.GET("/api/services", s.handleServices)
	r.GET("/health/scores", s.handleHealthScores)
	r.GET("/alerts", s.handleAlerts)
	r.GET("/alerts/active", s.handleActiveAlerts)
	r.GET("/api/stats/query-log", s.handleQueryLog)
	r.POST("/vql/execute", s.handleVQLExecute)
	r.POST("/compare/services", s.handleCompareServices)
	r.GET("/ws/metrics", s.handleLiveMetrics)
	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return r
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		s.metrics.latency.WithLabelValues(route).Observe(elapsed.Seconds())
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", elapsed),
		)
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

func (s *Server) requireAuth(c *gin.Context) bool {
	if _, ok := s.identity(c); !ok {
		c.JSON(http.StatusUnauthorized, apperr.New(apperr.KindAuth, "invalid_api_key", "missing or invalid API key"))
		return false
	}
	return true
}

func (s *Server) respondErr(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.New(apperr.KindInternal, "internal_error", err.Error())
	}
	c.JSON(apperr.StatusFor(appErr.Kind), appErr)
}

func rangeSecondsParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("range", "3600"))
	if err != nil || n <= 0 {
		return 3600
	}
	return n
}

func (s *Server) handleTimeSeries(c *gin.Context) {
	if !s.requireAuth(c) {
		return
	}
	req := rangequery.Request{Service: c.Query("service"), Metric: c.Query("metric"), RangeSeconds: rangeSecondsParam(c)}
	rows, err := rangequery.TimeSeries(c.Request.Context(), s.store, req)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleAggregated(c *gin.Context) {
	if !s.requireAuth(c) {
		return
	}
	req := rangequery.Request{Service: c.Query("service"), Metric: c.Query("metric"), RangeSeconds: rangeSecondsParam(c)}
	row, err := rangequery.Aggregated(c.Request.Context(), s.store, req)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

const servicesCacheKey = "vantage:services:24h"

func (s *Server) handleServices(c *gin.Context) {
	if !s.requireAuth(c) {
		return
	}
	ctx := c.Request.Context()

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, servicesCacheKey).Result(); err == nil && cached != "" {
			c.JSON(http.StatusOK, strings.Split(cached, ","))
			return
		}
	}

	services, err := s.store.DistinctServices(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	if s.cache != nil {
		s.cache.Set(ctx, servicesCacheKey, strings.Join(services, ","), time.Minute)
	}
	c.JSON(http.StatusOK, services)
}

// healthScoreResponse pairs the weighted composite score with a
// supplemented trend verdict computed over the same window's per-minute
// p95 buckets.
type healthScoreResponse struct {
	health.Score
	Trend anomaly.Result `json:"trend"`
}

func (s *Server) handleHealthScores(c *gin.Context) {
	if !s.requireAuth(c) {
		return
	}
	ctx := c.Request.Context()
	services, err := s.store.DistinctServices(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		s.respondErr(c, err)
		return
	}

	weights := health.Weights{Error: s.cfg.HealthWeights.Error, Latency: s.cfg.HealthWeights.Latency, Traffic: s.cfg.HealthWeights.Traffic}
	window := store.Window{Start: time.Now().Add(-s.cfg.HealthWindow), End: time.Now()}

	scores := lo.FilterMap(services, func(svc string, _ int) (healthScoreResponse, bool) {
		totals, err := s.store.QueryAggregates(ctx, store.Filter{ServiceName: svc}, window, s.cfg.HealthWindow)
		if err != nil || len(totals) == 0 {
			return healthScoreResponse{}, false
		}
		total := totals[0]

		minuteBuckets, err := s.store.QueryAggregates(ctx, store.Filter{ServiceName: svc}, window, time.Minute)
		if err != nil {
			minuteBuckets = nil
		}
		p95Series := lo.Map(minuteBuckets, func(b model.AggregateRow, _ int) float64 { return b.P95 })

		return healthScoreResponse{
			Score: health.Compute(svc, total.Count, total.ErrorCount, total.P95, weights),
			Trend: anomaly.DetectCombined(p95Series),
		}, true
	})
	c.JSON(http.StatusOK, scores)
}

func (s *Server) handleAlerts(c *gin.Context) {
	if !s.requireAuth(c) {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	alerts, err := s.store.ListAlerts(c.Request.Context(), limit)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// handleQueryLog serves the supplemented query access log (SPEC_FULL.md §3),
// a debug aid over query_log rows LogQuery writes on every VQL execution —
// not part of the billed/contracted surface.
func (s *Server) handleQueryLog(c *gin.Context) {
	if !s.requireAuth(c) {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	entries, err := s.store.RecentQueryLog(c.Request.Context(), limit)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleActiveAlerts(c *gin.Context) {
	if !s.requireAuth(c) {
		return
	}
	alerts, err := s.store.ActiveAlerts(c.Request.Context())
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

type vqlRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleVQLExecute(c *gin.Context) {
	if !s.requireAuth(c) {
		return
	}
	var req vqlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.New(apperr.KindValidation, "malformed_json", err.Error()))
		return
	}

	q, err := vql.Parse(req.Query)
	if err != nil {
		pe, _ := err.(*vql.ParseError)
		details := map[string]any{}
		if pe != nil {
			details["token"] = pe.Token
		}
		c.JSON(http.StatusBadRequest, apperr.New(apperr.KindValidation, "invalid_query", err.Error()).WithDetails(details))
		return
	}

	start := time.Now()
	rows, err := vql.Execute(c.Request.Context(), s.store, q)
	s.store.LogQuery(c.Request.Context(), q.From, "", time.Since(start).Seconds()*1000)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type compareRequest struct {
	BaselineService  string `json:"baseline_service"`
	CandidateService string `json:"candidate_service"`
	MetricName       string `json:"metric_name"`
	TimeStart        string `json:"time_start"`
	TimeEnd          string `json:"time_end"`
}

func (s *Server) handleCompareServices(c *gin.Context) {
	if !s.requireAuth(c) {
		return
	}
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.New(apperr.KindValidation, "malformed_json", err.Error()))
		return
	}

	window := store.Window{Start: time.Now().Add(-24 * time.Hour), End: time.Now()}
	if req.TimeStart != "" {
		if t, err := dateparse.ParseAny(req.TimeStart); err == nil {
			window.Start = t
		}
	}
	if req.TimeEnd != "" {
		if t, err := dateparse.ParseAny(req.TimeEnd); err == nil {
			window.End = t
		}
	}

	ctx := c.Request.Context()
	baselineBuckets, err := bucketMeans(ctx, s.store, req.BaselineService, req.MetricName, window)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	candidateBuckets, err := bucketMeans(ctx, s.store, req.CandidateService, req.MetricName, window)
	if err != nil {
		s.respondErr(c, err)
		return
	}

	result := compare.Compare(baselineBuckets, candidateBuckets)
	c.JSON(http.StatusOK, result)
}

func bucketMeans(ctx context.Context, s store.Adapter, service, metric string, window store.Window) ([]float64, error) {
	buckets, err := s.QueryAggregates(ctx, store.Filter{ServiceName: service, MetricName: metric}, window, time.Minute)
	if err != nil {
		return nil, err
	}
	return lo.Map(buckets, func(b model.AggregateRow, _ int) float64 { return b.Avg }), nil
}

func (s *Server) handleLiveMetrics(c *gin.Context) {
	service := c.Query("service")
	cfg := live.Config{PollInterval: s.cfg.LivePollInterval, BufferSize: s.cfg.LiveBufferSize, Heartbeat: s.cfg.LiveHeartbeat}
	if err := live.Serve(c.Writer, c.Request, service, s.store, cfg, s.log); err != nil {
		s.log.Warn("live channel closed with error", zap.Error(err))
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	if err := s.store.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
