package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/store"
)

// RunAlertLoop drives the adaptive alerting evaluation tick of spec.md
// §4.5.5: every EvalPeriod, every (service, metric) pair observed recently
// is re-evaluated against its rolling baseline. Blocks until ctx is
// cancelled.
func (s *Server) RunAlertLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.EvalPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluateAll(ctx)
		}
	}
}

func (s *Server) evaluateAll(ctx context.Context) {
	now := time.Now()
	services, err := s.store.DistinctServices(ctx, now.Add(-s.cfg.BaselineWindow))
	if err != nil {
		s.log.Warn("alert loop: failed to list services", zap.Error(err))
		return
	}

	for _, svc := range services {
		recent, err := s.store.QueryRange(ctx, store.Filter{ServiceName: svc}, store.Window{Start: now.Add(-5 * time.Minute), End: now}, 1000)
		if err != nil {
			s.log.Warn("alert loop: failed to list recent metrics", zap.String("service", svc), zap.Error(err))
			continue
		}

		metrics := map[string]bool{}
		for _, row := range recent {
			metrics[row.MetricName] = true
		}

		for metric := range metrics {
			s.evaluateOne(ctx, svc, metric, now)
		}
	}
}

func (s *Server) evaluateOne(ctx context.Context, service, metric string, now time.Time) {
	baselineWindow := store.Window{Start: now.Add(-s.cfg.BaselineWindow), End: now}
	baselineBuckets, err := s.store.QueryAggregates(ctx, store.Filter{ServiceName: service, MetricName: metric}, baselineWindow, time.Minute)
	if err != nil || len(baselineBuckets) == 0 {
		return
	}

	baseline := make([]float64, len(baselineBuckets))
	for i, b := range baselineBuckets {
		baseline[i] = b.Avg
	}
	current := baseline[len(baseline)-1]

	if err := s.evalr.Evaluate(ctx, service, metric, baseline, current, now); err != nil {
		s.log.Warn("alert loop: evaluation failed", zap.String("service", service), zap.String("metric", metric), zap.Error(err))
	}
}
