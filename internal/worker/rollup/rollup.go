// Package rollup periodically materializes hourly and daily rollups from
// raw rows and enforces the retention policy (spec.md §4.4's "nightly
// rollup + retention" responsibility of C4), grounded on the teacher's
// periodic-task pattern in
// _examples/namansh70747-AURA-.../internal/core (ticker-driven background
// loop started alongside the main consumer loop).
package rollup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/signals/stats"
	"github.com/vantage-observability/vantage/internal/store"
)

// Retention holds the per-resolution retention windows.
type Retention struct {
	RawDays    int
	HourlyDays int
	DailyDays  int
}

// Task drives periodic rollup materialization and retention enforcement.
type Task struct {
	store     store.Adapter
	log       *zap.Logger
	interval  time.Duration
	retention Retention
	stopCh    chan struct{}
}

// New builds a Task. interval is how often hourly rollups are computed;
// daily rollups and retention sweeps run once per 24 intervals worth of
// elapsed time, tracked internally.
func New(s store.Adapter, log *zap.Logger, interval time.Duration, retention Retention) *Task {
	return &Task{store: s, log: log, interval: interval, retention: retention, stopCh: make(chan struct{})}
}

// Run blocks, materializing rollups on every tick, until Stop is called.
func (t *Task) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	cyclesSinceDaily := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			t.runHourly(ctx, now)
			cyclesSinceDaily++
			if cyclesSinceDaily >= 24 {
				cyclesSinceDaily = 0
				t.runDaily(ctx, now)
				t.enforceRetention(ctx, now)
			}
		}
	}
}

// Stop signals Run to return.
func (t *Task) Stop() {
	close(t.stopCh)
}

func (t *Task) runHourly(ctx context.Context, now time.Time) {
	window := store.Window{Start: now.Add(-1 * time.Hour), End: now}
	if err := t.materialize(ctx, window, 0, 60); err != nil {
		t.log.Error("hourly rollup failed", zap.Error(err))
	}
}

func (t *Task) runDaily(ctx context.Context, now time.Time) {
	window := store.Window{Start: now.Add(-24 * time.Hour), End: now}
	if err := t.materialize(ctx, window, 60, 1440); err != nil {
		t.log.Error("daily rollup failed", zap.Error(err))
	}
}

// materialize rolls every service's rows up into resolutionMinutes-wide
// buckets and persists them via InsertRollup. It reads only rows stored at
// sourceResolution (0 for raw, 60 for hourly) so a daily rollup never
// re-aggregates the hourly rollups (or raw rows) already sharing its
// window — querying unfiltered would double-count them.
func (t *Task) materialize(ctx context.Context, window store.Window, sourceResolution, resolutionMinutes int) error {
	services, err := t.store.DistinctServices(ctx, window.Start)
	if err != nil {
		return err
	}

	bucketWidth := time.Duration(resolutionMinutes) * time.Minute
	src := sourceResolution
	var rollups []model.Row
	for _, service := range services {
		rows, err := t.store.QueryRange(ctx, store.Filter{ServiceName: service, ResolutionMinutes: &src}, window, 100000)
		if err != nil {
			t.log.Error("rollup query_range failed", zap.String("service", service), zap.Error(err))
			continue
		}
		rollups = append(rollups, bucketByMetric(rows, bucketWidth, resolutionMinutes)...)
	}

	if len(rollups) == 0 {
		return nil
	}
	return t.store.InsertRollup(ctx, rollups)
}

// bucketByMetric groups rows by (metric_name, bucket_start) and computes
// one summarized Row per group.
func bucketByMetric(rows []model.Row, bucketWidth time.Duration, resolutionMinutes int) []model.Row {
	type groupKey struct {
		metric string
		bucket time.Time
	}
	groups := make(map[groupKey][]model.Row)
	order := make([]groupKey, 0)
	for _, r := range rows {
		bucket := r.Timestamp.Truncate(bucketWidth)
		k := groupKey{metric: r.MetricName, bucket: bucket}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	out := make([]model.Row, 0, len(order))
	for _, k := range order {
		group := groups[k]
		values := make([]float64, len(group))
		var errCount int64
		for i, r := range group {
			values[i] = r.Value
			if r.StatusCode >= 500 {
				errCount++
			}
		}
		out = append(out, model.Row{
			Timestamp:         k.bucket,
			ServiceName:       group[0].ServiceName,
			MetricName:        k.metric,
			MetricType:        group[0].MetricType,
			Value:             stats.Mean(values),
			Aggregated:        true,
			ResolutionMinutes: resolutionMinutes,
			Count:             int64(len(group)),
			ErrorCount:        errCount,
			MinValue:          minOf(values),
			MaxValue:          maxOf(values),
			P50:               stats.Percentile(values, 50),
			P95:               stats.Percentile(values, 95),
			P99:               stats.Percentile(values, 99),
		})
	}
	return out
}

func minOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func (t *Task) enforceRetention(ctx context.Context, now time.Time) {
	deleted, err := t.store.DeleteOlderThan(ctx, 0, now.AddDate(0, 0, -t.retention.RawDays))
	if err != nil {
		t.log.Error("raw retention sweep failed", zap.Error(err))
	} else if deleted > 0 {
		t.log.Info("raw retention sweep", zap.Int64("deleted", deleted))
	}

	deleted, err = t.store.DeleteOlderThan(ctx, 60, now.AddDate(0, 0, -t.retention.HourlyDays))
	if err != nil {
		t.log.Error("hourly retention sweep failed", zap.Error(err))
	} else if deleted > 0 {
		t.log.Info("hourly retention sweep", zap.Int64("deleted", deleted))
	}

	deleted, err = t.store.DeleteOlderThan(ctx, 1440, now.AddDate(0, 0, -t.retention.DailyDays))
	if err != nil {
		t.log.Error("daily retention sweep failed", zap.Error(err))
	} else if deleted > 0 {
		t.log.Info("daily retention sweep", zap.Int64("deleted", deleted))
	}
}
