// Package rangequery implements the time-range and aggregate query
// endpoints of spec.md §4.5.1: translate a service/metric/range request
// into a C2 aggregate query with a safe, parameter-bound predicate.
package rangequery

import (
	"context"
	"time"

	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/store"
)

const (
	minBucketWidth = 60 * time.Second
	maxBucketWidth = 24 * time.Hour
)

// BucketWidth returns a tenth of rangeSeconds, clamped to [60s, 1 day], per
// spec.md §4.5.1.
func BucketWidth(rangeSeconds int) time.Duration {
	width := time.Duration(rangeSeconds) * time.Second / 10
	if width < minBucketWidth {
		return minBucketWidth
	}
	if width > maxBucketWidth {
		return maxBucketWidth
	}
	return width
}

// Request is the common shape of /api/metrics/timeseries and
// /api/metrics/aggregated.
type Request struct {
	Service      string
	Metric       string
	RangeSeconds int
	GroupBy      []string
}

// TimeSeries runs a bucketed aggregate query across the request's window,
// one bucket per BucketWidth(RangeSeconds).
func TimeSeries(ctx context.Context, s store.Adapter, req Request) ([]model.AggregateRow, error) {
	if req.RangeSeconds <= 0 {
		req.RangeSeconds = 3600
	}
	now := time.Now()
	window := store.Window{Start: now.Add(-time.Duration(req.RangeSeconds) * time.Second), End: now}
	filter := store.Filter{ServiceName: req.Service, MetricName: req.Metric}
	return s.QueryAggregates(ctx, filter, window, BucketWidth(req.RangeSeconds))
}

// Aggregated collapses the request's entire window into a single bucket.
func Aggregated(ctx context.Context, s store.Adapter, req Request) (model.AggregateRow, error) {
	if req.RangeSeconds <= 0 {
		req.RangeSeconds = 3600
	}
	now := time.Now()
	window := store.Window{Start: now.Add(-time.Duration(req.RangeSeconds) * time.Second), End: now}
	filter := store.Filter{ServiceName: req.Service, MetricName: req.Metric}
	buckets, err := s.QueryAggregates(ctx, filter, window, time.Duration(req.RangeSeconds)*time.Second)
	if err != nil {
		return model.AggregateRow{}, err
	}
	if len(buckets) == 0 {
		return model.AggregateRow{BucketStart: window.Start}, nil
	}
	return buckets[0], nil
}
