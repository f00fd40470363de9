// Package store implements the C2 storage adapter contract over Postgres:
// batched inserts and analytical reads over a time-partitioned table
// standing in for the columnar engine the source system used (see
// DESIGN.md, "Columnar store substitution").
package store

import (
	"context"
	"time"

	"github.com/vantage-observability/vantage/internal/model"
)

// Filter restricts a range/aggregate query to a service, metric and
// optional predicate terms.
type Filter struct {
	ServiceName string
	MetricName  string
	Endpoint    string
	Method      string
	StatusCode  int
	// ResolutionMinutes, when non-nil, restricts the query to rows stored at
	// exactly that resolution (0 for raw rows, 60/1440 for hourly/daily
	// rollups). nil matches rows of any resolution. Rollup materialization
	// uses this to read only its own source resolution, so a daily rollup
	// never re-aggregates the hourly rollups (or raw rows) sharing its
	// window.
	ResolutionMinutes *int
}

// Window bounds a query to [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// GroupBy names the columns an aggregate query buckets by, beyond time.
type GroupBy []string

// Adapter is the C2 contract: insert_rows, query_range, query_aggregates.
type Adapter interface {
	// InsertRows does not deduplicate: the store assigns each row a fresh
	// id, so inserting the same rows again stores them a second time.
	InsertRows(ctx context.Context, rows []model.Row) error

	QueryRange(ctx context.Context, f Filter, w Window, limit int) ([]model.Row, error)

	// QueryAggregates buckets rows into bucketWidth-wide time windows and
	// computes count/avg/min/max/percentiles/error_count per bucket.
	QueryAggregates(ctx context.Context, f Filter, w Window, bucketWidth time.Duration) ([]model.AggregateRow, error)

	// DistinctServices lists service_name values seen since since.
	DistinctServices(ctx context.Context, since time.Time) ([]string, error)

	// DeleteOlderThan deletes rows of the given resolution older than
	// cutoff, implementing the retention policy natively (no store TTL).
	DeleteOlderThan(ctx context.Context, resolutionMinutes int, cutoff time.Time) (int64, error)

	// InsertRollup persists pre-computed aggregate rows as rows with
	// Aggregated=true and the given resolution.
	InsertRollup(ctx context.Context, rows []model.Row) error

	// SaveAlert upserts an alert by AlertID.
	SaveAlert(ctx context.Context, a model.Alert) error
	// ListAlerts returns alerts newest-first, optionally limited.
	ListAlerts(ctx context.Context, limit int) ([]model.Alert, error)
	// ActiveAlerts returns alerts currently firing.
	ActiveAlerts(ctx context.Context) ([]model.Alert, error)
	// FindFiringAlert returns the currently-firing alert for a
	// (service, metric) pair, if one exists.
	FindFiringAlert(ctx context.Context, service, metric string) (*model.Alert, error)

	// LogQuery appends an access-frequency row (supplemented feature, see
	// SPEC_FULL.md §3).
	LogQuery(ctx context.Context, service, metric string, durationMs float64) error
	// RecentQueryLog returns the most recent query_log rows, newest first,
	// for the /api/stats/query-log debug endpoint.
	RecentQueryLog(ctx context.Context, limit int) ([]model.QueryLogEntry, error)

	Health(ctx context.Context) error
	Close()
}
