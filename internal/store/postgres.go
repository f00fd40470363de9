package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/apperr"
	"github.com/vantage-observability/vantage/internal/model"
)

// PostgresAdapter implements Adapter over a pooled Postgres connection,
// following the pool-construction and CopyFrom-batch-insert pattern of the
// teacher's internal/storage/postgres.go.
type PostgresAdapter struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPostgresAdapter connects and pings, returning a ready Adapter.
func NewPostgresAdapter(ctx context.Context, dsn string, maxConns int, log *zap.Logger) (*PostgresAdapter, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database dsn: %w", err)
	}
	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = int32(min(maxConns, 2))
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute
	poolCfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PostgresAdapter{pool: pool, log: log}, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (p *PostgresAdapter) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresAdapter) Close() { p.pool.Close() }

func classify(err error) error {
	if err == nil {
		return nil
	}
	// Postgres integrity/schema violations are not retryable; everything
	// else (timeouts, connection loss, pool exhaustion) is.
	var pgErr interface{ SQLState() string }
	if ok := asPgError(err, &pgErr); ok {
		switch pgErr.SQLState()[0:2] {
		case "23", "42": // integrity_constraint_violation, syntax_or_access_rule
			return apperr.New(apperr.KindDependencyFatal, "store_schema_violation", err.Error())
		}
	}
	return apperr.New(apperr.KindDependencyRetryable, "store_unavailable", err.Error())
}

func asPgError(err error, target *interface{ SQLState() string }) bool {
	type sqlStater interface{ SQLState() string }
	var s sqlStater
	for e := err; e != nil; e = unwrap(e) {
		if v, ok := e.(sqlStater); ok {
			s = v
			*target = s
			return true
		}
	}
	return false
}

func unwrap(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}

func rowColumns() []string {
	return []string{
		"timestamp", "service_name", "metric_name", "metric_type", "value",
		"endpoint", "method", "status_code", "duration_ms", "tags",
		"trace_id", "span_id", "environment", "aggregated",
		"resolution_minutes", "sample_count", "error_count",
		"min_value", "max_value", "p50", "p95", "p99",
	}
}

func rowValues(r model.Row) []any {
	return []any{
		r.Timestamp, r.ServiceName, r.MetricName, string(r.MetricType), r.Value,
		nullableStr(r.Endpoint), nullableStr(r.Method), nullableInt(r.StatusCode), r.DurationMs, r.Tags,
		nullableStr(r.TraceID), nullableStr(r.SpanID), nullableStr(r.Environment), r.Aggregated,
		r.ResolutionMinutes, r.Count, r.ErrorCount,
		r.MinValue, r.MaxValue, r.P50, r.P95, r.P99,
	}
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

// InsertRows writes raw samples using pgx.CopyFrom for throughput, the same
// bulk-insert pattern as the teacher's BatchSaveMetrics.
func (p *PostgresAdapter) InsertRows(ctx context.Context, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		return rowValues(rows[i]), nil
	})
	_, err := p.pool.CopyFrom(ctx, pgx.Identifier{"metrics"}, rowColumns(), src)
	if err != nil {
		return classify(err)
	}
	return nil
}

// InsertRollup persists rollup rows the same way raw rows are persisted;
// Aggregated/ResolutionMinutes on each row route it to the right retention
// policy at read/delete time.
func (p *PostgresAdapter) InsertRollup(ctx context.Context, rows []model.Row) error {
	return p.InsertRows(ctx, rows)
}

// QueryRange returns raw rows in [w.Start, w.End) matching f, newest first,
// capped at limit (and at the server-side hard cap of 10000).
func (p *PostgresAdapter) QueryRange(ctx context.Context, f Filter, w Window, limit int) ([]model.Row, error) {
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	const q = `
		SELECT timestamp, service_name, metric_name, metric_type, value,
		       coalesce(endpoint,''), coalesce(method,''), coalesce(status_code,0), duration_ms,
		       coalesce(trace_id,''), coalesce(span_id,''), coalesce(environment,''),
		       aggregated, resolution_minutes
		FROM metrics
		WHERE service_name = $1 AND ($2 = '' OR metric_name = $2)
		  AND timestamp >= $3 AND timestamp < $4
		  AND ($5 = '' OR endpoint = $5)
		  AND ($6 = '' OR method = $6)
		  AND ($8::int IS NULL OR resolution_minutes = $8)
		ORDER BY timestamp DESC
		LIMIT $7`

	rows, err := p.pool.Query(ctx, q, f.ServiceName, f.MetricName, w.Start, w.End, f.Endpoint, f.Method, limit, f.ResolutionMinutes)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var r model.Row
		var mtype string
		if err := rows.Scan(&r.Timestamp, &r.ServiceName, &r.MetricName, &mtype, &r.Value,
			&r.Endpoint, &r.Method, &r.StatusCode, &r.DurationMs,
			&r.TraceID, &r.SpanID, &r.Environment, &r.Aggregated, &r.ResolutionMinutes); err != nil {
			return nil, classify(err)
		}
		r.MetricType = model.MetricType(mtype)
		out = append(out, r)
	}
	return out, classify(rows.Err())
}

// QueryAggregates buckets rows into fixed-width time windows and computes
// count/avg/min/max/percentiles/error_count per bucket, using Postgres's
// native percentile_cont in place of the columnar engine's percentile
// aggregate function (see DESIGN.md).
func (p *PostgresAdapter) QueryAggregates(ctx context.Context, f Filter, w Window, bucketWidth time.Duration) ([]model.AggregateRow, error) {
	const q = `
		SELECT
			to_timestamp(floor(extract(epoch from timestamp) / $5) * $5) AS bucket_start,
			count(*) AS cnt,
			avg(value) AS avg_v,
			min(value) AS min_v,
			max(value) AS max_v,
			percentile_cont(0.5) WITHIN GROUP (ORDER BY value) AS p50,
			percentile_cont(0.95) WITHIN GROUP (ORDER BY value) AS p95,
			percentile_cont(0.99) WITHIN GROUP (ORDER BY value) AS p99,
			count(*) FILTER (WHERE status_code >= 500) AS err_count
		FROM metrics
		WHERE service_name = $1 AND ($2 = '' OR metric_name = $2)
		  AND timestamp >= $3 AND timestamp < $4
		GROUP BY bucket_start
		ORDER BY bucket_start ASC`

	rows, err := p.pool.Query(ctx, q, f.ServiceName, f.MetricName, w.Start, w.End, bucketWidth.Seconds())
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.AggregateRow
	for rows.Next() {
		var a model.AggregateRow
		if err := rows.Scan(&a.BucketStart, &a.Count, &a.Avg, &a.Min, &a.Max, &a.P50, &a.P95, &a.P99, &a.ErrorCount); err != nil {
			return nil, classify(err)
		}
		out = append(out, a)
	}
	return out, classify(rows.Err())
}

func (p *PostgresAdapter) DistinctServices(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT service_name FROM metrics WHERE timestamp >= $1 ORDER BY service_name`, since)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, classify(err)
		}
		out = append(out, s)
	}
	return out, classify(rows.Err())
}

func (p *PostgresAdapter) DeleteOlderThan(ctx context.Context, resolutionMinutes int, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM metrics WHERE resolution_minutes = $1 AND timestamp < $2`, resolutionMinutes, cutoff)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresAdapter) SaveAlert(ctx context.Context, a model.Alert) error {
	const q = `
		INSERT INTO alerts (alert_id, service_name, metric_name, severity, status,
			current_value, expected_min, expected_max, threshold_breach_count,
			first_triggered, last_triggered, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (alert_id) DO UPDATE SET
			severity = EXCLUDED.severity,
			status = EXCLUDED.status,
			current_value = EXCLUDED.current_value,
			expected_min = EXCLUDED.expected_min,
			expected_max = EXCLUDED.expected_max,
			threshold_breach_count = EXCLUDED.threshold_breach_count,
			last_triggered = EXCLUDED.last_triggered,
			resolved_at = EXCLUDED.resolved_at`
	_, err := p.pool.Exec(ctx, q, a.AlertID, a.ServiceName, a.MetricName, a.Severity, a.Status,
		a.CurrentValue, a.ExpectedMin, a.ExpectedMax, a.ThresholdBreachCount,
		a.FirstTriggered, a.LastTriggered, a.ResolvedAt)
	if err != nil {
		return classify(err)
	}
	return nil
}

func scanAlerts(rows pgx.Rows) ([]model.Alert, error) {
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.AlertID, &a.ServiceName, &a.MetricName, &a.Severity, &a.Status,
			&a.CurrentValue, &a.ExpectedMin, &a.ExpectedMax, &a.ThresholdBreachCount,
			&a.FirstTriggered, &a.LastTriggered, &a.ResolvedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, a)
	}
	return out, classify(rows.Err())
}

func (p *PostgresAdapter) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 || limit > 10000 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT alert_id, service_name, metric_name, severity, status,
		       current_value, expected_min, expected_max, threshold_breach_count,
		       first_triggered, last_triggered, resolved_at
		FROM alerts ORDER BY last_triggered DESC LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err)
	}
	return scanAlerts(rows)
}

func (p *PostgresAdapter) ActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT alert_id, service_name, metric_name, severity, status,
		       current_value, expected_min, expected_max, threshold_breach_count,
		       first_triggered, last_triggered, resolved_at
		FROM alerts WHERE status = 'firing' ORDER BY last_triggered DESC`)
	if err != nil {
		return nil, classify(err)
	}
	return scanAlerts(rows)
}

func (p *PostgresAdapter) FindFiringAlert(ctx context.Context, service, metric string) (*model.Alert, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT alert_id, service_name, metric_name, severity, status,
		       current_value, expected_min, expected_max, threshold_breach_count,
		       first_triggered, last_triggered, resolved_at
		FROM alerts WHERE service_name = $1 AND metric_name = $2 AND status = 'firing'
		ORDER BY last_triggered DESC LIMIT 1`, service, metric)
	if err != nil {
		return nil, classify(err)
	}
	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	return &alerts[0], nil
}

// LogQuery appends to query_log, the supplemented access-frequency feature
// (SPEC_FULL.md §3) preserved from the original's ClickHouse schema.
func (p *PostgresAdapter) LogQuery(ctx context.Context, service, metric string, durationMs float64) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO query_log (service_name, metric_name, duration_ms, queried_at) VALUES ($1,$2,$3, now())`,
		service, metric, durationMs)
	if err != nil {
		return classify(err)
	}
	return nil
}

// RecentQueryLog returns the most recent query_log rows, newest first, for
// the /api/stats/query-log debug endpoint.
func (p *PostgresAdapter) RecentQueryLog(ctx context.Context, limit int) ([]model.QueryLogEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT service_name, metric_name, duration_ms, queried_at FROM query_log ORDER BY queried_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.QueryLogEntry
	for rows.Next() {
		var e model.QueryLogEntry
		if err := rows.Scan(&e.ServiceName, &e.MetricName, &e.DurationMs, &e.QueriedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

var _ Adapter = (*PostgresAdapter)(nil)
