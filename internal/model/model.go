// Package model defines the domain types shared by every component: the
// wire shape accepted at ingest, the row shape persisted in the store, and
// the records the signals engine produces.
package model

import "time"

// MetricType is the kind of instrument a sample was emitted from.
type MetricType string

const (
	MetricCounter   MetricType = "counter"
	MetricGauge     MetricType = "gauge"
	MetricHistogram MetricType = "histogram"
	MetricSummary   MetricType = "summary"
)

func (t MetricType) Valid() bool {
	switch t {
	case MetricCounter, MetricGauge, MetricHistogram, MetricSummary:
		return true
	default:
		return false
	}
}

// Sample is the atomic measurement emitted by an instrumented process.
type Sample struct {
	Timestamp  time.Time         `json:"timestamp"`
	ServiceName string           `json:"service_name"`
	MetricName string            `json:"metric_name"`
	MetricType MetricType        `json:"metric_type"`
	Value      float64           `json:"value"`
	Endpoint   string            `json:"endpoint,omitempty"`
	Method     string            `json:"method,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	DurationMs float64           `json:"duration_ms,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
	SpanID     string            `json:"span_id,omitempty"`
	Environment string           `json:"environment,omitempty"`
}

// BatchEnvelope is the request body accepted by the ingest gateway.
type BatchEnvelope struct {
	Metrics     []Sample  `json:"metrics"`
	ServiceName string    `json:"service_name"`
	Environment string    `json:"environment,omitempty"`
	AgentVersion string   `json:"agent_version,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Row is a persisted measurement: a Sample plus storage-assigned fields.
type Row struct {
	ID                 int64             `json:"id"`
	Timestamp          time.Time         `json:"timestamp"`
	ServiceName        string            `json:"service_name"`
	MetricName         string            `json:"metric_name"`
	MetricType         MetricType        `json:"metric_type"`
	Value              float64           `json:"value"`
	Endpoint           string            `json:"endpoint,omitempty"`
	Method             string            `json:"method,omitempty"`
	StatusCode         int               `json:"status_code,omitempty"`
	DurationMs         float64           `json:"duration_ms,omitempty"`
	Tags               map[string]string `json:"tags,omitempty"`
	TraceID            string            `json:"trace_id,omitempty"`
	SpanID             string            `json:"span_id,omitempty"`
	Environment        string            `json:"environment,omitempty"`
	Aggregated         bool              `json:"aggregated"`
	ResolutionMinutes  int               `json:"resolution_minutes"`
	Count              int64             `json:"sample_count,omitempty"`
	ErrorCount         int64             `json:"error_count,omitempty"`
	MinValue           float64           `json:"min_value,omitempty"`
	MaxValue           float64           `json:"max_value,omitempty"`
	P50                float64           `json:"p50,omitempty"`
	P95                float64           `json:"p95,omitempty"`
	P99                float64           `json:"p99,omitempty"`
}

// AggregationKey groups samples for pre-aggregation and rollups.
type AggregationKey struct {
	ServiceName string
	MetricName  string
	Endpoint    string
	Method      string
	StatusCode  int
	BucketStart time.Time // floor(timestamp, 1 minute)
}

// Severity classifies how far an alert's current value strayed from its
// adaptive bounds.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the lifecycle state of an Alert.
type AlertStatus string

const (
	AlertFiring   AlertStatus = "firing"
	AlertResolved AlertStatus = "resolved"
)

// Alert is the authoritative record of a threshold breach.
type Alert struct {
	AlertID             string      `json:"alert_id"`
	ServiceName         string      `json:"service_name"`
	MetricName          string      `json:"metric_name"`
	Severity            Severity    `json:"severity"`
	Status              AlertStatus `json:"status"`
	CurrentValue        float64     `json:"current_value"`
	ExpectedMin         float64     `json:"expected_min"`
	ExpectedMax         float64     `json:"expected_max"`
	ThresholdBreachCount int        `json:"threshold_breach_count"`
	FirstTriggered      time.Time   `json:"first_triggered"`
	LastTriggered       time.Time   `json:"last_triggered"`
	ResolvedAt          *time.Time  `json:"resolved_at,omitempty"`
}

// AggregateRow is the output shape of a time-bucketed aggregate query.
type AggregateRow struct {
	BucketStart time.Time `json:"bucket_start"`
	Count       int64     `json:"count"`
	Avg         float64   `json:"avg"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	P50         float64   `json:"p50"`
	P95         float64   `json:"p95"`
	P99         float64   `json:"p99"`
	ErrorCount  int64     `json:"error_count"`
}

// QueryLogEntry is one row of the query access log, the supplemented
// feature tracking which (service, metric) pairs get queried and how long
// each query took.
type QueryLogEntry struct {
	ServiceName string    `json:"service_name"`
	MetricName  string    `json:"metric_name"`
	DurationMs  float64   `json:"duration_ms"`
	QueriedAt   time.Time `json:"queried_at"`
}

// BucketFloor truncates t down to the start of its containing minute.
func BucketFloor(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
