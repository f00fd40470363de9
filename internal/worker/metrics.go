package worker

import "github.com/prometheus/client_golang/prometheus"

// selfMetrics is the stream worker's self-instrumentation: batches
// flushed, rows inserted, insert latency, breaker state, dead-lettered
// rows, and consumer lag.
type selfMetrics struct {
	batchesFlushed  prometheus.Counter
	rowsInserted    *prometheus.CounterVec
	insertLatency   prometheus.Histogram
	breakerState    prometheus.Gauge
	deadLettered    prometheus.Counter
	consumerLag     prometheus.Gauge
}

func newSelfMetrics(reg prometheus.Registerer) *selfMetrics {
	m := &selfMetrics{
		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_batches_flushed_total",
			Help: "Batches flushed to the store adapter.",
		}),
		rowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_rows_total",
			Help: "Rows processed by the worker, split by outcome.",
		}, []string{"outcome"}),
		insertLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_insert_latency_seconds",
			Help:    "Latency of a store InsertRows call.",
			Buckets: prometheus.DefBuckets,
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open.",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_dead_lettered_rows_total",
			Help: "Rows dropped to the dead-letter buffer.",
		}),
		consumerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_consumer_lag",
			Help: "Most recently observed bus consumer lag.",
		}),
	}
	reg.MustRegister(m.batchesFlushed, m.rowsInserted, m.insertLatency, m.breakerState, m.deadLettered, m.consumerLag)
	return m
}

func breakerStateValue(s string) float64 {
	switch s {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
