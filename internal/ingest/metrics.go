package ingest

import "github.com/prometheus/client_golang/prometheus"

// selfMetrics is the ingest gateway's self-instrumentation, per spec.md
// §4.3: "requests accepted/rejected counters split by outcome, publish
// latency histogram, publish errors counter, in-flight requests gauge."
type selfMetrics struct {
	requests      *prometheus.CounterVec
	publishLatency prometheus.Histogram
	publishErrors prometheus.Counter
	inFlight      prometheus.Gauge
}

func newSelfMetrics(reg prometheus.Registerer) *selfMetrics {
	m := &selfMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_requests_total",
			Help: "Ingest requests split by outcome.",
		}, []string{"outcome"}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_publish_latency_seconds",
			Help:    "Latency of publishing a batch to the message bus.",
			Buckets: prometheus.DefBuckets,
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_publish_errors_total",
			Help: "Publishes to the message bus that failed after the retry budget.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_in_flight_requests",
			Help: "Requests currently being handled.",
		}),
	}
	reg.MustRegister(m.requests, m.publishLatency, m.publishErrors, m.inFlight)
	return m
}
