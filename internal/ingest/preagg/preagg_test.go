package preagg

import (
	"sync"
	"testing"
	"time"

	"github.com/vantage-observability/vantage/internal/model"
)

func TestAddAggregatesSharedKey(t *testing.T) {
	var mu sync.Mutex
	var flushed []model.Row
	b := New(4, 10000, time.Hour, func(rows []model.Row) {
		mu.Lock()
		flushed = append(flushed, rows...)
		mu.Unlock()
	}, func(model.Sample) {})

	now := time.Now()
	for i := 0; i < 5; i++ {
		b.Add(model.Sample{
			Timestamp: now, ServiceName: "api", MetricName: "http.duration",
			MetricType: model.MetricGauge, Value: float64(10 + i), Endpoint: "/checkout", Method: "POST",
		})
	}
	b.flushAll()

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 {
		t.Fatalf("expected one aggregated row for the shared key, got %d", len(flushed))
	}
	if flushed[0].Count != 5 {
		t.Fatalf("expected count=5, got %d", flushed[0].Count)
	}
}

func TestAddForwardsSamplesWithoutEndpoint(t *testing.T) {
	var raw []model.Sample
	b := New(2, 10000, time.Hour, func([]model.Row) {}, func(s model.Sample) {
		raw = append(raw, s)
	})
	b.Add(model.Sample{ServiceName: "api", MetricName: "cpu", MetricType: model.MetricGauge, Value: 1})
	if len(raw) != 1 {
		t.Fatalf("expected sample without endpoint to be forwarded raw, got %d", len(raw))
	}
}
