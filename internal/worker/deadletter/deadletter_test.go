package deadletter

import (
	"testing"
	"time"

	"github.com/vantage-observability/vantage/internal/model"
)

func TestAddEvictsOldestBeyondCapacity(t *testing.T) {
	b := New(2)
	now := time.Now()
	b.Add(model.Row{MetricName: "a"}, "x", now)
	b.Add(model.Row{MetricName: "b"}, "x", now)
	b.Add(model.Row{MetricName: "c"}, "x", now)

	recent := b.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 buffered entries, got %d", len(recent))
	}
	if recent[0].Row.MetricName != "b" || recent[1].Row.MetricName != "c" {
		t.Fatalf("expected oldest entry evicted, got %+v", recent)
	}
	if got := b.Total(); got != 3 {
		t.Fatalf("expected total count to survive eviction, got %d", got)
	}
}
