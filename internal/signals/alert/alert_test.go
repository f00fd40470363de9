package alert

import (
	"context"
	"testing"
	"time"

	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/store"
)

// fakeStore implements the slice of store.Adapter the evaluator needs.
type fakeStore struct {
	alerts map[string]model.Alert
}

func newFakeStore() *fakeStore { return &fakeStore{alerts: map[string]model.Alert{}} }

func (f *fakeStore) SaveAlert(ctx context.Context, a model.Alert) error {
	f.alerts[a.AlertID] = a
	return nil
}

func (f *fakeStore) FindFiringAlert(ctx context.Context, service, metric string) (*model.Alert, error) {
	for _, a := range f.alerts {
		if a.ServiceName == service && a.MetricName == metric && a.Status == model.AlertFiring {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

// The rest of store.Adapter is unused by the evaluator; stub it out.
func (f *fakeStore) InsertRows(ctx context.Context, rows []model.Row) error { return nil }
func (f *fakeStore) QueryRange(ctx context.Context, filt store.Filter, w store.Window, limit int) ([]model.Row, error) {
	return nil, nil
}
func (f *fakeStore) QueryAggregates(ctx context.Context, filt store.Filter, w store.Window, bw time.Duration) ([]model.AggregateRow, error) {
	return nil, nil
}
func (f *fakeStore) DistinctServices(ctx context.Context, since time.Time) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) DeleteOlderThan(ctx context.Context, res int, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeStore) InsertRollup(ctx context.Context, rows []model.Row) error { return nil }
func (f *fakeStore) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	return nil, nil
}
func (f *fakeStore) ActiveAlerts(ctx context.Context) ([]model.Alert, error) { return nil, nil }
func (f *fakeStore) LogQuery(ctx context.Context, service, metric string, durationMs float64) error {
	return nil
}
func (f *fakeStore) RecentQueryLog(ctx context.Context, limit int) ([]model.QueryLogEntry, error) {
	return nil, nil
}
func (f *fakeStore) Health(ctx context.Context) error { return nil }
func (f *fakeStore) Close()                           {}

var _ store.Adapter = (*fakeStore)(nil)

func baselineAround(mean float64) []float64 {
	vals := make([]float64, 50)
	for i := range vals {
		vals[i] = mean + float64(i%5) - 2
	}
	return vals
}

func TestEvaluateFiresAfterConsecutiveBreaches(t *testing.T) {
	fs := newFakeStore()
	ev := NewEvaluator(fs, DefaultConfig)
	baseline := baselineAround(100)
	now := time.Now()

	if err := ev.Evaluate(context.Background(), "api", "latency_ms", baseline, 500, now); err != nil {
		t.Fatal(err)
	}
	if len(fs.alerts) != 0 {
		t.Fatalf("should not fire on first breach, got %d alerts", len(fs.alerts))
	}

	if err := ev.Evaluate(context.Background(), "api", "latency_ms", baseline, 500, now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if len(fs.alerts) != 1 {
		t.Fatalf("expected 1 firing alert after 2 consecutive breaches, got %d", len(fs.alerts))
	}
	for _, a := range fs.alerts {
		if a.Status != model.AlertFiring {
			t.Fatalf("expected firing status, got %v", a.Status)
		}
	}
}

func TestEvaluateResolvesAfterConsecutiveOK(t *testing.T) {
	fs := newFakeStore()
	ev := NewEvaluator(fs, DefaultConfig)
	baseline := baselineAround(100)
	now := time.Now()

	ev.Evaluate(context.Background(), "api", "latency_ms", baseline, 500, now)
	ev.Evaluate(context.Background(), "api", "latency_ms", baseline, 500, now.Add(time.Minute))

	ok := now.Add(2 * time.Minute)
	for i := 0; i < 3; i++ {
		ev.Evaluate(context.Background(), "api", "latency_ms", baseline, 100, ok.Add(time.Duration(i)*time.Minute))
	}

	var resolved bool
	for _, a := range fs.alerts {
		if a.Status == model.AlertResolved {
			resolved = true
			if a.ResolvedAt == nil {
				t.Fatal("resolved alert must have ResolvedAt set")
			}
		}
	}
	if !resolved {
		t.Fatal("expected alert to resolve after 3 consecutive in-bound evaluations")
	}
}
