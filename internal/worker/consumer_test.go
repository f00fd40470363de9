package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/apperr"
	"github.com/vantage-observability/vantage/internal/bus"
	"github.com/vantage-observability/vantage/internal/config"
	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/store"
)

type fakeBus struct {
	ch      chan bus.Record
	lag     int64
	commits int
}

func newFakeBus() *fakeBus { return &fakeBus{ch: make(chan bus.Record, 16)} }

func (f *fakeBus) Subscribe(ctx context.Context, group string) (<-chan bus.Record, error) {
	return f.ch, nil
}
func (f *fakeBus) Lag(ctx context.Context) (int64, error) { return f.lag, nil }
func (f *fakeBus) Close() error                            { return nil }

var _ bus.Consumer = (*fakeBus)(nil)

func (f *fakeBus) push(row model.Row) {
	payload, _ := json.Marshal(row)
	f.ch <- bus.Record{Payload: payload}
}

type fakeStore struct {
	inserted [][]model.Row
	failKind apperr.Kind // zero value means InsertRows succeeds
}

func (f *fakeStore) InsertRows(ctx context.Context, rows []model.Row) error {
	if f.failKind != "" {
		return apperr.New(f.failKind, "fake_store_failure", "fake store failure")
	}
	f.inserted = append(f.inserted, rows)
	return nil
}
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
func (f *fakeStore) SaveAlert(ctx context.Context, a model.Alert) error       { return nil }
func (f *fakeStore) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	return nil, nil
}
func (f *fakeStore) ActiveAlerts(ctx context.Context) ([]model.Alert, error) { return nil, nil }
func (f *fakeStore) FindFiringAlert(ctx context.Context, service, metric string) (*model.Alert, error) {
	return nil, nil
}
func (f *fakeStore) LogQuery(ctx context.Context, service, metric string, durationMs float64) error {
	return nil
}
func (f *fakeStore) RecentQueryLog(ctx context.Context, limit int) ([]model.QueryLogEntry, error) {
	return nil, nil
}
func (f *fakeStore) Health(ctx context.Context) error { return nil }
func (f *fakeStore) Close()                            {}

var _ store.Adapter = (*fakeStore)(nil)

func testConfig() *config.WorkerConfig {
	cfg := config.DefaultWorkerConfig()
	cfg.TargetBatchSize = 2
	cfg.BatchMin = 1
	cfg.BatchMax = 10
	cfg.MaxFlushInterval = 20 * time.Millisecond
	cfg.InsertRetryAttempts = 1
	return cfg
}

func TestConsumerFlushesOnBatchFull(t *testing.T) {
	fb := newFakeBus()
	fs := &fakeStore{}
	c := New(testConfig(), zap.NewNop(), fb, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go c.Run(ctx)

	fb.push(model.Row{ServiceName: "a", MetricName: "m"})
	fb.push(model.Row{ServiceName: "a", MetricName: "m"})

	deadline := time.Now().Add(150 * time.Millisecond)
	for len(fs.inserted) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(fs.inserted) == 0 {
		t.Fatal("expected a batch to be inserted once target size was reached")
	}
}

// TestConsumerPausesOnRetryableFailureAndRetriesWithoutLoss exercises
// spec.md §4.4's breaker-open behavior: a retryable store failure must not
// drop the batch or commit its offsets. It should be held and retried once
// the breaker's cooldown lets it probe the store again.
func TestConsumerPausesOnRetryableFailureAndRetriesWithoutLoss(t *testing.T) {
	fb := newFakeBus()
	fs := &fakeStore{failKind: apperr.KindDependencyRetryable}
	cfg := testConfig()
	// At zero lag the batch target drops to BatchMin; keep it at 2 so both
	// rows travel in the one held batch.
	cfg.BatchMin = 2
	cfg.BreakerFailThreshold = 1
	cfg.BreakerCooldown = 10 * time.Millisecond
	c := New(cfg, zap.NewNop(), fb, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	go c.Run(ctx)

	fb.push(model.Row{ServiceName: "a", MetricName: "m"})
	fb.push(model.Row{ServiceName: "a", MetricName: "m"})

	// Give the breaker time to trip and the consumer to pause.
	deadline := time.Now().Add(300 * time.Millisecond)
	for c.BreakerSnapshot().State != "open" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.BreakerSnapshot().State != "open" {
		t.Fatal("expected breaker to trip open after the retryable failure")
	}
	if len(fs.inserted) != 0 {
		t.Fatal("expected no insert to have succeeded yet")
	}
	if c.DeadLetterTotal() != 0 {
		t.Fatal("expected the held batch not to be dead-lettered while the breaker is open")
	}

	fs.failKind = ""

	deadline = time.Now().Add(500 * time.Millisecond)
	for len(fs.inserted) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(fs.inserted) == 0 {
		t.Fatal("expected the held batch to be inserted once the store recovered")
	}
	if got := len(fs.inserted[0]); got != 2 {
		t.Fatalf("expected the original 2 rows to survive the pause, got %d", got)
	}
}

// TestConsumerDeadLettersFatalWithoutTrippingBreaker exercises spec.md
// §4.4's other breaker rule: a fatal (unretryable) store error drops the
// batch to the dead-letter sink but must never count toward the breaker's
// failure streak.
func TestConsumerDeadLettersFatalWithoutTrippingBreaker(t *testing.T) {
	fb := newFakeBus()
	fs := &fakeStore{failKind: apperr.KindDependencyFatal}
	c := New(testConfig(), zap.NewNop(), fb, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go c.Run(ctx)

	fb.push(model.Row{ServiceName: "a", MetricName: "m"})
	fb.push(model.Row{ServiceName: "a", MetricName: "m"})

	deadline := time.Now().Add(150 * time.Millisecond)
	for c.DeadLetterTotal() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.DeadLetterTotal() != 2 {
		t.Fatalf("expected both rows dead-lettered, got %d", c.DeadLetterTotal())
	}
	if c.BreakerSnapshot().State != "closed" {
		t.Fatalf("expected a fatal failure to leave the breaker closed, got %s", c.BreakerSnapshot().State)
	}

	fs.failKind = ""
	fb.push(model.Row{ServiceName: "a", MetricName: "m"})
	fb.push(model.Row{ServiceName: "a", MetricName: "m"})

	deadline = time.Now().Add(150 * time.Millisecond)
	for len(fs.inserted) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(fs.inserted) == 0 {
		t.Fatal("expected the breaker to still allow inserts after the fatal failure")
	}
}
