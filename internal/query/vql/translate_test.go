package vql

import (
	"context"
	"testing"
	"time"

	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/store"
)

type fakeStore struct {
	rangeRows []model.Row
	aggRows   []model.AggregateRow
}

func (f *fakeStore) InsertRows(ctx context.Context, rows []model.Row) error { return nil }
func (f *fakeStore) QueryRange(ctx context.Context, filt store.Filter, w store.Window, limit int) ([]model.Row, error) {
	return f.rangeRows, nil
}
func (f *fakeStore) QueryAggregates(ctx context.Context, filt store.Filter, w store.Window, bw time.Duration) ([]model.AggregateRow, error) {
	return f.aggRows, nil
}
func (f *fakeStore) DistinctServices(ctx context.Context, since time.Time) ([]string, error) {
	return []string{"checkout"}, nil
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

func TestExecuteSelectStarDelegatesToQueryRange(t *testing.T) {
	fs := &fakeStore{rangeRows: []model.Row{{ServiceName: "api"}}}
	q, err := Parse("SELECT * FROM metrics WHERE service_name = 'api' LIMIT 10")
	if err != nil {
		t.Fatal(err)
	}
	rows, err := Execute(context.Background(), fs, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Raw == nil || rows[0].Raw.ServiceName != "api" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestExecuteAggregateProjection(t *testing.T) {
	fs := &fakeStore{aggRows: []model.AggregateRow{{Count: 5, Avg: 42}}}
	q, err := Parse("SELECT AVG(value), COUNT(id) FROM metrics WHERE service_name = 'api' LIMIT 10")
	if err != nil {
		t.Fatal(err)
	}
	rows, err := Execute(context.Background(), fs, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Agg["avg_value"] != 42 || rows[0].Agg["count_id"] != 5 {
		t.Fatalf("unexpected aggregate row: %+v", rows)
	}
}
