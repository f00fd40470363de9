package query

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/store"
)

func strReader(s string) io.Reader { return strings.NewReader(s) }

type fakeAdapter struct {
	services []string
	rows     []model.Row
	aggRows  []model.AggregateRow
	alerts   []model.Alert
	queryLog []model.QueryLogEntry
}

func (f *fakeAdapter) InsertRows(ctx context.Context, rows []model.Row) error { return nil }
func (f *fakeAdapter) QueryRange(ctx context.Context, filt store.Filter, w store.Window, limit int) ([]model.Row, error) {
	return f.rows, nil
}
func (f *fakeAdapter) QueryAggregates(ctx context.Context, filt store.Filter, w store.Window, bw time.Duration) ([]model.AggregateRow, error) {
	return f.aggRows, nil
}
func (f *fakeAdapter) DistinctServices(ctx context.Context, since time.Time) ([]string, error) {
	return f.services, nil
}
func (f *fakeAdapter) DeleteOlderThan(ctx context.Context, res int, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeAdapter) InsertRollup(ctx context.Context, rows []model.Row) error { return nil }
func (f *fakeAdapter) SaveAlert(ctx context.Context, a model.Alert) error {
	f.alerts = append(f.alerts, a)
	return nil
}
func (f *fakeAdapter) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	return f.alerts, nil
}
func (f *fakeAdapter) ActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	return f.alerts, nil
}
func (f *fakeAdapter) FindFiringAlert(ctx context.Context, service, metric string) (*model.Alert, error) {
	return nil, nil
}
func (f *fakeAdapter) LogQuery(ctx context.Context, service, metric string, durationMs float64) error {
	f.queryLog = append(f.queryLog, model.QueryLogEntry{ServiceName: service, MetricName: metric, DurationMs: durationMs})
	return nil
}
func (f *fakeAdapter) RecentQueryLog(ctx context.Context, limit int) ([]model.QueryLogEntry, error) {
	if limit > 0 && limit < len(f.queryLog) {
		return f.queryLog[:limit], nil
	}
	return f.queryLog, nil
}
func (f *fakeAdapter) Health(ctx context.Context) error { return nil }
func (f *fakeAdapter) Close()                            {}

var _ store.Adapter = (*fakeAdapter)(nil)
