package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/store"
)

type fakeStore struct {
	served bool
}

func (f *fakeStore) InsertRows(ctx context.Context, rows []model.Row) error { return nil }
func (f *fakeStore) QueryRange(ctx context.Context, filt store.Filter, w store.Window, limit int) ([]model.Row, error) {
	if f.served {
		return nil, nil
	}
	f.served = true
	return []model.Row{{ServiceName: filt.ServiceName, MetricName: "latency_ms", Timestamp: time.Now()}}, nil
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

func TestServeTailsNewRows(t *testing.T) {
	fs := &fakeStore{}
	cfg := Config{PollInterval: 10 * time.Millisecond, BufferSize: 16, Heartbeat: time.Hour}
	log := zap.NewNop()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = Serve(w, r, "checkout", fs, cfg, log)
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var frame dataFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "row" || frame.Row.ServiceName != "checkout" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}
