package query

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantage-observability/vantage/internal/config"
	"github.com/vantage-observability/vantage/internal/model"
)

func TestHealthzAlwaysOK(t *testing.T) {
	cfg := config.DefaultQueryConfig()
	s := New(cfg, zap.NewNop(), &fakeAdapter{})
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestServicesEndpointReturnsDistinctServices(t *testing.T) {
	cfg := config.DefaultQueryConfig()
	fa := &fakeAdapter{services: []string{"checkout", "catalog"}}
	s := New(cfg, zap.NewNop(), fa)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.JSONEq(t, `["checkout","catalog"]`, w.Body.String())
}

func TestVQLExecuteRejectsForbiddenKeyword(t *testing.T) {
	cfg := config.DefaultQueryConfig()
	s := New(cfg, zap.NewNop(), &fakeAdapter{})
	r := s.Router()

	body := `{"query":"SELECT * FROM metrics; DROP TABLE metrics"}`
	req := httptest.NewRequest(http.MethodPost, "/vql/execute", strReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestAuthEnabledRejectsMissingKey(t *testing.T) {
	cfg := config.DefaultQueryConfig()
	cfg.AuthEnabled = true
	cfg.APIKeys = []string{"secret"}
	s := New(cfg, zap.NewNop(), &fakeAdapter{})
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQueryLogEndpointReturnsLoggedQueries(t *testing.T) {
	cfg := config.DefaultQueryConfig()
	fa := &fakeAdapter{}
	s := New(cfg, zap.NewNop(), fa)
	r := s.Router()

	body := `{"query":"SELECT * FROM metrics LIMIT 10"}`
	req := httptest.NewRequest(http.MethodPost, "/vql/execute", strReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/stats/query-log", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, fa.queryLog, 1)
	require.Equal(t, "metrics", fa.queryLog[0].ServiceName)
}

func TestHealthScoresIncludesTrend(t *testing.T) {
	cfg := config.DefaultQueryConfig()
	fa := &fakeAdapter{services: []string{"checkout"}, aggRows: []model.AggregateRow{{Count: 100, P95: 200}}}
	s := New(cfg, zap.NewNop(), fa)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/health/scores", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"trend"`)
}
