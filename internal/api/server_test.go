package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/scanning"
	"github.com/anstrom/portscan/internal/store"
)

// MockReportStore provides a mock report store for testing.
type MockReportStore struct {
	mock.Mock
}

func (m *MockReportStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockReportStore) GetReport(ctx context.Context, id string) (*scanning.ScanReport, error) {
	args := m.Called(ctx, id)
	report, _ := args.Get(0).(*scanning.ScanReport)
	return report, args.Error(1)
}

func (m *MockReportStore) ListReports(ctx context.Context, limit int) ([]store.ReportSummary, error) {
	args := m.Called(ctx, limit)
	reports, _ := args.Get(0).([]store.ReportSummary)
	return reports, args.Error(1)
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLivenessAndVersion(t *testing.T) {
	s := New(Config{}, nil, nil, "1.2.3")

	rec := serve(t, s, "/api/v1/liveness")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alive"`)

	rec = serve(t, s, "/api/v1/version")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"1.2.3"}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	t.Run("store disabled", func(t *testing.T) {
		rec := serve(t, New(Config{}, nil, nil, "dev"), "/api/v1/health")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"disabled"`)
	})

	t.Run("store healthy", func(t *testing.T) {
		reports := &MockReportStore{}
		reports.On("Ping", mock.Anything).Return(nil)
		rec := serve(t, New(Config{}, reports, nil, "dev"), "/api/v1/health")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"healthy"`)
		reports.AssertExpectations(t)
	})

	t.Run("store down", func(t *testing.T) {
		reports := &MockReportStore{}
		reports.On("Ping", mock.Anything).Return(stderrors.New("connection refused"))
		rec := serve(t, New(Config{}, reports, nil, "dev"), "/api/v1/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"unhealthy"`)
	})
}

func TestListReports(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	reports := &MockReportStore{}
	reports.On("ListReports", mock.Anything, 5).Return([]store.ReportSummary{
		{ID: "r1", Target: "127.0.0.1", Ports: "22,80", StartedAt: started, FinishedAt: started, Services: 2},
	}, nil)
	reports.On("ListReports", mock.Anything, 0).Return(nil, nil)

	s := New(Config{}, reports, nil, "dev")

	rec := serve(t, s, "/api/v1/reports?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []store.ReportSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, 2, got[0].Services)

	rec = serve(t, s, "/api/v1/reports")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(t, s, "/api/v1/reports?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"VALIDATION"`)

	reports.AssertExpectations(t)
}

func TestGetReport(t *testing.T) {
	reports := &MockReportStore{}
	reports.On("GetReport", mock.Anything, "r1").Return(&scanning.ScanReport{
		ID:     "r1",
		Target: "127.0.0.1",
		Services: []scanning.ServiceRecord{
			{Address: "127.0.0.1", Port: 22, Protocol: "tcp", ServiceName: "ssh"},
		},
	}, nil)
	reports.On("GetReport", mock.Anything, "missing").Return(nil, errors.ErrReportNotFound("missing"))
	reports.On("GetReport", mock.Anything, "broken").
		Return(nil, errors.WrapStoreError(errors.CodeStorage, "get_report", stderrors.New("disk")))

	s := New(Config{}, reports, nil, "dev")

	rec := serve(t, s, "/api/v1/reports/r1")
	require.Equal(t, http.StatusOK, rec.Code)
	var got scanning.ScanReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "r1", got.ID)
	require.Len(t, got.Services, 1)
	assert.Equal(t, uint16(22), got.Services[0].Port)

	rec = serve(t, s, "/api/v1/reports/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"NOT_FOUND"`)

	rec = serve(t, s, "/api/v1/reports/broken")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReportsDisabled(t *testing.T) {
	s := New(Config{}, nil, nil, "dev")
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/api/v1/reports").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/api/v1/reports/r1").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/metrics").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("portscan_scan_total 1\n"))
	})
	s := New(Config{MetricsPath: "/prom"}, nil, metrics, "dev")

	rec := serve(t, s, "/prom")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portscan_scan_total")

	assert.Equal(t, http.StatusNotFound, serve(t, s, "/metrics").Code)
}

func TestRecoveryFromPanic(t *testing.T) {
	reports := &MockReportStore{}
	reports.On("ListReports", mock.Anything, 0).Run(func(mock.Arguments) {
		panic("boom")
	}).Return(nil, nil)

	rec := serve(t, New(Config{}, reports, nil, "dev"), "/api/v1/reports")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, nil, nil, "dev")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
