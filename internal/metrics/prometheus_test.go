package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_ScanMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.ObserveScan(StatusSuccess, 2*time.Second)
	pm.ObserveScan(StatusSuccess, time.Second)
	pm.ObserveScan(StatusFailure, 30*time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.scansTotal))
	assert.InDelta(t, 2, testutil.ToFloat64(pm.scansTotal.WithLabelValues(StatusSuccess)), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(pm.scansTotal.WithLabelValues(StatusFailure)), 0.001)
	assert.Equal(t, 2, testutil.CollectAndCount(pm.scanDuration))
}

func TestPrometheusMetrics_ErrorsAndServices(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncScanError("TIMEOUT")
	pm.IncScanError("TIMEOUT")
	pm.IncScanError("PARSE")
	pm.AddServices("http", 2)
	pm.AddServices("", 1)

	assert.InDelta(t, 2, testutil.ToFloat64(pm.scanErrors.WithLabelValues("TIMEOUT")), 0.001)
	assert.InDelta(t, 2, testutil.ToFloat64(pm.servicesTotal.WithLabelValues("http")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(pm.servicesTotal.WithLabelValues("unknown")), 0.001)
}

func TestPrometheusMetrics_WorkerMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.SetQueueDepth(7)
	pm.IncJobs(StatusSuccess)

	assert.InDelta(t, 7, testutil.ToFloat64(pm.queueDepth), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(pm.jobsTotal.WithLabelValues(StatusSuccess)), 0.001)
}

func TestPrometheusMetrics_HandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.ObserveScan(StatusSuccess, time.Second)
	require.NotNil(t, pm.Registry())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	pm.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "portscan_scan_total")
	assert.Contains(t, body, "portscan_scan_duration_seconds")
	assert.Contains(t, body, "go_goroutines")
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	assert.NotPanics(t, func() {
		r.ObserveScan(StatusSuccess, time.Second)
		r.IncScanError("X")
		r.AddServices("ssh", 1)
		r.SetQueueDepth(1)
		r.IncJobs(StatusFailure)
	})
}
