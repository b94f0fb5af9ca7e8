// Package metrics provides Prometheus-based metrics collection for portscan.
// Scan outcomes, discovered services and worker pool saturation are exported
// through a private registry served by Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all portscan metrics
	namespace = "portscan"

	// Subsystems
	subsystemScan    = "scan"
	subsystemWorkers = "workers"
)

// Scan status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Recorder is the set of observations emitted by the scan pipeline.
type Recorder interface {
	ObserveScan(status string, duration time.Duration)
	IncScanError(kind string)
	AddServices(serviceName string, count int)
	SetQueueDepth(depth int)
	IncJobs(status string)
}

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	scansTotal    *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	scanErrors    *prometheus.CounterVec
	servicesTotal *prometheus.CounterVec

	queueDepth prometheus.Gauge
	jobsTotal  *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ Recorder = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		registry: registry,
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "total",
				Help:      "Total number of scans performed by status",
			},
			[]string{"status"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "duration_seconds",
				Help:      "Duration of scan operations in seconds",
				Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
			},
			[]string{"status"},
		),
		scanErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "errors_total",
				Help:      "Total number of scan errors by error code",
			},
			[]string{"error_type"},
		),
		servicesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "services_total",
				Help:      "Total number of service records reported",
			},
			[]string{"service"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystemWorkers,
				Name:      "queue_depth",
				Help:      "Number of tasks waiting in the worker pool queue",
			},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemWorkers,
				Name:      "jobs_total",
				Help:      "Total number of worker pool tasks by outcome",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		pm.scansTotal,
		pm.scanDuration,
		pm.scanErrors,
		pm.servicesTotal,
		pm.queueDepth,
		pm.jobsTotal,
	)

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// ObserveScan records a finished scan.
func (pm *PrometheusMetrics) ObserveScan(status string, duration time.Duration) {
	pm.scansTotal.WithLabelValues(status).Inc()
	pm.scanDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncScanError counts a scan failure by error code.
func (pm *PrometheusMetrics) IncScanError(kind string) {
	pm.scanErrors.WithLabelValues(kind).Inc()
}

// AddServices counts service records reported for a service name.
func (pm *PrometheusMetrics) AddServices(serviceName string, count int) {
	if serviceName == "" {
		serviceName = "unknown"
	}
	pm.servicesTotal.WithLabelValues(serviceName).Add(float64(count))
}

// SetQueueDepth sets the worker pool queue gauge.
func (pm *PrometheusMetrics) SetQueueDepth(depth int) {
	pm.queueDepth.Set(float64(depth))
}

// IncJobs counts a worker pool task outcome.
func (pm *PrometheusMetrics) IncJobs(status string) {
	pm.jobsTotal.WithLabelValues(status).Inc()
}

// Registry returns the underlying Prometheus registry.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler returns an HTTP handler exposing the registry in the Prometheus text format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// Nop discards every observation.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) ObserveScan(string, time.Duration) {}
func (Nop) IncScanError(string)               {}
func (Nop) AddServices(string, int)           {}
func (Nop) SetQueueDepth(int)                 {}
func (Nop) IncJobs(string)                    {}
