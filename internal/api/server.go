// Package api serves stored scan reports, health information and the
// Prometheus metrics endpoint over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/logging"
	"github.com/anstrom/portscan/internal/scanning"
	"github.com/anstrom/portscan/internal/store"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// ReportStore is the read side of the report store.
type ReportStore interface {
	Ping(ctx context.Context) error
	GetReport(ctx context.Context, id string) (*scanning.ScanReport, error)
	ListReports(ctx context.Context, limit int) ([]store.ReportSummary, error)
}

// Config holds API server configuration.
type Config struct {
	Addr         string
	MetricsPath  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default API server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:9100",
		MetricsPath:  "/metrics",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	reports    ReportStore
	metrics    http.Handler
	logger     *logging.Logger
	version    string
	startTime  time.Time
}

// New creates a new API server. reports and metricsHandler may be nil, in
// which case the corresponding endpoints report the feature as unavailable.
func New(cfg Config, reports ReportStore, metricsHandler http.Handler, version string) *Server {
	defaults := DefaultConfig()
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = defaults.MetricsPath
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaults.IdleTimeout
	}

	s := &Server{
		router:    mux.NewRouter(),
		reports:   reports,
		metrics:   metricsHandler,
		logger:    logging.Default().WithComponent("api"),
		version:   version,
		startTime: time.Now(),
	}

	s.setupRoutes(cfg.MetricsPath)
	s.handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
	)(handlers.CustomLoggingHandler(io.Discard, s.router, s.logRequest))

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) setupRoutes(metricsPath string) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/liveness", s.livenessHandler).Methods(http.MethodGet)
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/version", s.versionHandler).Methods(http.MethodGet)
	api.HandleFunc("/reports", s.listReportsHandler).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", s.getReportHandler).Methods(http.MethodGet)

	s.router.Handle(metricsPath, s.metricsHandler()).Methods(http.MethodGet)
}

func (s *Server) metricsHandler() http.Handler {
	if s.metrics != nil {
		return s.metrics
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("metrics are disabled"))
	})
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	if statusCode >= http.StatusInternalServerError {
		s.logger.Error("API error", "method", r.Method, "path", r.URL.Path, "status", statusCode, "error", err)
	}

	resp := ErrorResponse{Error: err.Error(), Timestamp: time.Now().UTC()}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		resp.Code = string(code)
	}
	s.writeJSON(w, statusCode, resp)
}

// statusFor maps error codes onto HTTP status codes.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeValidation, errors.CodeConfiguration:
		return http.StatusBadRequest
	case errors.CodeCanceled, errors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) livenessHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK

	if s.reports == nil {
		checks["store"] = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.reports.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	s.writeJSON(w, status, map[string]any{
		"status":    overall,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) versionHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) listReportsHandler(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("report store is disabled"))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusBadRequest,
				errors.ErrConfigInvalid("limit", v))
			return
		}
		limit = n
	}

	reports, err := s.reports.ListReports(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	if reports == nil {
		reports = []store.ReportSummary{}
	}
	s.writeJSON(w, http.StatusOK, reports)
}

func (s *Server) getReportHandler(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("report store is disabled"))
		return
	}

	report, err := s.reports.GetReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// logRequest is the gorilla access log formatter; it writes through the
// structured logger instead of the supplied writer.
func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.logger.Info("HTTP request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration", time.Since(p.TimeStamp),
		"remote_addr", p.Request.RemoteAddr)
}

type recoveryLogger struct {
	logger *logging.Logger
}

func (l recoveryLogger) Println(args ...any) {
	l.logger.Error("panic in API handler", "error", fmt.Sprint(args...))
}
