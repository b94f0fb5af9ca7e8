package scanning

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/logging"
	"github.com/anstrom/portscan/internal/metrics"
	"github.com/anstrom/portscan/internal/workers"
)

const defaultConcurrency = 4

// Config is the scan pipeline configuration.
type Config struct {
	// Ports is the base port specification from configuration.
	Ports string
	// PortsOverride replaces Ports entirely when non-empty.
	PortsOverride string
	// RootPaths are the application roots reported for every web service.
	RootPaths []string
	// Invoker configures the scanner process.
	Invoker InvokerConfig
	// KeepOutput leaves capture files on disk after parsing.
	KeepOutput bool
	// Concurrency bounds how many targets ScanAll scans at once.
	Concurrency int
}

// Options are the collaborators of a Scanner. Zero values select defaults.
type Options struct {
	Runner     ProcessRunner
	Executor   workers.Executor
	Classifier Classifier
	Recorder   metrics.Recorder
	Logger     *logging.Logger
}

// Scanner resolves ports, runs the scanner, parses its output and reconciles
// the result into a report.
type Scanner struct {
	config   Config
	spec     PortSpec
	invoker  *Invoker
	classify Classifier
	recorder metrics.Recorder
	logger   *logging.Logger
}

// NewScanner resolves the port configuration and wires the pipeline. A
// malformed port specification is reported here, before any scan runs.
func NewScanner(config Config, opts Options) (*Scanner, error) {
	spec, err := ResolvePorts(config.Ports, config.PortsOverride)
	if err != nil {
		return nil, err
	}
	if opts.Classifier == nil {
		opts.Classifier = IsWebService
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}

	return &Scanner{
		config:   config,
		spec:     spec,
		invoker:  NewInvoker(config.Invoker, opts.Runner, opts.Executor, opts.Logger),
		classify: opts.Classifier,
		recorder: opts.Recorder,
		logger:   opts.Logger.WithComponent("scanner"),
	}, nil
}

// PortSpec returns the resolved port specification.
func (s *Scanner) PortSpec() PortSpec {
	return s.spec
}

// Scan runs the full pipeline against a single target.
func (s *Scanner) Scan(ctx context.Context, target Target) (*ScanReport, error) {
	report := &ScanReport{
		ID:        uuid.NewString(),
		Target:    target.Host,
		Ports:     s.spec.String(),
		StartedAt: time.Now().UTC(),
	}
	ctx = logging.ContextAttrs(ctx,
		slog.String("scan_id", report.ID),
		slog.String("target", target.Host))

	s.logger.InfoContext(ctx, "Starting scan", "ports", report.Ports)

	services, err := s.run(ctx, target)
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		s.recorder.ObserveScan(metrics.StatusFailure, report.Duration())
		s.recorder.IncScanError(string(errors.GetCode(err)))
		s.logger.ErrorScan(ctx, "Scan failed", target.Host, err, "duration", report.Duration())
		return nil, err
	}

	report.Services = services
	s.recorder.ObserveScan(metrics.StatusSuccess, report.Duration())
	for _, svc := range services {
		s.recorder.AddServices(svc.ServiceName, 1)
	}
	s.logger.InfoScan(ctx, "Scan completed", target.Host,
		"services", len(services),
		"duration", report.Duration())
	return report, nil
}

func (s *Scanner) run(ctx context.Context, target Target) ([]ServiceRecord, error) {
	out, err := s.invoker.Invoke(ctx, target, s.spec)
	if err != nil {
		return nil, err
	}
	if !s.config.KeepOutput {
		defer func() {
			if err := out.Remove(); err != nil {
				s.logger.WarnContext(ctx, "Failed to remove scan output", "path", out.Path, "error", err)
			}
		}()
	}

	raw, err := ParseFile(out.Path)
	if err != nil {
		return nil, err
	}
	return Reconcile(target, raw, s.config.RootPaths, s.classify), nil
}

// Result is the outcome of scanning one target in ScanAll.
type Result struct {
	Target Target
	Report *ScanReport
	Err    error
}

// ScanAll scans targets concurrently, bounded by Config.Concurrency. A failed
// target does not affect the others. Results are in input order.
func (s *Scanner) ScanAll(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, target := range targets {
		g.Go(func() error {
			report, err := s.Scan(gctx, target)
			results[i] = Result{Target: target, Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
