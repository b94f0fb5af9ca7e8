package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/portscan/internal/api"
	"github.com/anstrom/portscan/internal/config"
	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/logging"
	"github.com/anstrom/portscan/internal/metrics"
	"github.com/anstrom/portscan/internal/plugin"
	"github.com/anstrom/portscan/internal/scanning"
	"github.com/anstrom/portscan/internal/scheduler"
	"github.com/anstrom/portscan/internal/store"
	"github.com/anstrom/portscan/internal/workers"
)

type scanOptions struct {
	root     *rootOptions
	ports    string
	format   string
	save     bool
	schedule string
}

func newScanCommand(root *rootOptions) *cobra.Command {
	opts := &scanOptions{root: root}

	cmd := &cobra.Command{
		Use:   "scan TARGET...",
		Short: "Scan targets and report reachable services",
		Long: `Scan one or more targets (IP addresses or hostnames) and print the
reconciled service report.

The ports come from scanner.ports in the config file. --ports replaces that
list entirely; it is not merged. Web services are reported once per
application root given with --root-paths or scanner.root_paths.`,
		Example: `  portscan scan 127.0.0.1
  portscan scan --ports 80,8080,15000-16000 --root-paths /,/admin 10.0.0.5
  portscan scan --format json --save example.com
  portscan scan --schedule "*/30 * * * *" --metrics-addr 127.0.0.1:9100 10.0.0.5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.ports, "ports", "p", "", "port specification replacing scanner.ports, e.g. 80,8080,15000-16000")
	flags.StringSlice("root-paths", nil, "application roots reported for every web service")
	flags.Duration("timeout", 0, "maximum scan time per target")
	flags.Int("concurrency", 0, "number of targets scanned at once")
	flags.Bool("keep-output", false, "keep nmap XML capture files")
	flags.StringVarP(&opts.format, "format", "f", formatTable, "output format: table, json")
	flags.BoolVar(&opts.save, "save", false, "store reports in the report store")
	flags.StringVar(&opts.schedule, "schedule", "", "cron expression for repeated scans, e.g. \"@every 1h\"")
	flags.String("metrics-addr", "", "serve Prometheus metrics and the report API on this address")

	bindFlags(root.viper, flags, map[string]string{
		"root-paths":   "scanner.root_paths",
		"timeout":      "scanner.timeout",
		"concurrency":  "scanner.concurrency",
		"keep-output":  "scanner.keep_output",
		"metrics-addr": "metrics.addr",
	})
	return cmd
}

func (o *scanOptions) run(cmd *cobra.Command, args []string) error {
	if err := validateFormat(o.format); err != nil {
		return err
	}
	if o.schedule != "" {
		if _, err := scheduler.ParseSchedule(o.schedule); err != nil {
			return err
		}
	}

	cfg, err := o.root.loadConfig()
	if err != nil {
		return err
	}
	targets, err := parseTargets(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Default()
	recorder := metrics.NewPrometheusMetrics()

	pool := workers.New(cfg.Workers, workers.WithRecorder(recorder), workers.WithLogger(logger))
	pool.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Workers.ShutdownTimeout)
		defer cancel()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("worker pool shutdown", "error", err)
		}
	}()

	scanner, err := buildScanner(ctx, cfg, o.ports, scanning.Options{
		Executor:   pool,
		Classifier: cfg.Classifier(),
		Recorder:   recorder,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var reports *store.Store
	if o.save {
		reports, err = openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = reports.Close() }()
	}

	if cfg.Metrics.Addr != "" {
		var rs api.ReportStore
		if reports != nil {
			rs = reports
		}
		srv := api.New(api.Config{Addr: cfg.Metrics.Addr, MetricsPath: cfg.Metrics.Path}, rs, recorder.Handler(), version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	runOnce := func(ctx context.Context) error {
		results := scanner.ScanAll(ctx, targets)
		if err := renderResults(cmd.OutOrStdout(), cmd.ErrOrStderr(), o.format, results); err != nil {
			return err
		}
		if reports != nil {
			if err := saveResults(ctx, reports, results); err != nil {
				return err
			}
		}
		return scanFailures(results)
	}

	if o.schedule == "" {
		return runOnce(ctx)
	}
	return runScheduled(ctx, o.schedule, runOnce, logger)
}

// runScheduled scans once immediately and then on every schedule tick
// until ctx is canceled.
func runScheduled(ctx context.Context, expr string, runOnce func(context.Context) error, logger *logging.Logger) error {
	if err := runOnce(ctx); err != nil {
		logger.Warn("scan finished with errors", "error", err)
	}

	sched := scheduler.NewScheduler(logger)
	if _, err := sched.AddJob("scan", expr, func(jobCtx context.Context) {
		if err := runOnce(jobCtx); err != nil {
			logger.Warn("scheduled scan finished with errors", "error", err)
		}
	}); err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	return sched.Stop(stopCtx)
}

// buildScanner resolves the configured plugin through the registry.
func buildScanner(ctx context.Context, cfg *config.Config, portsOverride string, opts scanning.Options) (plugin.PortScanner, error) {
	registry := plugin.NewRegistry()
	if err := plugin.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	return registry.Build(ctx, cfg.Scanner.Plugin, plugin.Deps{
		Config:  cfg.ScanningConfig(portsOverride),
		Options: opts,
	})
}

// openStore connects to the report store and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// parseTargets accepts targets as separate arguments or comma separated.
func parseTargets(args []string) ([]scanning.Target, error) {
	var targets []scanning.Target
	for _, arg := range args {
		for _, s := range strings.Split(arg, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			t, err := scanning.ParseTarget(s)
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return nil, errors.ErrInvalidTarget(strings.Join(args, ","))
	}
	return targets, nil
}

func saveResults(ctx context.Context, reports *store.Store, results []scanning.Result) error {
	for _, r := range results {
		if r.Report == nil {
			continue
		}
		if err := reports.SaveReport(ctx, r.Report); err != nil {
			return err
		}
	}
	return nil
}

// scanFailures summarizes failed targets; per target errors were already
// printed.
func scanFailures(results []scanning.Result) error {
	failed := 0
	var first error
	for _, r := range results {
		if r.Err != nil {
			failed++
			if first == nil {
				first = r.Err
			}
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d targets failed: %w", failed, len(results), first)
}
