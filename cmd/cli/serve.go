package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/portscan/internal/api"
	"github.com/anstrom/portscan/internal/metrics"
)

const serveShutdownTimeout = 30 * time.Second

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored reports and metrics over HTTP",
		Long: `Serve the report API (/api/v1/reports, /api/v1/health) and the
Prometheus metrics endpoint until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			apiCfg := api.DefaultConfig()
			apiCfg.MetricsPath = cfg.Metrics.Path
			switch {
			case addr != "":
				apiCfg.Addr = addr
			case cfg.Metrics.Addr != "":
				apiCfg.Addr = cfg.Metrics.Addr
			}

			recorder := metrics.NewPrometheusMetrics()
			return api.New(apiCfg, s, recorder.Handler(), version).Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default metrics.addr or 127.0.0.1:9100)")
	return cmd
}
