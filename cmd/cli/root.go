// Package cli provides the command-line interface for portscan.
// It implements the Cobra-based command tree for scanning targets,
// browsing stored reports, listing scanner plugins and serving metrics.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/portscan/internal/config"
	"github.com/anstrom/portscan/internal/logging"
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootOptions carries state shared by every subcommand.
type rootOptions struct {
	cfgFile string
	verbose bool
	viper   *viper.Viper
}

// NewRootCommand builds the portscan command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{viper: viper.New()}

	cmd := &cobra.Command{
		Use:   "portscan",
		Short: "Port scan reconciliation engine",
		Long: `portscan runs nmap against targets, parses the XML it produces and
reconciles the open ports into a service report. Web services are reported
once per configured application root.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			opts.initConfig()
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is ./portscan.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	bindFlags(opts.viper, flags, map[string]string{
		"log-level":  "logging.level",
		"log-format": "logging.format",
	})

	cmd.AddCommand(
		newScanCommand(opts),
		newReportsCommand(opts),
		newPluginsCommand(opts),
		newServeCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// bindFlags binds flags to configuration keys so that an explicitly set
// flag overrides the config file and environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// initConfig locates the config file and enables PORTSCAN_* environment
// overrides, e.g. PORTSCAN_SCANNER_PORTS.
func (o *rootOptions) initConfig() {
	v := o.viper
	if o.cfgFile != "" {
		v.SetConfigFile(o.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/portscan")
		v.SetConfigType("yaml")
		v.SetConfigName("portscan")
	}

	v.SetEnvPrefix("PORTSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing or unreadable file is reported by config.Load.
	if err := v.ReadInConfig(); err == nil && o.verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	}
}

// loadConfig loads the config file, applies environment and flag
// overrides, validates the result and initializes logging from it.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.viper.ConfigFileUsed()
	if path == "" {
		path = o.cfgFile
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyOverrides(o.viper, cfg)
	if o.verbose {
		cfg.Logging.Level = logging.LevelDebug
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	initLogging(cfg.Logging)
	return cfg, nil
}

// applyOverrides copies every key set through the environment, a bound flag
// or the config file viper read onto cfg.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	stringKeys := map[string]*string{
		"scanner.plugin":     &cfg.Scanner.Plugin,
		"scanner.binary":     &cfg.Scanner.Binary,
		"scanner.ports":      &cfg.Scanner.Ports,
		"scanner.output_dir": &cfg.Scanner.OutputDir,
		"logging.output":     &cfg.Logging.Output,
		"store.driver":       &cfg.Store.Driver,
		"store.dsn":          &cfg.Store.DSN,
		"metrics.addr":       &cfg.Metrics.Addr,
		"metrics.path":       &cfg.Metrics.Path,
	}
	for key, dst := range stringKeys {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	intKeys := map[string]*int{
		"scanner.concurrency":     &cfg.Scanner.Concurrency,
		"scanner.timing_template": &cfg.Scanner.TimingTemplate,
		"workers.size":            &cfg.Workers.Size,
		"workers.queue_size":      &cfg.Workers.QueueSize,
		"workers.rate_limit":      &cfg.Workers.RateLimit,
	}
	for key, dst := range intKeys {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	durationKeys := map[string]*time.Duration{
		"scanner.timeout":          &cfg.Scanner.Timeout,
		"workers.shutdown_timeout": &cfg.Workers.ShutdownTimeout,
	}
	for key, dst := range durationKeys {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	if v.IsSet("scanner.keep_output") {
		cfg.Scanner.KeepOutput = v.GetBool("scanner.keep_output")
	}
	if v.IsSet("scanner.root_paths") {
		cfg.Scanner.RootPaths = v.GetStringSlice("scanner.root_paths")
	}
	if v.IsSet("logging.level") {
		cfg.Logging.Level = logging.LogLevel(v.GetString("logging.level"))
	}
	if v.IsSet("logging.format") {
		cfg.Logging.Format = logging.LogFormat(v.GetString("logging.format"))
	}
}

// initLogging installs the configured logger as the process default.
func initLogging(cfg logging.Config) {
	logger, err := logging.New(cfg)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
}
