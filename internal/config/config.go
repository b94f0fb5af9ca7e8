// Package config loads and validates the portscan configuration file.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/logging"
	"github.com/anstrom/portscan/internal/scanning"
	"github.com/anstrom/portscan/internal/store"
	"github.com/anstrom/portscan/internal/workers"
)

// Config represents the complete portscan configuration.
type Config struct {
	// Scanner configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Worker pool shared by scanner invocations
	Workers workers.Config `yaml:"workers" json:"workers"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`

	// Report store configuration
	Store store.Config `yaml:"store" json:"store"`

	// Metrics endpoint configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScannerConfig holds scanning-related settings.
type ScannerConfig struct {
	// Registered scanner plugin id
	Plugin string `yaml:"plugin" json:"plugin" validate:"required"`

	// Scanner executable, looked up in PATH when not absolute
	Binary string `yaml:"binary" json:"binary"`

	// Base port specification, e.g. "22,80,8000-8100"
	Ports string `yaml:"ports" json:"ports"`

	// Application roots reported for every web service
	RootPaths []string `yaml:"root_paths,omitempty" json:"root_paths" validate:"dive,required"`

	// Additional service names treated as web services
	WebServices []string `yaml:"web_services,omitempty" json:"web_services" validate:"dive,required"`

	// Maximum time for a single target
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`

	// Directory for capture files, system temp dir when empty
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// Keep capture files after parsing
	KeepOutput bool `yaml:"keep_output" json:"keep_output"`

	// Number of targets scanned at once
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"min=1"`

	// Service and version detection
	ServiceDetection bool `yaml:"service_detection" json:"service_detection"`
	VersionIntensity int  `yaml:"version_intensity" json:"version_intensity" validate:"min=0,max=9"`

	// Banner capture through the banner script
	BannerScript bool `yaml:"banner_script" json:"banner_script"`

	// Treat every target as online
	SkipHostDiscovery bool `yaml:"skip_host_discovery" json:"skip_host_discovery"`

	// Timing template 1-5, 0 keeps the scanner default
	TimingTemplate int `yaml:"timing_template" json:"timing_template" validate:"min=0,max=5"`

	// Extra scanner arguments
	ExtraArgs []string `yaml:"extra_args,omitempty" json:"extra_args"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Listen address for /metrics, disabled when empty
	Addr string `yaml:"addr" json:"addr" validate:"omitempty,hostname_port"`

	// Path the metrics are served on
	Path string `yaml:"path" json:"path" validate:"startswith=/"`
}

var validate = newValidator()

// newValidator reports fields by their yaml names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	opts := scanning.DefaultCommandOptions()
	return &Config{
		Scanner: ScannerConfig{
			Plugin:            "nmap",
			Binary:            scanning.DefaultBinary,
			Ports:             "22,80,443,8080,8443",
			Timeout:           10 * time.Minute,
			Concurrency:       4,
			ServiceDetection:  opts.ServiceDetection,
			VersionIntensity:  opts.VersionIntensity,
			BannerScript:      opts.BannerScript,
			SkipHostDiscovery: opts.SkipHostDiscovery,
			TimingTemplate:    opts.TimingTemplate,
		},
		Workers: workers.DefaultConfig(),
		Logging: logging.DefaultConfig(),
		Store:   store.DefaultConfig(),
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to parse config file", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks struct constraints and the base port specification.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			field := fieldName(fe.Namespace())
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid value for %s (%s)", field, fe.Tag()), field, fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	if _, err := scanning.ParsePortSpec(c.Scanner.Ports); err != nil {
		return err
	}

	return nil
}

// fieldName strips the root type from a validator namespace, so
// "Config.scanner.timing_template" becomes "scanner.timing_template".
func fieldName(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// ScanningConfig builds the scan pipeline configuration. A non-empty
// portsOverride replaces the configured ports entirely.
func (c *Config) ScanningConfig(portsOverride string) scanning.Config {
	s := c.Scanner
	return scanning.Config{
		Ports:         s.Ports,
		PortsOverride: portsOverride,
		RootPaths:     s.RootPaths,
		KeepOutput:    s.KeepOutput,
		Concurrency:   s.Concurrency,
		Invoker: scanning.InvokerConfig{
			Binary:    s.Binary,
			OutputDir: s.OutputDir,
			Timeout:   s.Timeout,
			Options: scanning.CommandOptions{
				ServiceDetection:  s.ServiceDetection,
				VersionIntensity:  s.VersionIntensity,
				BannerScript:      s.BannerScript,
				SkipHostDiscovery: s.SkipHostDiscovery,
				TimingTemplate:    s.TimingTemplate,
				ExtraArgs:         s.ExtraArgs,
			},
		},
	}
}

// Classifier returns the web service classifier extended with the
// configured service names.
func (c *Config) Classifier() scanning.Classifier {
	if len(c.Scanner.WebServices) == 0 {
		return scanning.IsWebService
	}
	return scanning.WebServiceNames(c.Scanner.WebServices...)
}
