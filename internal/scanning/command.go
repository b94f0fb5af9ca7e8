package scanning

import (
	"strconv"
	"strings"
)

// DefaultBinary is the scanner executable looked up on PATH.
const DefaultBinary = "nmap"

// CommandOptions are the scanner flags that do not depend on the target.
type CommandOptions struct {
	// ServiceDetection enables -sV version probing.
	ServiceDetection bool
	// VersionIntensity is passed as --version-intensity when service detection is on (0-9).
	VersionIntensity int
	// BannerScript runs the NSE banner script to capture service banners.
	BannerScript bool
	// SkipHostDiscovery treats every target as online (-Pn).
	SkipHostDiscovery bool
	// TimingTemplate is the -T template (1-5); zero leaves nmap's default.
	TimingTemplate int
	// ExtraArgs are appended verbatim before the output flags.
	ExtraArgs []string
}

// DefaultCommandOptions mirror a version scan with banner grabbing.
func DefaultCommandOptions() CommandOptions {
	return CommandOptions{
		ServiceDetection:  true,
		VersionIntensity:  5,
		BannerScript:      true,
		SkipHostDiscovery: true,
		TimingTemplate:    4,
	}
}

// Command assembles an nmap argument list. Ports are added through OnPort and
// OnPortRange, normally by PortSpec.Visit.
type Command struct {
	binary string
	opts   CommandOptions
	ports  []string
}

// NewCommand creates a command for binary (DefaultBinary when empty).
func NewCommand(binary string, opts CommandOptions) *Command {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Command{binary: binary, opts: opts}
}

// Binary returns the executable to run.
func (c *Command) Binary() string {
	return c.binary
}

// OnPort adds a single port to the command.
func (c *Command) OnPort(port uint16) {
	c.ports = append(c.ports, strconv.Itoa(int(port)))
}

// OnPortRange adds an inclusive range to the command.
func (c *Command) OnPortRange(r PortRange) {
	c.ports = append(c.ports, r.String())
}

// WithPorts visits spec, adding its ports and ranges in canonical order.
func (c *Command) WithPorts(spec PortSpec) *Command {
	spec.Visit(c.OnPort, c.OnPortRange)
	return c
}

// PortList returns the -p value, empty when no ports were added.
func (c *Command) PortList() string {
	return strings.Join(c.ports, ",")
}

// Args returns the argument list for scanning target into the XML file outputPath.
// Without ports the -p flag is omitted and nmap scans its default port set.
func (c *Command) Args(target Target, outputPath string) []string {
	var args []string
	if c.opts.SkipHostDiscovery {
		args = append(args, "-Pn")
	}
	if c.opts.ServiceDetection {
		args = append(args, "-sV")
		if c.opts.VersionIntensity > 0 {
			args = append(args, "--version-intensity", strconv.Itoa(c.opts.VersionIntensity))
		}
	}
	if c.opts.BannerScript {
		args = append(args, "--script", bannerScriptID)
	}
	if c.opts.TimingTemplate > 0 && c.opts.TimingTemplate <= 5 {
		args = append(args, "-T"+strconv.Itoa(c.opts.TimingTemplate))
	}
	if ports := c.PortList(); ports != "" {
		args = append(args, "-p", ports)
	}
	if target.IsIPv6() {
		args = append(args, "-6")
	}
	args = append(args, c.opts.ExtraArgs...)
	args = append(args, "-oX", outputPath, target.Host)
	return args
}
