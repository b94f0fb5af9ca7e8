package scanning

import (
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/portscan/internal/errors"
)

// Port states reported by nmap.
const (
	StateOpen     = "open"
	StateClosed   = "closed"
	StateFiltered = "filtered"
)

// Target is a single host to scan, either an IP literal or a hostname.
type Target struct {
	// Host is the target exactly as it is passed to the scanner.
	Host string
	// Addr is set when Host is an IP literal.
	Addr netip.Addr
}

// ParseTarget validates s as an IPv4/IPv6 literal or a DNS hostname.
func ParseTarget(s string) (Target, error) {
	host := strings.TrimSpace(s)
	if host == "" {
		return Target{}, errors.ErrInvalidTarget(s)
	}
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return Target{Host: addr.String(), Addr: addr}, nil
	}
	if _, ok := dns.IsDomainName(host); !ok || strings.ContainsAny(host, " /:=") || !validLabels(host) {
		return Target{}, errors.ErrInvalidTarget(s)
	}
	return Target{Host: strings.TrimSuffix(host, ".")}, nil
}

// validLabels rejects hostnames with a label that starts or ends with a
// hyphen. The target is the scanner's last argument, so a leading hyphen
// would be read as an option.
func validLabels(host string) bool {
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	return true
}

// MustParseTarget is like ParseTarget but panics on invalid input.
func MustParseTarget(s string) Target {
	t, err := ParseTarget(s)
	if err != nil {
		panic(err)
	}
	return t
}

// IsIPv6 reports whether the target is an IPv6 literal.
func (t Target) IsIPv6() bool {
	return t.Addr.IsValid() && t.Addr.Is6() && !t.Addr.Is4In6()
}

// IsHostname reports whether the target was given by name.
func (t Target) IsHostname() bool {
	return !t.Addr.IsValid()
}

func (t Target) String() string {
	return t.Host
}

// RawScanResult is the scanner output for one run, in document order.
type RawScanResult struct {
	Hosts []RawHost
}

// RawHost is a single host entry of a scan result.
type RawHost struct {
	Addresses []HostAddress
	Hostnames []string
	Status    string
	Ports     []RawPort
}

// HostAddress is one address of a host together with its type (ipv4, ipv6, mac).
type HostAddress struct {
	Addr string
	Type string
}

// RawPort is a single port entry of a host; every state is kept.
type RawPort struct {
	Number      uint16
	Protocol    string
	State       string
	ServiceName string
	Product     string
	Version     string
	ExtraInfo   string
	Banner      string
}

// IP returns the first IPv4 or IPv6 address of the host.
func (h RawHost) IP() string {
	for _, a := range h.Addresses {
		if a.Type == "ipv4" || a.Type == "ipv6" {
			return a.Addr
		}
	}
	return ""
}

// OpenPorts returns the open ports of the host in document order.
func (h RawHost) OpenPorts() []RawPort {
	var open []RawPort
	for _, p := range h.Ports {
		if p.State == StateOpen {
			open = append(open, p)
		}
	}
	return open
}

// ServiceRecord describes one reachable service on the target. Web services
// are reported once per application root.
type ServiceRecord struct {
	Address         string `json:"address" db:"address"`
	Hostname        string `json:"hostname,omitempty" db:"hostname"`
	Port            uint16 `json:"port" db:"port"`
	Protocol        string `json:"protocol" db:"protocol"`
	ServiceName     string `json:"service_name" db:"service_name"`
	Product         string `json:"product,omitempty" db:"product"`
	Version         string `json:"version,omitempty" db:"version"`
	Banner          string `json:"banner,omitempty" db:"banner"`
	ApplicationRoot string `json:"application_root,omitempty" db:"application_root"`
}

// ScanReport is the reconciled outcome of scanning one target.
type ScanReport struct {
	ID         string          `json:"id"`
	Target     string          `json:"target"`
	Ports      string          `json:"ports"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Services   []ServiceRecord `json:"services"`
}

// Duration returns how long the scan took.
func (r *ScanReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
