package scanning

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/anstrom/portscan/internal/errors"
)

const (
	// Port validation constants.
	maxPort                = 65535
	expectedPortRangeParts = 2
)

// PortRange is an inclusive range of ports.
type PortRange struct {
	Start uint16 `json:"start"`
	End   uint16 `json:"end"`
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// PortSpec is the canonical set of ports to scan: explicit ports ascending,
// then ranges ascending by start.
type PortSpec struct {
	Ports  []uint16    `json:"ports,omitempty"`
	Ranges []PortRange `json:"ranges,omitempty"`
}

// IsEmpty reports whether the spec names no ports at all.
func (s PortSpec) IsEmpty() bool {
	return len(s.Ports) == 0 && len(s.Ranges) == 0
}

// String renders the spec in the same comma separated form ParsePortSpec accepts.
func (s PortSpec) String() string {
	parts := make([]string, 0, len(s.Ports)+len(s.Ranges))
	s.Visit(
		func(p uint16) { parts = append(parts, strconv.Itoa(int(p))) },
		func(r PortRange) { parts = append(parts, r.String()) },
	)
	return strings.Join(parts, ",")
}

// Visit calls onPort for every explicit port and then onRange for every range,
// both in canonical order.
func (s PortSpec) Visit(onPort func(uint16), onRange func(PortRange)) {
	for _, p := range s.Ports {
		onPort(p)
	}
	for _, r := range s.Ranges {
		onRange(r)
	}
}

// ParsePortSpec parses a comma separated list of ports and inclusive
// start-end ranges, e.g. "80,8080,15000-16000". An empty string yields an
// empty spec. Any malformed token fails the whole spec.
func ParsePortSpec(spec string) (PortSpec, error) {
	var out PortSpec
	if strings.TrimSpace(spec) == "" {
		return out, nil
	}

	for _, part := range strings.Split(spec, ",") {
		token := strings.TrimSpace(part)
		if strings.Contains(token, "-") {
			r, err := parsePortRange(token)
			if err != nil {
				return PortSpec{}, err
			}
			out.Ranges = append(out.Ranges, r)
			continue
		}
		p, err := parseSinglePort(token)
		if err != nil {
			return PortSpec{}, err
		}
		out.Ports = append(out.Ports, p)
	}

	out.normalize()
	return out, nil
}

// ResolvePorts merges the configured base spec with an override. A non-empty
// override replaces the base entirely; the two are never unioned.
func ResolvePorts(base, override string) (PortSpec, error) {
	if strings.TrimSpace(override) != "" {
		return ParsePortSpec(override)
	}
	return ParsePortSpec(base)
}

func (s *PortSpec) normalize() {
	slices.Sort(s.Ports)
	s.Ports = slices.Compact(s.Ports)

	slices.SortFunc(s.Ranges, func(a, b PortRange) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.End, b.End)
	})
	s.Ranges = slices.Compact(s.Ranges)
}

// parsePortRange validates a port range (e.g., "80-100").
func parsePortRange(token string) (PortRange, error) {
	rangeParts := strings.Split(token, "-")
	if len(rangeParts) != expectedPortRangeParts {
		return PortRange{}, errors.ErrInvalidPortSpec(token, fmt.Errorf("invalid port range format: %s", token))
	}

	start, err := parsePortNumber(rangeParts[0])
	if err != nil {
		return PortRange{}, errors.ErrInvalidPortSpec(token, fmt.Errorf("invalid start port: %w", err))
	}
	end, err := parsePortNumber(rangeParts[1])
	if err != nil {
		return PortRange{}, errors.ErrInvalidPortSpec(token, fmt.Errorf("invalid end port: %w", err))
	}
	if start > end {
		return PortRange{}, errors.ErrInvalidPortSpec(token,
			fmt.Errorf("invalid port range: start port %d is greater than end port %d", start, end))
	}
	return PortRange{Start: start, End: end}, nil
}

// parseSinglePort validates a single port.
func parseSinglePort(token string) (uint16, error) {
	p, err := parsePortNumber(token)
	if err != nil {
		return 0, errors.ErrInvalidPortSpec(token, err)
	}
	return p, nil
}

func parsePortNumber(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty port")
	}
	if strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("invalid port: %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port: %q", s)
	}
	if n < 0 || n > maxPort {
		return 0, fmt.Errorf("invalid port: %d (must be 0-%d)", n, maxPort)
	}
	return uint16(n), nil
}
