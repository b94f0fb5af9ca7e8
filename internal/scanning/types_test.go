package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscan/internal/errors"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		input    string
		host     string
		ipv6     bool
		hostname bool
	}{
		{input: "127.0.0.1", host: "127.0.0.1"},
		{input: " 10.0.0.1 ", host: "10.0.0.1"},
		{input: "::1", host: "::1", ipv6: true},
		{input: "[2001:db8::1]", host: "2001:db8::1", ipv6: true},
		{input: "::ffff:192.0.2.1", host: "::ffff:192.0.2.1"},
		{input: "localhost", host: "localhost", hostname: true},
		{input: "web-1.example.com", host: "web-1.example.com", hostname: true},
		{input: "scanme.example.org.", host: "scanme.example.org", hostname: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			target, err := ParseTarget(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.host, target.Host)
			assert.Equal(t, tt.host, target.String())
			assert.Equal(t, tt.ipv6, target.IsIPv6())
			assert.Equal(t, tt.hostname, target.IsHostname())
		})
	}
}

func TestParseTargetInvalid(t *testing.T) {
	for _, input := range []string{
		"", "   ", "not a host", "10.0.0.0/24", "http://example.com",
		"--script=default", "-sC", "-iL", "--datadir=x", "-example.com",
		"host-.example.com", "www.-bad.example.com", "a..b",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseTarget(input)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid))
		})
	}
}

func TestMustParseTargetPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseTarget("") })
}

func TestRawHost(t *testing.T) {
	host := RawHost{
		Addresses: []HostAddress{
			{Addr: "00:11:22:33:44:55", Type: "mac"},
			{Addr: "192.168.1.10", Type: "ipv4"},
		},
		Ports: []RawPort{
			{Number: 22, State: StateOpen},
			{Number: 23, State: StateClosed},
			{Number: 80, State: StateOpen},
			{Number: 443, State: StateFiltered},
		},
	}

	assert.Equal(t, "192.168.1.10", host.IP())
	open := host.OpenPorts()
	require.Len(t, open, 2)
	assert.Equal(t, uint16(22), open[0].Number)
	assert.Equal(t, uint16(80), open[1].Number)
	assert.Empty(t, RawHost{}.IP())
}
