package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandArgs(t *testing.T) {
	spec, err := ParsePortSpec("15000-16000,8080,80")
	require.NoError(t, err)

	tests := []struct {
		name   string
		opts   CommandOptions
		target Target
		spec   PortSpec
		want   []string
	}{
		{
			name:   "defaults",
			opts:   DefaultCommandOptions(),
			target: MustParseTarget("127.0.0.1"),
			spec:   spec,
			want: []string{
				"-Pn", "-sV", "--version-intensity", "5", "--script", "banner", "-T4",
				"-p", "80,8080,15000-16000",
				"-oX", "/tmp/out.xml", "127.0.0.1",
			},
		},
		{
			name:   "ipv6 target",
			opts:   CommandOptions{},
			target: MustParseTarget("::1"),
			spec:   spec,
			want:   []string{"-p", "80,8080,15000-16000", "-6", "-oX", "/tmp/out.xml", "::1"},
		},
		{
			name:   "no ports uses scanner defaults",
			opts:   CommandOptions{ServiceDetection: true},
			target: MustParseTarget("scanme.example.org"),
			want:   []string{"-sV", "-oX", "/tmp/out.xml", "scanme.example.org"},
		},
		{
			name:   "extra args before output",
			opts:   CommandOptions{TimingTemplate: 3, ExtraArgs: []string{"--max-retries", "1"}},
			target: MustParseTarget("10.0.0.1"),
			want:   []string{"-T3", "--max-retries", "1", "-oX", "/tmp/out.xml", "10.0.0.1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCommand("", tt.opts).WithPorts(tt.spec)
			assert.Equal(t, DefaultBinary, cmd.Binary())
			assert.Equal(t, tt.want, cmd.Args(tt.target, "/tmp/out.xml"))
		})
	}
}

func TestCommandCallbacks(t *testing.T) {
	cmd := NewCommand("/opt/nmap/bin/nmap", CommandOptions{})
	cmd.OnPort(80)
	cmd.OnPort(8080)
	cmd.OnPortRange(PortRange{Start: 15000, End: 16000})

	assert.Equal(t, "/opt/nmap/bin/nmap", cmd.Binary())
	assert.Equal(t, "80,8080,15000-16000", cmd.PortList())
}
