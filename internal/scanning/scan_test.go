package scanning_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/scanning"
	"github.com/anstrom/portscan/internal/scanning/mocks"
	"github.com/anstrom/portscan/internal/workers"
)

type recordedScan struct {
	status string
}

type fakeRecorder struct {
	mu       sync.Mutex
	scans    []recordedScan
	errors   []string
	services map[string]int
}

func (r *fakeRecorder) ObserveScan(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, recordedScan{status: status})
}

func (r *fakeRecorder) IncScanError(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, kind)
}

func (r *fakeRecorder) AddServices(name string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.services == nil {
		r.services = map[string]int{}
	}
	r.services[name] += count
}

func (r *fakeRecorder) SetQueueDepth(int) {}
func (r *fakeRecorder) IncJobs(string)    {}

func TestNewScannerRejectsInvalidPorts(t *testing.T) {
	_, err := scanning.NewScanner(scanning.Config{Ports: "80,8080,abcd"}, scanning.Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestNewScannerOverride(t *testing.T) {
	scanner, err := scanning.NewScanner(scanning.Config{
		Ports:         "80,8080,15000-16000",
		PortsOverride: "80,10000-11000",
	}, scanning.Options{})
	require.NoError(t, err)
	assert.Equal(t, "80,10000-11000", scanner.PortSpec().String())
}

func TestScannerScan(t *testing.T) {
	tests := []struct {
		name      string
		fixture   string
		rootPaths []string
		want      []scanning.ServiceRecord
	}{
		{
			name:      "ssh ignores root paths",
			fixture:   "localhostSsh.xml",
			rootPaths: []string{"/root1", "/root2"},
			want: []scanning.ServiceRecord{{
				Address:     "127.0.0.1",
				Hostname:    "localhost",
				Port:        22,
				Protocol:    "tcp",
				ServiceName: "ssh",
				Product:     "OpenSSH",
				Version:     "7.9",
				Banner:      "SSH-2.0-OpenSSH_7.9 MDI-2.0",
			}},
		},
		{
			name:      "closed telnet yields empty report",
			fixture:   "closedTelnet.xml",
			rootPaths: []string{"/root1", "/root2"},
			want:      []scanning.ServiceRecord{},
		},
		{
			name:      "http fans out over root paths",
			fixture:   "localhostHttp.xml",
			rootPaths: []string{"/root1", "/root2"},
			want: []scanning.ServiceRecord{
				{Address: "127.0.0.1", Port: 80, Protocol: "tcp", ServiceName: "http", Product: "nginx", Version: "1.25.3", ApplicationRoot: "/root1"},
				{Address: "127.0.0.1", Port: 80, Protocol: "tcp", ServiceName: "http", Product: "nginx", Version: "1.25.3", ApplicationRoot: "/root2"},
				{Address: "127.0.0.1", Port: 22, Protocol: "tcp", ServiceName: "ssh", Product: "OpenSSH", Version: "9.6", Banner: "SSH-2.0-OpenSSH_9.6"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			runner := mocks.NewMockProcessRunner(ctrl)
			runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(copyFixture(t, tt.fixture, nil))

			dir := t.TempDir()
			rec := &fakeRecorder{}
			scanner, err := scanning.NewScanner(scanning.Config{
				Ports:     "22,80,443",
				RootPaths: tt.rootPaths,
				Invoker:   scanning.InvokerConfig{OutputDir: dir, Timeout: time.Minute},
			}, scanning.Options{Runner: runner, Executor: workers.Inline{}, Recorder: rec})
			require.NoError(t, err)

			report, err := scanner.Scan(context.Background(), scanning.MustParseTarget("127.0.0.1"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, report.Services)
			assert.Equal(t, "127.0.0.1", report.Target)
			assert.Equal(t, "22,80,443", report.Ports)
			assert.NotEmpty(t, report.ID)
			assert.False(t, report.FinishedAt.Before(report.StartedAt))

			assert.Empty(t, dirEntries(t, dir), "capture file should be removed")
			require.Len(t, rec.scans, 1)
			assert.Equal(t, "success", rec.scans[0].status)
		})
	}
}

func TestScannerKeepOutput(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockProcessRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(copyFixture(t, "localhostSsh.xml", nil))

	dir := t.TempDir()
	scanner, err := scanning.NewScanner(scanning.Config{
		KeepOutput: true,
		Invoker:    scanning.InvokerConfig{OutputDir: dir},
	}, scanning.Options{Runner: runner})
	require.NoError(t, err)

	_, err = scanner.Scan(context.Background(), scanning.MustParseTarget("127.0.0.1"))
	require.NoError(t, err)
	assert.Len(t, dirEntries(t, dir), 1)
}

func TestScannerParseFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockProcessRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(copyFixture(t, "truncated.xml", nil))

	rec := &fakeRecorder{}
	dir := t.TempDir()
	scanner, err := scanning.NewScanner(scanning.Config{
		Invoker: scanning.InvokerConfig{OutputDir: dir},
	}, scanning.Options{Runner: runner, Recorder: rec})
	require.NoError(t, err)

	_, err = scanner.Scan(context.Background(), scanning.MustParseTarget("127.0.0.1"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeParse))
	assert.Equal(t, []string{"PARSE"}, rec.errors)
	assert.Empty(t, dirEntries(t, dir))
}

func TestScannerScanAllIsolatesFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockProcessRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, name string, args []string) error {
			switch args[len(args)-1] {
			case "10.0.0.2":
				return &scanning.ExitStatusError{Code: 1}
			case "10.0.0.3":
				return copyFixture(t, "closedTelnet.xml", nil)(ctx, name, args)
			default:
				return copyFixture(t, "localhostSsh.xml", nil)(ctx, name, args)
			}
		}).
		Times(3)

	pool := workers.New(workers.Config{Size: 2, QueueSize: 2})
	pool.Start()
	defer func() { require.NoError(t, pool.Shutdown(context.Background())) }()

	scanner, err := scanning.NewScanner(scanning.Config{
		Ports:       "22",
		Concurrency: 2,
		Invoker:     scanning.InvokerConfig{OutputDir: t.TempDir()},
	}, scanning.Options{Runner: runner, Executor: pool})
	require.NoError(t, err)

	targets := []scanning.Target{
		scanning.MustParseTarget("10.0.0.1"),
		scanning.MustParseTarget("10.0.0.2"),
		scanning.MustParseTarget("10.0.0.3"),
	}
	results := scanner.ScanAll(context.Background(), targets)
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	assert.Len(t, results[0].Report.Services, 1)

	assert.True(t, errors.IsCode(results[1].Err, errors.CodeExecution))
	assert.Nil(t, results[1].Report)

	require.NoError(t, results[2].Err)
	assert.Empty(t, results[2].Report.Services)

	for i, r := range results {
		assert.Equal(t, targets[i], r.Target)
	}
}
