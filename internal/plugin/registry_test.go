package plugin

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/scanning"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	f, ok := r.Lookup(NmapID)
	require.True(t, ok)
	assert.Equal(t, NmapID, f.ID)
	assert.NotEmpty(t, f.Description)

	_, ok = r.Lookup("masscan")
	assert.False(t, ok)
}

func TestRegisterRejectsDuplicatesAndIncomplete(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NmapFactory()))

	err := r.Register(NmapFactory())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))

	err = r.Register(Factory{ID: "broken"})
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestIDsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"zmap", "nmap", "masscan"} {
		require.NoError(t, r.Register(Factory{
			ID:  id,
			New: func(Deps) (PortScanner, error) { return nil, nil },
		}))
	}
	assert.Equal(t, []string{"masscan", "nmap", "zmap"}, r.IDs())
}

func TestCheckUnavailable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	ctx := context.Background()

	a := r.Check(ctx, "masscan", Deps{})
	assert.False(t, a.Available)
	assert.Contains(t, a.Reason, "not registered")

	deps := Deps{Config: scanning.Config{
		Invoker: scanning.InvokerConfig{Binary: filepath.Join(t.TempDir(), "missing-nmap")},
	}}
	a = r.Check(ctx, NmapID, deps)
	assert.False(t, a.Available)
	assert.Contains(t, a.Reason, "not found")

	_, err := r.Build(ctx, NmapID, deps)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))

	_, err = r.Build(ctx, "masscan", deps)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestBuildNmap(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit check requires unix")
	}
	bin := filepath.Join(t.TempDir(), "nmap")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexit 0\n"), 0o700)) //nolint:gosec // test stub

	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	deps := Deps{Config: scanning.Config{
		Ports:   "80,8080,15000-16000",
		Invoker: scanning.InvokerConfig{Binary: bin},
	}}
	assert.True(t, r.Check(context.Background(), NmapID, deps).Available)

	scanner, err := r.Build(context.Background(), NmapID, deps)
	require.NoError(t, err)
	assert.Equal(t, "80,8080,15000-16000", scanner.PortSpec().String())

	deps.Config.Ports = "abcd"
	_, err = r.Build(context.Background(), NmapID, deps)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestCheckWithoutChecker(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Factory{
		ID:  "inline",
		New: func(Deps) (PortScanner, error) { return nil, nil },
	}))
	assert.Equal(t, Available(), r.Check(context.Background(), "inline", Deps{}))
}
