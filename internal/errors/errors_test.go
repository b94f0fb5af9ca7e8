package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanError(t *testing.T) {
	t.Run("error with target", func(t *testing.T) {
		err := NewScanErrorWithTarget(CodeExecution, "nmap exited", "192.168.1.1")
		assert.Equal(t, "[EXECUTION] nmap exited (target: 192.168.1.1)", err.Error())
		assert.NotNil(t, err.Context)
	})

	t.Run("error without target", func(t *testing.T) {
		err := NewScanError(CodeValidation, "validation failed")
		assert.Equal(t, "[VALIDATION] validation failed", err.Error())
	})

	t.Run("wrapped error", func(t *testing.T) {
		cause := fmt.Errorf("exec: not found")
		err := WrapScanErrorWithTarget(CodeExecution, "failed to start scanner", "10.0.0.1", cause)
		assert.Same(t, cause, err.Unwrap())
		assert.Equal(t, "[EXECUTION] failed to start scanner (target: 10.0.0.1): exec: not found", err.Error())
	})

	t.Run("context and operation", func(t *testing.T) {
		err := NewScanError(CodeTimeout, "slow").
			WithContext("deadline", "5s").
			WithOperation("invoke")
		assert.Equal(t, "5s", err.Context["deadline"])
		assert.Equal(t, "invoke", err.Operation)
	})
}

func TestParseError(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := WrapParseError("malformed scan result", "/tmp/out.xml", cause)

	assert.Equal(t, CodeParse, err.Code)
	assert.Equal(t, "[PARSE] malformed scan result (source: /tmp/out.xml): unexpected EOF", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestStoreError(t *testing.T) {
	cause := errors.New("no such table")
	err := WrapStoreError(CodeStorage, "save_report", cause).WithQuery("INSERT")

	assert.Equal(t, "INSERT", err.Query)
	assert.Equal(t, "[STORAGE] report store operation failed (operation: save_report): no such table", err.Error())

	notFound := ErrReportNotFound("abc")
	assert.True(t, IsCode(notFound, CodeNotFound))
}

func TestConfigError(t *testing.T) {
	err := ErrInvalidPortSpec("abcd", errors.New("not a number"))

	assert.Equal(t, CodeConfiguration, err.Code)
	assert.Equal(t, "abcd", err.Value)
	assert.Equal(t, "[CONFIGURATION] invalid port specification (field: ports): not a number", err.Error())

	missing := ErrConfigMissing("scanner.binary")
	assert.Equal(t, "[CONFIGURATION] required configuration field missing (field: scanner.binary)", missing.Error())
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil", err: nil, want: CodeUnknown},
		{name: "plain error", err: errors.New("plain"), want: CodeUnknown},
		{name: "scan error", err: ErrScanTimeout("host", nil), want: CodeTimeout},
		{name: "parse error", err: NewParseError("bad", ""), want: CodeParse},
		{name: "store error", err: WrapStoreError(CodeMigration, "migrate", nil), want: CodeMigration},
		{name: "config error", err: ErrConfigInvalid("workers.size", 0), want: CodeValidation},
		{
			name: "wrapped scan error",
			err:  fmt.Errorf("scan 10.0.0.1: %w", ErrExecution("10.0.0.1", "exit status 1", nil)),
			want: CodeExecution,
		},
		{
			name: "wrapped canceled",
			err:  fmt.Errorf("outer: %w", ErrScanCanceled("host", nil)),
			want: CodeCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetCode(tt.err))
			if tt.err != nil && tt.want != CodeUnknown {
				assert.True(t, IsCode(tt.err, tt.want))
			}
		})
	}

	assert.False(t, IsCode(nil, CodeUnknown))
}

func TestRetryableAndFatal(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		fatal     bool
	}{
		{name: "timeout", err: ErrScanTimeout("h", nil), retryable: true},
		{name: "execution", err: ErrExecution("h", "boom", nil), retryable: true},
		{name: "parse", err: NewParseError("bad", "")},
		{name: "configuration", err: ErrInvalidPortSpec("x", nil), fatal: true},
		{name: "validation", err: ErrConfigInvalid("f", 1), fatal: true},
		{name: "migration", err: WrapStoreError(CodeMigration, "migrate", nil), fatal: true},
		{name: "plain", err: errors.New("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestErrorsAsThroughWrapping(t *testing.T) {
	base := ErrInvalidTarget("not a host!")
	wrapped := fmt.Errorf("resolve: %w", base)

	var scanErr *ScanError
	require.True(t, errors.As(wrapped, &scanErr))
	assert.Equal(t, "not a host!", scanErr.Target)
	assert.Equal(t, CodeTargetInvalid, scanErr.Code)
}
