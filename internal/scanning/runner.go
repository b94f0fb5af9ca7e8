package scanning

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/anstrom/portscan/internal/scanning ProcessRunner

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"time"
)

const (
	defaultWaitDelay = 2 * time.Second
	maxStderrBytes   = 4096
)

// ProcessRunner runs an external program to completion. Implementations must
// stop the program when ctx is done and return only after it has exited.
type ProcessRunner interface {
	Run(ctx context.Context, name string, args []string) error
}

// ExitStatusError reports a program that started but exited with a non-zero status.
type ExitStatusError struct {
	Code   int
	Stderr string
}

func (e *ExitStatusError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExecRunner runs programs with os/exec. On unix the program gets its own
// process group, which is killed as a whole when ctx is done.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the kill.
	WaitDelay time.Duration
}

var _ ProcessRunner = ExecRunner{}

// Run implements ProcessRunner.
func (r ExecRunner) Run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	configureProcessGroup(cmd)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	stderr := &tailBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	err := cmd.Wait()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s stopped: %w", name, ctxErr)
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return &ExitStatusError{Code: exitErr.ExitCode(), Stderr: string(bytes.TrimSpace(stderr.Bytes()))}
	}
	return err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	return b.buf
}
