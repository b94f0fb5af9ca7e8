package scanning

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/logging"
	"github.com/anstrom/portscan/internal/workers"
)

const outputFilePerm = 0o750

// RawOutput is the capture file written by a finished scanner process.
type RawOutput struct {
	Path string
}

// Remove deletes the capture file.
func (o RawOutput) Remove() error {
	if o.Path == "" {
		return nil
	}
	if err := os.Remove(o.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	// Binary is the scanner executable, DefaultBinary when empty.
	Binary string
	// Options are the target independent scanner flags.
	Options CommandOptions
	// OutputDir receives capture files, os.TempDir() when empty.
	OutputDir string
	// Timeout bounds a single scan; zero relies on the caller's context only.
	Timeout time.Duration
}

// Invoker runs the scanner for a single target on an executor and leaves the
// XML result in a capture file.
type Invoker struct {
	config   InvokerConfig
	runner   ProcessRunner
	executor workers.Executor
	logger   *logging.Logger
}

// NewInvoker creates an invoker. A nil runner uses ExecRunner, a nil executor
// runs inline and a nil logger uses the package default.
func NewInvoker(config InvokerConfig, runner ProcessRunner, executor workers.Executor, logger *logging.Logger) *Invoker {
	if runner == nil {
		runner = ExecRunner{}
	}
	if executor == nil {
		executor = workers.Inline{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Invoker{
		config:   config,
		runner:   runner,
		executor: executor,
		logger:   logger.WithComponent("invoker"),
	}
}

// Invoke scans target on the ports in spec. It returns an execution error when
// the scanner cannot be launched or exits non-zero without output, and a
// timeout error when the deadline passes first; in that case the process is
// killed and any partial capture file removed.
func (inv *Invoker) Invoke(ctx context.Context, target Target, spec PortSpec) (RawOutput, error) {
	cmd := NewCommand(inv.config.Binary, inv.config.Options).WithPorts(spec)

	dir := inv.config.OutputDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, outputFilePerm); err != nil {
		return RawOutput{}, errors.ErrExecution(target.Host, "failed to create output directory", err)
	}
	out := RawOutput{Path: filepath.Join(dir, fmt.Sprintf("portscan-%s.xml", uuid.NewString()))}
	args := cmd.Args(target, out.Path)

	runCtx := ctx
	if inv.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.config.Timeout)
		defer cancel()
	}

	inv.logger.DebugContext(ctx, "Launching scanner",
		"binary", cmd.Binary(),
		"target", target.Host,
		"ports", cmd.PortList(),
		"output", out.Path)

	start := time.Now()
	future, err := inv.executor.Submit(runCtx, func(taskCtx context.Context) error {
		return inv.runner.Run(taskCtx, cmd.Binary(), args)
	})
	if err == nil {
		err = awaitTask(runCtx, future)
	}

	if err = inv.classify(ctx, runCtx, target, out, err); err != nil {
		_ = out.Remove()
		return RawOutput{}, err
	}

	inv.logger.DebugContext(ctx, "Scanner finished",
		"target", target.Host,
		"duration", time.Since(start))
	return out, nil
}

// awaitTask waits for a submitted scan. A task still queued when runCtx ends
// is abandoned; the pool skips it once dequeued. A started task is awaited
// to completion because the runner kills the process when runCtx ends and
// only returns after it exited.
func awaitTask(runCtx context.Context, future *workers.Future) error {
	select {
	case <-future.Started():
	case <-future.Done():
	case <-runCtx.Done():
		select {
		case <-future.Started():
		case <-future.Done():
		default:
			return runCtx.Err()
		}
	}
	return future.Wait(context.WithoutCancel(runCtx))
}

func (inv *Invoker) classify(ctx, runCtx context.Context, target Target, out RawOutput, runErr error) error {
	if runErr != nil && runCtx.Err() != nil {
		if ctx.Err() != nil && !stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.ErrScanCanceled(target.Host, runErr)
		}
		return errors.ErrScanTimeout(target.Host, runErr).WithContext("timeout", inv.config.Timeout.String())
	}

	hasOutput := outputPresent(out.Path)

	var exitErr *ExitStatusError
	switch {
	case runErr == nil && hasOutput:
		return nil
	case runErr == nil:
		return errors.ErrExecution(target.Host, "scanner produced no output", nil)
	case stderrors.As(runErr, &exitErr) && hasOutput:
		inv.logger.Warn("Scanner exited with non-zero status but produced output",
			"target", target.Host,
			"exit_code", exitErr.Code)
		return nil
	case stderrors.As(runErr, &exitErr):
		return errors.ErrExecution(target.Host, "scanner exited without producing output", runErr).
			WithContext("exit_code", exitErr.Code)
	case stderrors.Is(runErr, workers.ErrPoolClosed), stderrors.Is(runErr, workers.ErrQueueFull):
		return errors.ErrExecution(target.Host, "scan could not be scheduled", runErr)
	default:
		return errors.ErrExecution(target.Host, "failed to launch scanner", runErr)
	}
}

func outputPresent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
