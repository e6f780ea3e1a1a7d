package workspace

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// waitDelay bounds how long Run waits for orphaned children holding the output pipes
const waitDelay = 2 * time.Second

// LocalExecutor runs commands through a shell on the local machine
type LocalExecutor struct {
	shell string
}

// LocalOption configures a LocalExecutor
type LocalOption func(*LocalExecutor)

// WithShell sets the shell binary used to run commands (default "bash")
func WithShell(shell string) LocalOption {
	return func(e *LocalExecutor) {
		if shell != "" {
			e.shell = shell
		}
	}
}

// NewLocalExecutor creates an executor backed by the local shell
func NewLocalExecutor(opts ...LocalOption) *LocalExecutor {
	e := &LocalExecutor{shell: "bash"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs command with `<shell> -c` in cwd
func (e *LocalExecutor) Execute(ctx context.Context, command string, cwd string, timeout time.Duration) (*CommandResult, error) {
	return runCommand(ctx, timeout, func(runCtx context.Context) *exec.Cmd {
		cmd := exec.CommandContext(runCtx, e.shell, "-c", command)
		cmd.Dir = cwd
		return cmd
	})
}

// runCommand runs the command produced by build, separating per-command
// timeouts from caller cancellation and non-zero exits from launch failures.
func runCommand(ctx context.Context, timeout time.Duration, build func(context.Context) *exec.Cmd) (*CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := build(runCtx)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, errors.Wrapf(ErrCommandTimeout, "after %s", timeout)
	}

	result := &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, errors.Wrap(err, "failed to run command")
	}

	return result, nil
}
