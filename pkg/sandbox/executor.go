// Package sandbox manages the project directory lifecycle and runs
// generated code in subprocesses under wall-clock timeouts. It also
// carries the pre-flight hazard scan and the hanging-test filter.
package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"aicoder/pkg/agent/llmerrors"
)

// killGrace bounds how long Run waits for pipe teardown after the
// process group has been killed.
const killGrace = 5 * time.Second

// Opts contains options for one subprocess invocation.
type Opts struct {
	// Env contains extra environment variables (KEY=VALUE), merged over
	// the current process environment.
	Env []string

	// Timeout is the wall-clock budget. Zero means the caller's ctx rules.
	Timeout time.Duration

	// WorkDir is the working directory for the command.
	WorkDir string
}

// Result contains the raw outcome of one subprocess invocation. A
// non-zero exit code is not a Go error; ExitCode -1 means the process
// was killed or never produced an exit code.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
	ExitCode int
	TimedOut bool
}

// Executor runs commands in some environment. The pipeline ships only
// LocalExec; the interface keeps container execution pluggable.
type Executor interface {
	Run(ctx context.Context, cmd []string, opts Opts) (Result, error)
	Name() string
	Available() bool
}

// LocalExec executes commands directly on the local system.
type LocalExec struct{}

// NewLocalExec creates a local executor.
func NewLocalExec() *LocalExec {
	return &LocalExec{}
}

// Name returns the executor name for logging.
func (e *LocalExec) Name() string {
	return "local"
}

// Available reports whether the executor can run here. Local execution
// always can.
func (e *LocalExec) Available() bool {
	return true
}

// Run executes cmd with the given options. The command's exit code is
// reported in the Result, not as an error; errors are reserved for
// invocations that could not run at all.
func (e *LocalExec) Run(ctx context.Context, cmd []string, opts Opts) (Result, error) {
	if len(cmd) == 0 {
		return Result{}, llmerrors.New(llmerrors.KindValidation, "command cannot be empty")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	// Own process group: cancellation must kill the whole tree, and a
	// background child holding the output pipes must not block Run past
	// the budget.
	execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	execCmd.Cancel = func() error {
		if execCmd.Process != nil {
			_ = syscall.Kill(-execCmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
	execCmd.WaitDelay = killGrace
	if opts.WorkDir != "" {
		if _, err := os.Stat(opts.WorkDir); err != nil {
			return Result{}, llmerrors.Wrap(llmerrors.KindValidation, err, "working directory does not exist: "+opts.WorkDir)
		}
		execCmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		execCmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdoutBuf, stderrBuf strings.Builder
	execCmd.Stdout = &stdoutBuf
	execCmd.Stderr = &stderrBuf

	start := time.Now()
	runErr := execCmd.Run()
	result := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			// Non-zero exit; the caller checks ExitCode.
			result.ExitCode = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrWaitDelay):
			// The process exited but an orphaned child held the pipes
			// past the grace window. The exit code is still real.
			result.ExitCode = execCmd.ProcessState.ExitCode()
		default:
			result.ExitCode = -1
			if ctx.Err() == nil {
				return result, llmerrors.Wrap(llmerrors.KindValidation, runErr, "command failed to start")
			}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			result.ExitCode = -1
		}
	}
	return result, nil
}
