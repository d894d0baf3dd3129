package mcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/logx"
)

// shutdownGrace is how long a spawned server gets to exit after its
// stdin closes before it is killed.
const shutdownGrace = 5 * time.Second

// ServerProcess is a role server running as a child process, reachable
// through Client over its stdio pipes. Server stderr passes through to
// this process's stderr.
type ServerProcess struct {
	Client *Client

	role   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *logx.Logger
}

// Spawn starts `binary -role <role>`, wires up stdio, and completes the
// initialize handshake.
func Spawn(ctx context.Context, binary, role string, env []string) (*ServerProcess, error) {
	cmd := exec.Command(binary, "-role", role)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindTransport, err, fmt.Sprintf("stdin pipe for %s server", role))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindTransport, err, fmt.Sprintf("stdout pipe for %s server", role))
	}
	if err := cmd.Start(); err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindTransport, err, fmt.Sprintf("start %s server", role))
	}

	sp := &ServerProcess{
		Client: NewClient(role, stdout, stdin),
		role:   role,
		cmd:    cmd,
		stdin:  stdin,
		logger: logx.NewLogger("mcp-spawn"),
	}
	sp.logger.Info("started %s server (pid %d)", role, cmd.Process.Pid)

	if err := sp.Client.Initialize(ctx); err != nil {
		_ = sp.Close()
		return nil, err
	}
	return sp, nil
}

// Close ends the session by closing the server's stdin and waits for it
// to exit, killing it after a grace period.
func (sp *ServerProcess) Close() error {
	_ = sp.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- sp.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			sp.logger.Warn("%s server exited with error: %v", sp.role, err)
		}
		return nil
	case <-time.After(shutdownGrace):
		sp.logger.Warn("%s server did not exit, killing", sp.role)
		_ = sp.cmd.Process.Kill()
		<-done
		return fmt.Errorf("%s server killed after shutdown timeout", sp.role)
	}
}
