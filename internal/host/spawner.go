package host

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"

	"github.com/danmuck/webext/internal/logging"
	"github.com/danmuck/webext/internal/protocol/session"
)

var ErrNoCommand = errors.New("host: worker command required")

// Spawner launches worker processes pointed at the host socket. The socket
// is passed both as a flag and through the environment.
type Spawner struct {
	Command string
	Args    []string
	Env     []string
	Socket  string
}

// Process is a running worker.
type Process struct {
	PID int

	cmd      *exec.Cmd
	waitOnce sync.Once
	waitErr  error
}

func (sp *Spawner) Spawn(ctx context.Context) (*Process, error) {
	if sp.Command == "" {
		return nil, ErrNoCommand
	}
	args := append(append([]string{}, sp.Args...), session.SocketArg(sp.Socket))
	cmd := exec.CommandContext(ctx, sp.Command, args...)
	cmd.Env = append(append(os.Environ(), sp.Env...), session.EnvSocket+"="+sp.Socket)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	l := logging.For("host")
	l.Info().
		Str("command", sp.Command).
		Int("pid", cmd.Process.Pid).
		Msg("worker spawned")
	return &Process{PID: cmd.Process.Pid, cmd: cmd}, nil
}

// Wait blocks until the process exits. It is safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// ExitCode is -1 until the process has been waited on.
func (p *Process) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

func (p *Process) Kill() error {
	return p.cmd.Process.Kill()
}
