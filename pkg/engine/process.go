package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Process is a running engine instance.
type Process interface {
	// Kill terminates the process immediately.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// Spawner starts the engine for a resolved command.
type Spawner func(ctx context.Context, cmd Command, logger *slog.Logger) (Process, error)

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill engine: %w", err)
	}

	return nil
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

// SpawnExec starts the command as a child process and forwards its output to logger.
func SpawnExec(_ context.Context, cmd Command, logger *slog.Logger) (Process, error) {
	child := exec.Command(cmd.Executable, cmd.Args...) //nolint:gosec // executable resolved by CommandBuilder.
	child.Env = cmd.Env
	child.Dir = cmd.Dir

	stdout, err := child.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout: %w", err)
	}

	stderr, err := child.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stderr: %w", err)
	}

	startErr := child.Start()
	if startErr != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Executable, startErr)
	}

	proc := &execProcess{cmd: child, done: make(chan struct{})}
	engineLog := logger.With("component", "engine", "pid", child.Process.Pid)

	var pumps errgroup.Group

	pumps.Go(func() error { return pumpOutput(stdout, engineLog) })
	pumps.Go(func() error { return pumpOutput(stderr, engineLog) })

	go func() {
		pumpErr := pumps.Wait()
		if pumpErr != nil {
			engineLog.Debug("engine output closed", "error", pumpErr)
		}

		waitErr := child.Wait()
		if waitErr != nil {
			engineLog.Info("engine process exited", "error", waitErr)
		} else {
			engineLog.Debug("engine process exited")
		}

		proc.once.Do(func() { close(proc.done) })
	}()

	return proc, nil
}

// freePort asks the kernel for an unused TCP port on host.
func freePort(host string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer listener.Close()

	_, portStr, splitErr := net.SplitHostPort(listener.Addr().String())
	if splitErr != nil {
		return 0, fmt.Errorf("find free port: %w", splitErr)
	}

	port, convErr := strconv.Atoi(portStr)
	if convErr != nil {
		return 0, fmt.Errorf("find free port: %w", convErr)
	}

	return port, nil
}
