// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/defang/lib/config"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/worker"
)

// ProcessLoader runs the worker as a defang-worker child process,
// passing the service type ordinal and channel identity as its three
// positional arguments. The child runs in its own process group and
// inherits the loader's runtime directory through DEFANG_RUNTIME_DIR.
type ProcessLoader struct {
	options  Options
	identity ipc.Identity
	logger   *slog.Logger

	mu       sync.Mutex
	disposed bool
	cmd      *exec.Cmd
	exited   chan struct{}
	waitErr  error
}

// NewProcessLoader returns a new-process loader.
func NewProcessLoader(options Options) *ProcessLoader {
	options = options.withDefaults()
	identity := options.Names.Identity()
	return &ProcessLoader{
		options:  options,
		identity: identity,
		logger:   options.Logger.With("isolation", NewProcess.String(), "channel", identity.Name),
	}
}

func (l *ProcessLoader) Identity() ipc.Identity { return l.identity }

func (l *ProcessLoader) Start(ctx context.Context) (ipc.Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd != nil || l.disposed {
		return ipc.Identity{}, ErrStarted
	}

	binary := l.options.WorkerBinary
	if binary == "" {
		var err error
		binary, err = l.options.Config.WorkerBinaryPath()
		if err != nil {
			return ipc.Identity{}, err
		}
	}
	if err := l.options.Config.EnsureRuntimeDir(); err != nil {
		return ipc.Identity{}, err
	}

	cmd := exec.Command(binary, worker.Args(l.options.ServiceType, l.identity)...)
	cmd.Env = append(os.Environ(), config.RuntimeDirEnv+"="+l.options.Config.RuntimeDir)
	cmd.Env = append(cmd.Env, l.options.WorkerEnv...)
	cmd.Stdout = l.options.Stderr
	cmd.Stderr = l.options.Stderr

	// Its own process group, so the kill in Dispose reaches anything
	// the worker spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return ipc.Identity{}, fmt.Errorf("starting %s: %w", binary, err)
	}
	l.cmd = cmd
	l.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		l.waitErr = err
		l.mu.Unlock()
		close(l.exited)
	}()

	l.logger.Info("worker process started",
		"pid", cmd.Process.Pid,
		"binary", binary,
		"service", l.options.ServiceType.String(),
	)
	return l.identity, nil
}

// Exited is closed when the worker process has exited. It is nil
// before Start.
func (l *ProcessLoader) Exited() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exited
}

// Dispose asks the worker to exit with SIGTERM, waits up to
// loader.process_exit_timeout, then kills its process group. A
// process that has already exited is not signalled.
func (l *ProcessLoader) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	cmd, exited := l.cmd, l.exited
	l.mu.Unlock()
	if cmd == nil {
		return
	}

	pid := cmd.Process.Pid
	select {
	case <-exited:
		l.logExit(pid)
		return
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		l.logger.Debug("signalling worker", "pid", pid, "error", err)
	}

	timeout := l.options.Config.Loader.ExitTimeout()
	select {
	case <-exited:
		l.logExit(pid)
		return
	case <-l.options.Clock.After(timeout):
	}

	l.logger.Warn("worker process did not exit, killing it", "pid", pid, "timeout", timeout)
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		l.logger.Warn("killing worker process group", "pid", pid, "error", err)
	}
	select {
	case <-exited:
		l.logExit(pid)
	case <-l.options.Clock.After(timeout):
		l.logger.Error("worker process survived SIGKILL", "pid", pid)
	}
}

func (l *ProcessLoader) logExit(pid int) {
	l.mu.Lock()
	err := l.waitErr
	l.mu.Unlock()
	if err != nil {
		l.logger.Debug("worker process exited", "pid", pid, "error", err)
		return
	}
	l.logger.Debug("worker process exited", "pid", pid)
}
