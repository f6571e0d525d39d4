package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/masahif/appsnowball/internal/marketplace"
)

// Launcher starts the worker process behind a unix socket when it is not
// already running, and restarts it on request.
type Launcher struct {
	Command        string // may reference {market} and {socket}
	Socket         string
	Market         marketplace.Market
	LogFile        string
	StartupTimeout time.Duration
}

// SocketPath returns the per-market socket path under dir.
func SocketPath(dir string, market marketplace.Market) string {
	return strings.TrimRight(dir, "/") + "/appsnowball_" + market.String() + ".sock"
}

func (l *Launcher) pidFile() string {
	return l.Socket + ".pid"
}

// Ensure makes sure a worker is listening on the socket. With fresh, a
// running worker is killed and replaced first.
func (l *Launcher) Ensure(ctx context.Context, fresh bool) error {
	if fresh {
		if err := l.Stop(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(l.Socket); err == nil {
		return nil
	}
	if strings.TrimSpace(l.Command) == "" {
		return fmt.Errorf("worker socket %s missing and no worker command configured", l.Socket)
	}
	return l.start(ctx)
}

func (l *Launcher) start(ctx context.Context) error {
	replacer := strings.NewReplacer("{market}", l.Market.String(), "{socket}", l.Socket)
	args := strings.Fields(replacer.Replace(l.Command))

	cmd := exec.Command(args[0], args[1:]...)
	if l.LogFile != "" {
		f, err := os.OpenFile(l.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open worker log: %w", err)
		}
		defer func() { _ = f.Close() }()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	slog.Info("Starting worker", "command", strings.Join(args, " "), "socket", l.Socket)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	if err := os.WriteFile(l.pidFile(), []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
		slog.Warn("Failed to write worker pid file", "path", l.pidFile(), "error", err)
	}
	// The worker outlives this process and is reused by later runs.
	go func() { _ = cmd.Wait() }()

	timeout := l.StartupTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(l.Socket); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("worker did not create %s within %v", l.Socket, timeout)
		case <-tick.C:
		}
	}
}

// Stop kills the worker recorded in the pid file and removes its socket.
func (l *Launcher) Stop() error {
	if data, err := os.ReadFile(l.pidFile()); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			if p, err := os.FindProcess(pid); err == nil {
				if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
					slog.Warn("Failed to kill worker", "pid", pid, "error", err)
				}
			}
		}
		_ = os.Remove(l.pidFile())
	}
	if err := os.Remove(l.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove worker socket: %w", err)
	}
	return nil
}
