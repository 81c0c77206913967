package qemu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
	"github.com/rs/zerolog"
)

// process owns the qemu-system subprocess and its QMP monitor
// connection. launch (re)execs the subprocess and reconnects the
// monitor; it is used both for the placeholder process Spawn starts
// and the fully-configured process Create relaunches.
type process struct {
	binaryPath string
	vmDir      string
	sockPath   string
	logger     zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	monitor *qmp.SocketMonitor
	killed  bool
	failed  bool
}

func (p *process) launch(ctx context.Context, extraArgs []string, readyTimeout time.Duration) error {
	args := append([]string{
		"-qmp", fmt.Sprintf("unix:%s,server,nowait", p.sockPath),
		"-nographic", "-S",
	}, extraArgs...)

	// Not exec.CommandContext: ctx is the calling command's context,
	// which ends when the command returns, while the subprocess must
	// live until Kill or relaunch.
	cmd := exec.Command(p.binaryPath, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start qemu-system: %w", err)
	}

	mon, err := dialMonitor(ctx, p.sockPath, readyTimeout)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.monitor = mon
	p.killed = false
	p.failed = false
	p.mu.Unlock()

	go p.watchExit(cmd)
	return nil
}

// watchExit reaps cmd and, mirroring the cloud-hypervisor backend's
// fsnotify watch on its control socket, flags the process as failed
// if it exited on its own rather than by a requested Kill or
// relaunch. cmd is passed explicitly so a watcher left over from a
// prior launch never reports failure for the process that superseded
// it.
func (p *process) watchExit(cmd *exec.Cmd) {
	_ = cmd.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == cmd && !p.killed {
		p.failed = true
	}
}

// Failed reports whether watchExit observed this process exit outside
// of a requested Kill or relaunch.
func (p *process) Failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// relaunch kills the current subprocess and starts a new one with
// extraArgs, reconnecting the monitor at the same socket path. The
// outgoing process is reaped by its own watchExit goroutine, not here,
// so only one Wait ever races against a given *exec.Cmd.
func (p *process) relaunch(ctx context.Context, extraArgs []string, readyTimeout time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	mon := p.monitor
	p.killed = true
	p.mu.Unlock()

	if mon != nil {
		_ = mon.Disconnect()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = os.Remove(p.sockPath)

	return p.launch(ctx, extraArgs, readyTimeout)
}

func (p *process) currentMonitor() *qmp.SocketMonitor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.monitor
}

// Kill signals the subprocess and marks it killed; watchExit reaps it
// on its own goroutine, so Kill never blocks waiting for the process
// to exit.
func (p *process) Kill(ctx context.Context) error {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return nil
	}
	p.killed = true
	cmd := p.cmd
	mon := p.monitor
	p.mu.Unlock()

	if mon != nil {
		_ = mon.Disconnect()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		p.logger.Warn().Err(err).Msg("failed to signal qemu-system process")
	}
	return nil
}

func (p *process) Cleanup(ctx context.Context) error {
	if err := os.RemoveAll(p.vmDir); err != nil {
		p.logger.Warn().Err(err).Str("dir", p.vmDir).Msg("failed to clean up vm scratch directory")
		return err
	}
	return nil
}
