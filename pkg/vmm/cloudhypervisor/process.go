package cloudhypervisor

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// process is the subprocess handle Spawn returns. Kill is idempotent:
// it is safe to call on a process that has already exited.
type process struct {
	cmd        *exec.Cmd
	socketPath string
	vmDir      string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	mu     sync.Mutex
	failed bool
	killed bool
}

// Failed reports whether the liveness watch observed the control
// socket disappear unexpectedly.
func (p *process) Failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

func (p *process) Kill(ctx context.Context) error {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return nil
	}
	p.killed = true
	p.mu.Unlock()

	if p.watcher != nil {
		_ = p.watcher.Close()
	}

	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		p.logger.Warn().Err(err).Msg("failed to signal cloud-hypervisor process")
	}

	done := make(chan struct{})
	go func() {
		_, _ = p.cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.logger.Warn().Str("socket", p.socketPath).Msg("timed out reaping cloud-hypervisor process")
	}
	return nil
}

// Cleanup removes the control socket and the VM's scratch directory.
// Errors are logged, never returned as fatal: the manager removes its
// handle map entry regardless (§4.5 Cleanup).
func (p *process) Cleanup(ctx context.Context) error {
	if err := os.RemoveAll(p.vmDir); err != nil {
		p.logger.Warn().Err(err).Str("dir", p.vmDir).Msg("failed to clean up vm scratch directory")
		return err
	}
	return nil
}
