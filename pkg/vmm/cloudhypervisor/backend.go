/*
Package cloudhypervisor is the reference vmm.VmmBackend: it spawns one
cloud-hypervisor subprocess per VM and drives its per-VM control
socket over a small REST API.

	Spawn(id) ──► exec.Command(binary, --api-socket <scratch>/<id>/control.sock)
	           └► poll socket path, 10ms → doubling → capped 500ms
	           └► return (client, process, socketPath)

	BuildConfig(spec) ──► CLHConfig{payload, cpus, memory, disks, net, rng, console, vsock}

network_allowed_domains never reaches this backend's config: it is a
declarative input to host-side firewall configuration, established
out-of-band (§1 "host network setup").
*/
package cloudhypervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/vmm"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Options configures the backend at construction time.
type Options struct {
	// BinaryPath overrides the cloud-hypervisor binary lookup. If
	// empty, the backend resolves "cloud-hypervisor" on PATH.
	BinaryPath string
	// ScratchDir is the per-worker scratch root; each VM gets
	// ScratchDir/<id>/ for its control socket.
	ScratchDir string
	// SocketPollInitial is the first backoff interval when polling for
	// the control socket to appear. Defaults to 10ms.
	SocketPollInitial time.Duration
	// SocketPollMax caps the backoff interval. Defaults to 500ms.
	SocketPollMax time.Duration
	// SocketReadyTimeout bounds the total time Spawn waits for the
	// socket. Defaults to 5s.
	SocketReadyTimeout time.Duration
	// Logger receives diagnostic events; defaults to a disabled logger.
	Logger zerolog.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.SocketPollInitial == 0 {
		out.SocketPollInitial = 10 * time.Millisecond
	}
	if out.SocketPollMax == 0 {
		out.SocketPollMax = 500 * time.Millisecond
	}
	if out.SocketReadyTimeout == 0 {
		out.SocketReadyTimeout = 5 * time.Second
	}
	return out
}

// Backend is the reference cloud-hypervisor VmmBackend.
type Backend struct {
	binaryPath string
	opts       Options
}

// New resolves the cloud-hypervisor binary and returns a ready backend.
// Resolution failure is returned immediately so the worker binary can
// fail fast at startup per the unrecoverable-startup-failure exit
// code in §6.
func New(opts Options) (*Backend, error) {
	opts = opts.withDefaults()

	bin := opts.BinaryPath
	if bin == "" {
		resolved, err := exec.LookPath("cloud-hypervisor")
		if err != nil {
			return nil, fmt.Errorf("locate cloud-hypervisor binary: %w", err)
		}
		bin = resolved
	} else if _, err := os.Stat(bin); err != nil {
		return nil, fmt.Errorf("cloud-hypervisor binary %q: %w", bin, err)
	}

	if opts.ScratchDir == "" {
		return nil, fmt.Errorf("cloudhypervisor backend requires a scratch directory")
	}
	if err := os.MkdirAll(opts.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch directory %q: %w", opts.ScratchDir, err)
	}

	return &Backend{binaryPath: bin, opts: opts}, nil
}

func (b *Backend) vmDir(id types.VmID) string {
	return filepath.Join(b.opts.ScratchDir, id.String())
}

func (b *Backend) socketPath(id types.VmID) string {
	return filepath.Join(b.vmDir(id), "control.sock")
}

// Spawn launches one cloud-hypervisor subprocess bound to a fresh
// per-VM control socket and waits for it to become ready.
func (b *Backend) Spawn(ctx context.Context, id types.VmID) (vmm.Vmm, vmm.VmmProcess, string, error) {
	vmDir := b.vmDir(id)
	if err := os.MkdirAll(vmDir, 0o755); err != nil {
		return nil, nil, "", fmt.Errorf("create vm scratch dir: %w", err)
	}
	sockPath := b.socketPath(id)

	// Not exec.CommandContext: ctx is the Create command's context,
	// which ends when the command returns, while the subprocess must
	// live until Kill.
	cmd := exec.Command(b.binaryPath, "--api-socket", sockPath)
	if err := cmd.Start(); err != nil {
		return nil, nil, "", fmt.Errorf("start cloud-hypervisor: %w", err)
	}

	if err := waitForSocket(ctx, sockPath, b.opts.SocketPollInitial, b.opts.SocketPollMax, b.opts.SocketReadyTimeout); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return nil, nil, "", err
	}

	proc := &process{cmd: cmd, socketPath: sockPath, vmDir: vmDir, logger: b.opts.Logger}
	watchLiveness(proc, b.opts.Logger)

	return newClient(sockPath), proc, sockPath, nil
}

// waitForSocket polls for sockPath's existence with exponential
// backoff starting at initial, doubling each attempt, capped at max,
// until deadline expires.
func waitForSocket(ctx context.Context, sockPath string, initial, max, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	backoff := initial
	for {
		if _, err := os.Stat(sockPath); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", vmm.ErrSpawnTimeout, sockPath)
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > max {
			backoff = max
		}
	}
}

// watchLiveness starts a best-effort fsnotify watch on the VM's
// control socket and flags the process as failed the moment the
// socket disappears out from under it, rather than waiting for the
// next list_vms to notice lazily via Info. Resolves the §9 open
// question in favor of proactive detection when fsnotify is
// available; failure to start a watch is not fatal to the VM.
func watchLiveness(p *process, logger zerolog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug().Err(err).Msg("liveness watch unavailable")
		return
	}
	if err := watcher.Add(filepath.Dir(p.socketPath)); err != nil {
		logger.Debug().Err(err).Msg("liveness watch add failed")
		_ = watcher.Close()
		return
	}

	p.watcher = watcher
	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == p.socketPath && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					p.mu.Lock()
					p.failed = true
					p.mu.Unlock()
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Prepare verifies the specification's disk image is present and is a
// non-empty regular file. Kernel/initrd/toplevel are assumed already materialized
// by the build system; sniffing them is left to the extension point
// described in SPEC_FULL.md §4.5 for a remote-cache-backed prepare.
func (b *Backend) Prepare(ctx context.Context, spec *types.VmSpec) error {
	return sanityCheckDiskImage(spec.DiskImagePath, b.opts.Logger)
}

// BuildConfig deterministically maps spec onto the cloud-hypervisor
// config schema.
func (b *Backend) BuildConfig(spec *types.VmSpec) (vmm.Config, error) {
	return buildConfig(spec), nil
}
