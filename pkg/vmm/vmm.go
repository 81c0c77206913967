/*
Package vmm defines the backend abstraction the VM manager drives: a
per-VM client, a subprocess handle, and a factory that ties the two
together. Concrete backends live in subpackages (cloudhypervisor,
qemu, mock); the manager never imports a concrete backend directly.

	┌────────────────────── VmmBackend (factory) ───────────────────────┐
	│  prepare(spec) → pull/verify content-addressed artifacts          │
	│  spawn(id)     → subprocess + control socket, poll for readiness  │
	│  build_config  → VmSpec paths/sizing → hypervisor config record   │
	└───────────────┬─────────────────────────────┬─────────────────────┘
	                │                              │
	       ┌────────▼────────┐           ┌────────▼────────┐
	       │   VmmProcess    │           │       Vmm       │
	       │  kill / cleanup │           │ create / boot   │
	       │                 │           │ shutdown/delete │
	       │                 │           │ info / counters │
	       │                 │           │ pause / resume  │
	       │                 │           │ ping            │
	       └─────────────────┘           └─────────────────┘

All three interfaces are implemented, generically, by every backend;
the manager (pkg/manager) is parameterized over VmmBackend and does
not know which concrete implementation it is driving.
*/
package vmm

import (
	"context"

	"github.com/cuemby/fleetd/pkg/types"
)

// Config is the backend-specific transformation of a VmSpec's
// explicit paths and sizing into the representation a concrete
// hypervisor expects. Backends define their own concrete config type
// and pass it through this interface unopened; only the backend that
// produced a Config knows how to consume it.
type Config interface{}

// Vmm is the per-VM control-plane client: one instance corresponds to
// exactly one VM and exactly one control socket.
type Vmm interface {
	Create(ctx context.Context, cfg Config) error
	Boot(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Delete(ctx context.Context) error
	Info(ctx context.Context) (types.VmInfo, error)
	Counters(ctx context.Context) (Counters, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Counters is the cumulative I/O byte counter snapshot a Vmm reports.
type Counters struct {
	NetworkRxBytes uint64
	NetworkTxBytes uint64
}

// VmmProcess is the subprocess handle a backend's spawn returns
// alongside the Vmm client.
type VmmProcess interface {
	// Kill sends a termination signal and reaps the subprocess. It
	// must be safe to call more than once and on a process that has
	// already exited on its own.
	Kill(ctx context.Context) error
	// Cleanup removes the control socket file and any per-VM scratch
	// state the process left behind. Errors are reported but never
	// prevent the manager from removing its handle map entry.
	Cleanup(ctx context.Context) error
	// Failed reports whether the process has been observed to exit or
	// otherwise stop serving outside of a requested Kill. Backends
	// that cannot detect this proactively (mock, a backend with no
	// liveness watch) always return false; the manager then falls
	// back to lazy detection through Vmm.Info during List.
	Failed() bool
}

// VmmBackend is the factory that ties a VmSpec to a running
// hypervisor subprocess.
type VmmBackend interface {
	// Prepare ensures the specification's store paths are locally
	// available. The default behavior for most backends is a no-op;
	// implementations may pull from a remote content-addressed cache.
	Prepare(ctx context.Context, spec *types.VmSpec) error

	// Spawn launches one hypervisor subprocess for id, waits for its
	// control socket to become ready, and returns a client bound to
	// that socket along with the process handle and the socket path.
	Spawn(ctx context.Context, id types.VmID) (Vmm, VmmProcess, string, error)

	// BuildConfig deterministically transforms spec's explicit paths
	// and sizing into the backend's configuration representation. No
	// path inference: every field is taken verbatim from spec.
	BuildConfig(spec *types.VmSpec) (Config, error)
}
