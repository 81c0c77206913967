// Package mock provides an in-memory VmmBackend used by the manager's
// property tests. It tracks how many times each trait method was
// invoked and lets a test inject a failure at any one of them,
// exercising every cleanup path in the manager's Create pipeline
// without touching a real hypervisor.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/vmm"
)

// Method names used as keys into the failure injector and exposed on
// the call tracker's snapshot.
const (
	MethodPrepare     = "prepare"
	MethodSpawn       = "spawn"
	MethodBuildConfig = "build_config"
	MethodCreate      = "create"
	MethodBoot        = "boot"
	MethodShutdown    = "shutdown"
	MethodDelete      = "delete"
	MethodInfo        = "info"
	MethodCounters    = "counters"
	MethodPause       = "pause"
	MethodResume      = "resume"
	MethodPing        = "ping"
	MethodKill        = "kill"
	MethodCleanup     = "cleanup"
)

// Calls is an atomic per-method invocation counter, safe for
// concurrent use across goroutines.
type Calls struct {
	mu     sync.RWMutex
	counts map[string]*atomic.Int64
}

func newCalls() *Calls {
	c := &Calls{counts: make(map[string]*atomic.Int64)}
	for _, m := range []string{
		MethodPrepare, MethodSpawn, MethodBuildConfig, MethodCreate, MethodBoot,
		MethodShutdown, MethodDelete, MethodInfo, MethodCounters, MethodPause,
		MethodResume, MethodPing, MethodKill, MethodCleanup,
	} {
		c.counts[m] = &atomic.Int64{}
	}
	return c
}

func (c *Calls) record(method string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.counts[method].Add(1)
}

// Count returns the number of times method was invoked so far.
func (c *Calls) Count(method string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctr, ok := c.counts[method]
	if !ok {
		return 0
	}
	return ctr.Load()
}

// Failures is the per-method failure injector. Setting Set(method, err)
// makes the next (and every subsequent) invocation of that method
// return err instead of succeeding.
type Failures struct {
	mu   sync.RWMutex
	errs map[string]error
}

func newFailures() *Failures {
	return &Failures{errs: make(map[string]error)}
}

// Set configures method to fail with err. Passing a nil err clears
// the injected failure.
func (f *Failures) Set(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

func (f *Failures) check(method string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.errs[method]
}

// Backend is an in-memory VmmBackend. Safe for concurrent use; the
// zero value is not ready to use, construct with New.
type Backend struct {
	Calls    *Calls
	Failures *Failures

	mu    sync.Mutex
	procs map[types.VmID]*process
}

// New constructs an empty mock backend.
func New() *Backend {
	return &Backend{
		Calls:    newCalls(),
		Failures: newFailures(),
		procs:    make(map[types.VmID]*process),
	}
}

// config is the mock's trivial Config representation: it just carries
// the spec through unchanged, so assertions in tests can inspect
// exactly what the manager built.
type config struct {
	spec *types.VmSpec
}

func (b *Backend) Prepare(ctx context.Context, spec *types.VmSpec) error {
	b.Calls.record(MethodPrepare)
	return b.Failures.check(MethodPrepare)
}

func (b *Backend) Spawn(ctx context.Context, id types.VmID) (vmm.Vmm, vmm.VmmProcess, string, error) {
	b.Calls.record(MethodSpawn)
	if err := b.Failures.check(MethodSpawn); err != nil {
		return nil, nil, "", err
	}

	socketPath := fmt.Sprintf("mock:///vms/%s/control.sock", id.String())
	proc := &process{id: id, backend: b}

	b.mu.Lock()
	b.procs[id] = proc
	b.mu.Unlock()

	client := &client{id: id, backend: b, socketPath: socketPath}
	return client, proc, socketPath, nil
}

func (b *Backend) BuildConfig(spec *types.VmSpec) (vmm.Config, error) {
	b.Calls.record(MethodBuildConfig)
	if err := b.Failures.check(MethodBuildConfig); err != nil {
		return nil, err
	}
	return &config{spec: spec}, nil
}

// client is the mock Vmm: it holds just enough state to answer Info
// and Counters plausibly, and otherwise only records call counts.
type client struct {
	id         types.VmID
	backend    *Backend
	socketPath string

	mu    sync.Mutex
	state types.VmState
}

func (c *client) Create(ctx context.Context, cfg vmm.Config) error {
	c.backend.Calls.record(MethodCreate)
	if err := c.backend.Failures.check(MethodCreate); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = types.VmStateCreating
	c.mu.Unlock()
	return nil
}

func (c *client) Boot(ctx context.Context) error {
	c.backend.Calls.record(MethodBoot)
	if err := c.backend.Failures.check(MethodBoot); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = types.VmStateRunning
	c.mu.Unlock()
	return nil
}

func (c *client) Shutdown(ctx context.Context) error {
	c.backend.Calls.record(MethodShutdown)
	if err := c.backend.Failures.check(MethodShutdown); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = types.VmStateStopping
	c.mu.Unlock()
	return nil
}

func (c *client) Delete(ctx context.Context) error {
	c.backend.Calls.record(MethodDelete)
	return c.backend.Failures.check(MethodDelete)
}

func (c *client) Info(ctx context.Context) (types.VmInfo, error) {
	c.backend.Calls.record(MethodInfo)
	if err := c.backend.Failures.check(MethodInfo); err != nil {
		return types.VmInfo{}, err
	}
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	return types.VmInfo{ID: c.id, State: state}, nil
}

func (c *client) Counters(ctx context.Context) (vmm.Counters, error) {
	c.backend.Calls.record(MethodCounters)
	if err := c.backend.Failures.check(MethodCounters); err != nil {
		return vmm.Counters{}, err
	}
	return vmm.Counters{}, nil
}

func (c *client) Pause(ctx context.Context) error {
	c.backend.Calls.record(MethodPause)
	if err := c.backend.Failures.check(MethodPause); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = types.VmStatePaused
	c.mu.Unlock()
	return nil
}

func (c *client) Resume(ctx context.Context) error {
	c.backend.Calls.record(MethodResume)
	if err := c.backend.Failures.check(MethodResume); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = types.VmStateRunning
	c.mu.Unlock()
	return nil
}

func (c *client) Ping(ctx context.Context) error {
	c.backend.Calls.record(MethodPing)
	return c.backend.Failures.check(MethodPing)
}

// process is the mock VmmProcess: no real subprocess exists, so kill
// and cleanup only record their invocation and forget the id.
type process struct {
	id      types.VmID
	backend *Backend
}

func (p *process) Kill(ctx context.Context) error {
	p.backend.Calls.record(MethodKill)
	return p.backend.Failures.check(MethodKill)
}

func (p *process) Cleanup(ctx context.Context) error {
	p.backend.Calls.record(MethodCleanup)
	err := p.backend.Failures.check(MethodCleanup)
	p.backend.mu.Lock()
	delete(p.backend.procs, p.id)
	p.backend.mu.Unlock()
	return err
}

// Failed always reports false: there is no real subprocess for the
// mock to observe exiting unexpectedly.
func (p *process) Failed() bool {
	return false
}
