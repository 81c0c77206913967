package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/fleetd/pkg/bus"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/vmm"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
)

// ErrVmNotFound is returned by Delete when the identifier is not
// present in the handle map.
var ErrVmNotFound = errors.New("manager: vm not found")

// handle is the manager's internal record of one live VM. Exclusively
// owned by the manager goroutine; never shared with another.
type handle struct {
	id          types.VmID
	spec        *types.VmSpec
	desiredHash digest.Digest
	client      vmm.Vmm
	process     vmm.VmmProcess
	socket      string
	state       types.VmState
}

// specDigest content-addresses spec as the sha256 digest of its JSON
// encoding, so desiredHash is comparable across workers observing the
// same desired state.
func specDigest(spec *types.VmSpec) (digest.Digest, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("hash spec: %w", err)
	}
	return digest.FromBytes(data), nil
}

// Options configures a Manager.
type Options struct {
	WorkerID       string
	BusCapacity    int
	CommandTimeout time.Duration
	Logger         zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.WorkerID == "" {
		o.WorkerID = "unknown"
	}
	if o.BusCapacity <= 0 {
		o.BusCapacity = 32
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 30 * time.Second
	}
	return o
}

// Manager owns the authoritative handle map and drives backend, which
// may be the cloud-hypervisor backend, the QEMU backend, or the mock.
type Manager struct {
	backend vmm.VmmBackend
	bus     *bus.Bus
	opts    Options

	// handles and order are mutated exclusively inside Run; no other
	// goroutine ever touches them.
	handles map[types.VmID]*handle
	order   []types.VmID

	generation uint64
	done       chan struct{}
}

// New constructs a manager bound to backend. Call Run in its own
// goroutine to start processing commands.
func New(backend vmm.VmmBackend, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		backend: backend,
		bus:     bus.New(opts.BusCapacity),
		opts:    opts,
		handles: make(map[types.VmID]*handle),
		done:    make(chan struct{}),
	}
}

// Bus returns the command bus callers use to reach this manager.
func (m *Manager) Bus() *bus.Bus {
	return m.bus
}

// Run processes commands until ctx is cancelled, then tears down every
// remaining VM and closes the bus. It is the manager's one goroutine;
// call it exactly once.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	defer m.bus.Close()

	for {
		select {
		case msg, ok := <-m.bus.Messages():
			if !ok {
				return
			}
			resp, err := m.dispatch(ctx, msg.Payload)
			msg.Reply(resp, err)
		case <-ctx.Done():
			m.shutdownAll()
			return
		}
	}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) dispatch(ctx context.Context, payload bus.Payload) (bus.Response, error) {
	cctx, cancel := context.WithTimeout(ctx, m.opts.CommandTimeout)
	defer cancel()

	switch p := payload.(type) {
	case bus.Create:
		id, err := m.handleCreate(cctx, p.Spec)
		return bus.Response{VmID: id}, err
	case bus.Delete:
		return bus.Response{}, m.handleDelete(cctx, p.ID)
	case bus.List:
		return bus.Response{VmInfos: m.handleList(cctx)}, nil
	case bus.GetWorkerStatus:
		return bus.Response{WorkerInfo: m.handleGetWorkerStatus()}, nil
	default:
		return bus.Response{}, fmt.Errorf("manager: unexpected payload type %T", payload)
	}
}

// handleCreate implements the manager's create path: on any failure
// from Prepare through Boot, every resource acquired so far is rolled
// back and no handle enters the map.
func (m *Manager) handleCreate(ctx context.Context, spec *types.VmSpec) (types.VmID, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CreateDuration)

	id, err := types.NewVmID()
	if err != nil {
		return types.VmID{}, err
	}

	desiredHash, err := specDigest(spec)
	if err != nil {
		return types.VmID{}, err
	}

	if err := m.backend.Prepare(ctx, spec); err != nil {
		m.record("prepare", err)
		return types.VmID{}, fmt.Errorf("prepare: %w", err)
	}
	m.record("prepare", nil)

	client, proc, socketPath, err := m.backend.Spawn(ctx, id)
	if err != nil {
		m.record("spawn", err)
		return types.VmID{}, fmt.Errorf("spawn: %w", err)
	}
	m.record("spawn", nil)

	cfg, err := m.backend.BuildConfig(spec)
	if err != nil {
		m.record("build_config", err)
		m.rollback(ctx, proc)
		return types.VmID{}, fmt.Errorf("build_config: %w", err)
	}
	m.record("build_config", nil)

	if err := client.Create(ctx, cfg); err != nil {
		m.record("create", err)
		m.rollback(ctx, proc)
		return types.VmID{}, fmt.Errorf("create: %w", err)
	}
	m.record("create", nil)

	if err := client.Boot(ctx); err != nil {
		m.record("boot", err)
		m.rollback(ctx, proc)
		return types.VmID{}, fmt.Errorf("boot: %w", err)
	}
	m.record("boot", nil)

	h := &handle{id: id, spec: spec, desiredHash: desiredHash, client: client, process: proc, socket: socketPath, state: types.VmStateRunning}
	m.handles[id] = h
	m.order = append(m.order, id)

	vmLogger := log.WithVmID(m.opts.Logger, id.String())
	vmLogger.Info().Msg("vm created")
	return id, nil
}

// rollback kills and cleans up proc. Errors are logged, not returned:
// the caller already has the primary error to report, and a rollback
// failure must never mask it.
func (m *Manager) rollback(ctx context.Context, proc vmm.VmmProcess) {
	if err := proc.Kill(ctx); err != nil {
		m.opts.Logger.Warn().Err(err).Msg("rollback: kill failed")
	}
	if err := proc.Cleanup(ctx); err != nil {
		m.opts.Logger.Warn().Err(err).Msg("rollback: cleanup failed")
	}
}

func (m *Manager) record(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.BackendCallsTotal.WithLabelValues(method, outcome).Inc()
}

// handleDelete removes the handle from the map up front; every later
// cleanup step runs regardless of earlier failures, and only the
// first failure encountered is reported.
func (m *Manager) handleDelete(ctx context.Context, id types.VmID) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DeleteDuration)

	h, ok := m.handles[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVmNotFound, id)
	}
	delete(m.handles, id)
	m.removeFromOrder(id)

	var firstErr error
	record := func(step string, err error) {
		m.record(step, err)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step, err)
		}
	}

	record("shutdown", h.client.Shutdown(ctx))
	record("delete", h.client.Delete(ctx))
	record("kill", h.process.Kill(ctx))
	record("cleanup", h.process.Cleanup(ctx))

	vmLogger := log.WithVmID(m.opts.Logger, id.String())
	vmLogger.Info().Err(firstErr).Msg("vm deleted")
	return firstErr
}

func (m *Manager) removeFromOrder(id types.VmID) {
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// handleList degrades a per-entry Info/Counters query failure to a
// zeroed metrics record rather than failing the whole list.
func (m *Manager) handleList(ctx context.Context) []types.VmInfo {
	infos := make([]types.VmInfo, 0, len(m.order))
	for _, id := range m.order {
		infos = append(infos, m.observe(ctx, m.handles[id]))
	}
	return infos
}

func (m *Manager) observe(ctx context.Context, h *handle) types.VmInfo {
	// observedHash mirrors desiredHash: the worker has no independent
	// channel for observing a running VM's content past the spec it
	// was created from.
	info := types.VmInfo{
		ID:           h.id,
		WorkerID:     m.opts.WorkerID,
		State:        h.state,
		DesiredHash:  h.desiredHash.String(),
		ObservedHash: h.desiredHash.String(),
	}

	// A backend's proactive liveness watch (e.g. the cloud-hypervisor
	// backend's fsnotify watch on its control socket) converges here
	// with the lazy, poll-based detection below onto the same Failed
	// state: if the process is already known gone, querying its dead
	// socket would only rediscover the same fact more slowly.
	if h.process.Failed() {
		h.state = types.VmStateFailed
		info.State = types.VmStateFailed
		info.FailureReason = "backend process is no longer running"
		return info
	}

	if live, err := h.client.Info(ctx); err != nil {
		vmLogger := log.WithVmID(m.opts.Logger, h.id.String())
		vmLogger.Debug().Err(err).Msg("info query degraded")
	} else {
		info.State = live.State
		h.state = live.State
	}

	if counters, err := h.client.Counters(ctx); err != nil {
		vmLogger := log.WithVmID(m.opts.Logger, h.id.String())
		vmLogger.Debug().Err(err).Msg("counters query degraded")
	} else {
		info.Metrics.NetworkRxBytes = counters.NetworkRxBytes
		info.Metrics.NetworkTxBytes = counters.NetworkTxBytes
	}

	return info
}

func (m *Manager) handleGetWorkerStatus() types.WorkerInfo {
	return types.WorkerInfo{
		ID:         m.opts.WorkerID,
		Healthy:    true,
		Generation: m.generation,
		RunningVms: uint32(len(m.handles)),
	}
}

// shutdownAll runs the same cleanup Delete performs for every
// remaining VM, best-effort, as the last step of manager shutdown.
func (m *Manager) shutdownAll() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CommandTimeout)
	defer cancel()

	for _, id := range append([]types.VmID{}, m.order...) {
		if err := m.handleDelete(ctx, id); err != nil {
			vmLogger := log.WithVmID(m.opts.Logger, id.String())
			vmLogger.Warn().Err(err).Msg("shutdown cleanup failed")
		}
	}
}
