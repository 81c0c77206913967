package qemu

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/vmm"
)

const defaultReadyTimeout = 5 * time.Second

// client is the QMP-backed Vmm implementation.
type client struct {
	proc *process
}

func (c *client) Create(ctx context.Context, cfg vmm.Config) error {
	qcfg, ok := cfg.(*Config)
	if !ok {
		return fmt.Errorf("%w: qemu client given foreign config type %T", vmm.ErrProtocol, cfg)
	}
	return c.proc.relaunch(ctx, qcfg.args(), defaultReadyTimeout)
}

// Boot resumes the VM from the paused-at-reset state Create's relaunch
// leaves it in, via QMP's "cont" command.
func (c *client) Boot(ctx context.Context) error {
	return c.command(ctx, `{"execute":"cont"}`)
}

func (c *client) Shutdown(ctx context.Context) error {
	return c.command(ctx, `{"execute":"system_powerdown"}`)
}

func (c *client) Delete(ctx context.Context) error {
	return c.command(ctx, `{"execute":"quit"}`)
}

func (c *client) Pause(ctx context.Context) error {
	return c.command(ctx, `{"execute":"stop"}`)
}

func (c *client) Resume(ctx context.Context) error {
	return c.command(ctx, `{"execute":"cont"}`)
}

func (c *client) Ping(ctx context.Context) error {
	return c.command(ctx, `{"execute":"query-status"}`)
}

func (c *client) command(ctx context.Context, cmd string) error {
	mon := c.proc.currentMonitor()
	if mon == nil {
		return fmt.Errorf("%w: qemu monitor not connected", vmm.ErrTransport)
	}
	if _, err := mon.Run([]byte(cmd)); err != nil {
		return fmt.Errorf("%w: %v", vmm.ErrTransport, err)
	}
	return nil
}

type statusResponse struct {
	Return struct {
		Running    bool   `json:"running"`
		Status     string `json:"status"`
		SingleStep bool   `json:"singlestep"`
	} `json:"return"`
}

func (c *client) Info(ctx context.Context) (types.VmInfo, error) {
	mon := c.proc.currentMonitor()
	if mon == nil {
		return types.VmInfo{}, fmt.Errorf("%w: qemu monitor not connected", vmm.ErrTransport)
	}
	raw, err := mon.Run([]byte(`{"execute":"query-status"}`))
	if err != nil {
		return types.VmInfo{}, fmt.Errorf("%w: %v", vmm.ErrTransport, err)
	}

	var resp statusResponse
	if err := decodeJSON(raw, &resp); err != nil {
		return types.VmInfo{}, fmt.Errorf("%w: decode query-status: %v", vmm.ErrProtocol, err)
	}

	state := types.VmStateFailed
	switch {
	case resp.Return.Running:
		state = types.VmStateRunning
	case resp.Return.Status == "paused":
		state = types.VmStatePaused
	case resp.Return.Status == "shutdown":
		state = types.VmStateStopping
	}
	return types.VmInfo{State: state}, nil
}

func (c *client) Counters(ctx context.Context) (vmm.Counters, error) {
	// QEMU exposes per-NIC counters via "query-rx-filter"/netdev
	// statistics rather than a single aggregate call; the demo
	// backend does not implement that mapping and degrades to a
	// zero-valued record, matching the manager's documented
	// degrade-on-query-failure behavior for list_vms (SPEC_FULL §4.3).
	return vmm.Counters{}, nil
}

func decodeJSON(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
