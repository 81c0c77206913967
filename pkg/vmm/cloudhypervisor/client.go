package cloudhypervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/vmm"
)

const apiBase = "http://localhost/api/v1"

// unixSocketClient returns an *http.Client whose transport dials a
// single fixed unix domain socket regardless of the host/port in the
// request URL, matching the documented way of reaching
// cloud-hypervisor's control API.
func unixSocketClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 30 * time.Second,
	}
}

// client is the per-VM Vmm implementation: a thin REST client over
// the VM's dedicated control socket.
type client struct {
	http       *http.Client
	socketPath string
}

func newClient(socketPath string) *client {
	return &client{http: unixSocketClient(socketPath), socketPath: socketPath}
}

func (c *client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request body: %v", vmm.ErrProtocol, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", vmm.ErrTransport, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vmm.ErrTransport, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", vmm.ErrProtocol, method, path, resp.StatusCode, msg)
	}
	return resp, nil
}

func (c *client) Create(ctx context.Context, cfg vmm.Config) error {
	clh, ok := cfg.(*CLHConfig)
	if !ok {
		return fmt.Errorf("%w: cloudhypervisor client given foreign config type %T", vmm.ErrProtocol, cfg)
	}
	resp, err := c.do(ctx, http.MethodPut, "/vm.create", clh)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *client) Boot(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPut, "/vm.boot", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *client) Shutdown(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPut, "/vm.shutdown", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *client) Delete(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPut, "/vm.delete", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *client) Pause(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPut, "/vm.pause", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *client) Resume(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPut, "/vm.resume", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/vmm.ping", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// vmInfoResponse is the subset of the hypervisor's vm.info payload
// this backend cares about.
type vmInfoResponse struct {
	State string `json:"state"`
}

func (c *client) Info(ctx context.Context) (types.VmInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/vm.info", nil)
	if err != nil {
		return types.VmInfo{}, err
	}
	defer resp.Body.Close()

	var body vmInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.VmInfo{}, fmt.Errorf("%w: decode vm.info: %v", vmm.ErrProtocol, err)
	}

	return types.VmInfo{State: mapState(body.State)}, nil
}

func mapState(clhState string) types.VmState {
	switch clhState {
	case "Running":
		return types.VmStateRunning
	case "Paused":
		return types.VmStatePaused
	case "Shutdown", "Shutting Down":
		return types.VmStateStopping
	default:
		return types.VmStateFailed
	}
}

type vmCountersResponse map[string]struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

func (c *client) Counters(ctx context.Context) (vmm.Counters, error) {
	resp, err := c.do(ctx, http.MethodGet, "/vm.counters", nil)
	if err != nil {
		return vmm.Counters{}, err
	}
	defer resp.Body.Close()

	var body vmCountersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return vmm.Counters{}, fmt.Errorf("%w: decode vm.counters: %v", vmm.ErrProtocol, err)
	}

	var totals vmm.Counters
	for _, dev := range body {
		totals.NetworkRxBytes += dev.RxBytes
		totals.NetworkTxBytes += dev.TxBytes
	}
	return totals, nil
}
