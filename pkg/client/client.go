package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fleetd/pkg/api"
	"github.com/cuemby/fleetd/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a thin CLI-facing wrapper around the worker's RPC
// adapter: dial once, then call CreateVm/DeleteVm/ListVms/Read.
type Client struct {
	conn   *grpc.ClientConn
	worker api.WorkerClient
}

// NewClient dials the worker's TCP listener at addr. The worker
// accepts loopback/firewalled connections directly; it does not
// terminate TLS itself (see DESIGN.md).
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial worker at %s: %w", addr, err)
	}
	return &Client{conn: conn, worker: api.NewWorkerClient(conn)}, nil
}

// NewUnixClient dials the worker's read-only Unix socket listener at
// socketPath.
func NewUnixClient(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient("unix:"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial worker socket at %s: %w", socketPath, err)
	}
	return &Client{conn: conn, worker: api.NewWorkerClient(conn)}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Read fetches the worker's own status.
func (c *Client) Read(ctx context.Context) (types.WorkerInfo, error) {
	resp, err := c.worker.Read(ctx, &api.ReadRequest{})
	if err != nil {
		return types.WorkerInfo{}, fmt.Errorf("read worker status: %w", err)
	}
	return resp.Worker, nil
}

// ListVms fetches every VM the worker currently holds, in creation
// order.
func (c *Client) ListVms(ctx context.Context) ([]types.VmInfo, error) {
	resp, err := c.worker.ListVms(ctx, &api.ListVmsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list vms: %w", err)
	}
	return resp.Vms, nil
}

// CreateVm submits spec and returns the identifier the worker
// assigned.
func (c *Client) CreateVm(ctx context.Context, spec *types.VmSpec) (types.VmID, error) {
	resp, err := c.worker.CreateVm(ctx, &api.CreateVmRequest{Spec: *spec})
	if err != nil {
		return types.VmID{}, fmt.Errorf("create vm: %w", err)
	}
	id, err := types.ParseVmID(resp.Id)
	if err != nil {
		return types.VmID{}, fmt.Errorf("create vm: worker returned malformed id %q: %w", resp.Id, err)
	}
	return id, nil
}

// DeleteVm tears down the VM identified by id.
func (c *Client) DeleteVm(ctx context.Context, id types.VmID) error {
	if _, err := c.worker.DeleteVm(ctx, &api.DeleteVmRequest{Id: id.String()}); err != nil {
		return fmt.Errorf("delete vm %s: %w", id, err)
	}
	return nil
}

// DefaultDialTimeout bounds how long CLI commands wait to establish a
// connection before giving up.
const DefaultDialTimeout = 5 * time.Second
