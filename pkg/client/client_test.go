package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/api"
	"github.com/cuemby/fleetd/pkg/manager"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/vmm/mock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// startTestWorker wires a manager over a mock backend, registers the
// RPC adapter on a grpc.Server bound to an ephemeral TCP port, and
// returns a client already dialed against it.
func startTestWorker(t *testing.T) *Client {
	t.Helper()

	backend := mock.New()
	m := manager.New(backend, manager.Options{WorkerID: "worker-1", Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(cancel)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	api.RegisterWorkerServer(srv, api.NewServer(m.Bus(), time.Second, zerolog.Nop()))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &Client{conn: conn, worker: api.NewWorkerClient(conn)}
}

func TestClient_CreateListDeleteCycle(t *testing.T) {
	c := startTestWorker(t)
	ctx := context.Background()

	spec, err := types.NewVmSpec("/store/a-system", "/store/b-kernel/bzImage", "/store/c-initrd/initrd",
		"/store/d-disk/nixos.raw", "console=ttyS0 root=/dev/vda rw init=/sbin/init", 2, 1024, nil)
	require.NoError(t, err)

	id, err := c.CreateVm(ctx, spec)
	require.NoError(t, err)
	require.NotEqual(t, types.VmID{}, id)

	vms, err := c.ListVms(ctx)
	require.NoError(t, err)
	require.Len(t, vms, 1)
	require.Equal(t, id, vms[0].ID)

	worker, err := c.Read(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, worker.RunningVms)

	require.NoError(t, c.DeleteVm(ctx, id))

	vms, err = c.ListVms(ctx)
	require.NoError(t, err)
	require.Empty(t, vms)
}

func TestClient_DeleteVmUnknownIdReturnsError(t *testing.T) {
	c := startTestWorker(t)

	id, err := types.NewVmID()
	require.NoError(t, err)

	err = c.DeleteVm(context.Background(), id)
	require.Error(t, err)
}
