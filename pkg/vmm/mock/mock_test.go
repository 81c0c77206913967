package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/fleetd/pkg/types"
	"github.com/stretchr/testify/require"
)

func testSpec(t *testing.T) *types.VmSpec {
	spec, err := types.NewVmSpec("/store/a-system", "/store/b-kernel/bzImage",
		"/store/c-initrd/initrd", "/store/d-disk/nixos.raw", "console=ttyS0", 1, 256, nil)
	require.NoError(t, err)
	return spec
}

func TestBackend_FullLifecycleRecordsCalls(t *testing.T) {
	b := New()
	id, err := types.NewVmID()
	require.NoError(t, err)
	ctx := context.Background()
	spec := testSpec(t)

	require.NoError(t, b.Prepare(ctx, spec))
	client, proc, sock, err := b.Spawn(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, sock)

	cfg, err := b.BuildConfig(spec)
	require.NoError(t, err)
	require.NoError(t, client.Create(ctx, cfg))
	require.NoError(t, client.Boot(ctx))

	info, err := client.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, types.VmStateRunning, info.State)

	require.NoError(t, client.Shutdown(ctx))
	require.NoError(t, client.Delete(ctx))
	require.NoError(t, proc.Kill(ctx))
	require.NoError(t, proc.Cleanup(ctx))

	require.EqualValues(t, 1, b.Calls.Count(MethodPrepare))
	require.EqualValues(t, 1, b.Calls.Count(MethodSpawn))
	require.EqualValues(t, 1, b.Calls.Count(MethodBuildConfig))
	require.EqualValues(t, 1, b.Calls.Count(MethodCreate))
	require.EqualValues(t, 1, b.Calls.Count(MethodBoot))
	require.EqualValues(t, 1, b.Calls.Count(MethodShutdown))
	require.EqualValues(t, 1, b.Calls.Count(MethodDelete))
	require.EqualValues(t, 1, b.Calls.Count(MethodKill))
	require.EqualValues(t, 1, b.Calls.Count(MethodCleanup))
}

func TestBackend_FailureInjectionStopsAtInjectedMethod(t *testing.T) {
	b := New()
	injected := errors.New("synthetic spawn failure")
	b.Failures.Set(MethodSpawn, injected)

	ctx := context.Background()
	id, err := types.NewVmID()
	require.NoError(t, err)

	_, _, _, err = b.Spawn(ctx, id)
	require.ErrorIs(t, err, injected)
	require.EqualValues(t, 0, b.Calls.Count(MethodBuildConfig))
	require.EqualValues(t, 0, b.Calls.Count(MethodCreate))
}

func TestFailures_ClearingRestoresSuccess(t *testing.T) {
	b := New()
	failure := errors.New("boom")
	b.Failures.Set(MethodPing, failure)

	ctx := context.Background()
	id, err := types.NewVmID()
	require.NoError(t, err)
	client, _, _, err := b.Spawn(ctx, id)
	require.NoError(t, err)

	require.ErrorIs(t, client.Ping(ctx), failure)

	b.Failures.Set(MethodPing, nil)
	require.NoError(t, client.Ping(ctx))
}
