package manager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/bus"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/vmm/mock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testSpec(t *testing.T) *types.VmSpec {
	t.Helper()
	spec, err := types.NewVmSpec("toplevel", "/kernel", "/initrd", "/disk.img", "console=ttyS0", 1, 512, nil)
	require.NoError(t, err)
	return spec
}

func startManager(t *testing.T, backend *mock.Backend) (*Manager, context.CancelFunc) {
	t.Helper()
	m := New(backend, Options{WorkerID: "worker-1", Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	return m, cancel
}

func TestManager_CreateSucceedsAndAppearsInList(t *testing.T) {
	backend := mock.New()
	m, cancel := startManager(t, backend)
	defer cancel()

	spec := testSpec(t)
	resp, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
	require.NoError(t, err)
	require.NotEqual(t, "", resp.VmID.String())

	list, err := m.Bus().Request(context.Background(), bus.List{})
	require.NoError(t, err)
	require.Len(t, list.VmInfos, 1)
	require.Equal(t, resp.VmID, list.VmInfos[0].ID)

	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodPrepare))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodSpawn))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodBuildConfig))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodCreate))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodBoot))
}

func TestManager_CreateFailureAtPrepareLeavesNothingToCleanUp(t *testing.T) {
	backend := mock.New()
	backend.Failures.Set(mock.MethodPrepare, errors.New("store path missing"))
	m, cancel := startManager(t, backend)
	defer cancel()

	spec := testSpec(t)
	_, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
	require.Error(t, err)

	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodPrepare))
	require.Equal(t, int64(0), backend.Calls.Count(mock.MethodSpawn))
	require.Equal(t, int64(0), backend.Calls.Count(mock.MethodKill))
	require.Equal(t, int64(0), backend.Calls.Count(mock.MethodCleanup))

	list, err := m.Bus().Request(context.Background(), bus.List{})
	require.NoError(t, err)
	require.Empty(t, list.VmInfos)
}

// Matches spec.md §8 scenario 2: a spawn failure cleans up with
// nothing left to kill, since no process was ever spawned.
func TestManager_CreateFailureAtSpawnHasNothingToKill(t *testing.T) {
	backend := mock.New()
	backend.Failures.Set(mock.MethodSpawn, errors.New("socket never appeared"))
	m, cancel := startManager(t, backend)
	defer cancel()

	spec := testSpec(t)
	_, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
	require.Error(t, err)

	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodPrepare))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodSpawn))
	require.Equal(t, int64(0), backend.Calls.Count(mock.MethodBuildConfig))
	require.Equal(t, int64(0), backend.Calls.Count(mock.MethodCreate))
	require.Equal(t, int64(0), backend.Calls.Count(mock.MethodBoot))
	require.Equal(t, int64(0), backend.Calls.Count(mock.MethodKill))

	list, err := m.Bus().Request(context.Background(), bus.List{})
	require.NoError(t, err)
	require.Empty(t, list.VmInfos)
}

func TestManager_CreateFailureAtBuildConfigRollsBack(t *testing.T) {
	backend := mock.New()
	backend.Failures.Set(mock.MethodBuildConfig, errors.New("bad config"))
	m, cancel := startManager(t, backend)
	defer cancel()

	spec := testSpec(t)
	_, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
	require.Error(t, err)

	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodSpawn))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodBuildConfig))
	require.Equal(t, int64(0), backend.Calls.Count(mock.MethodCreate))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodKill))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodCleanup))

	list, err := m.Bus().Request(context.Background(), bus.List{})
	require.NoError(t, err)
	require.Empty(t, list.VmInfos)
}

func TestManager_CreateFailureAtCreateRollsBack(t *testing.T) {
	backend := mock.New()
	backend.Failures.Set(mock.MethodCreate, errors.New("hypervisor rejected config"))
	m, cancel := startManager(t, backend)
	defer cancel()

	spec := testSpec(t)
	_, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
	require.Error(t, err)

	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodCreate))
	require.Equal(t, int64(0), backend.Calls.Count(mock.MethodBoot))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodKill))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodCleanup))
}

func TestManager_CreateFailureAtBootRollsBack(t *testing.T) {
	backend := mock.New()
	backend.Failures.Set(mock.MethodBoot, errors.New("boot timed out"))
	m, cancel := startManager(t, backend)
	defer cancel()

	spec := testSpec(t)
	_, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
	require.Error(t, err)

	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodBoot))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodKill))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodCleanup))

	list, err := m.Bus().Request(context.Background(), bus.List{})
	require.NoError(t, err)
	require.Empty(t, list.VmInfos)
}

func TestManager_DeleteIsTotalEvenWithPartialFailure(t *testing.T) {
	backend := mock.New()
	m, cancel := startManager(t, backend)
	defer cancel()

	spec := testSpec(t)
	resp, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
	require.NoError(t, err)

	backend.Failures.Set(mock.MethodShutdown, errors.New("shutdown refused"))

	_, err = m.Bus().Request(context.Background(), bus.Delete{ID: resp.VmID})
	require.Error(t, err)
	require.Contains(t, err.Error(), "shutdown refused")

	// every later step still ran despite the shutdown failure
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodDelete))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodKill))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodCleanup))

	list, err := m.Bus().Request(context.Background(), bus.List{})
	require.NoError(t, err)
	require.Empty(t, list.VmInfos, "handle must be removed from the map regardless of cleanup errors")
}

func TestManager_DeleteUnknownIdReturnsNotFound(t *testing.T) {
	backend := mock.New()
	m, cancel := startManager(t, backend)
	defer cancel()

	id, err := types.NewVmID()
	require.NoError(t, err)

	_, err = m.Bus().Request(context.Background(), bus.Delete{ID: id})
	require.ErrorIs(t, err, ErrVmNotFound)
}

func TestManager_ListPreservesInsertionOrder(t *testing.T) {
	backend := mock.New()
	m, cancel := startManager(t, backend)
	defer cancel()

	var ids []types.VmID
	for i := 0; i < 5; i++ {
		spec := testSpec(t)
		resp, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
		require.NoError(t, err)
		ids = append(ids, resp.VmID)
	}

	list, err := m.Bus().Request(context.Background(), bus.List{})
	require.NoError(t, err)
	require.Len(t, list.VmInfos, 5)
	for i, info := range list.VmInfos {
		require.Equal(t, ids[i], info.ID)
	}
}

func TestManager_ListDegradesOnPerEntryQueryFailure(t *testing.T) {
	backend := mock.New()
	m, cancel := startManager(t, backend)
	defer cancel()

	spec := testSpec(t)
	resp, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
	require.NoError(t, err)

	backend.Failures.Set(mock.MethodInfo, errors.New("control socket gone"))

	list, err := m.Bus().Request(context.Background(), bus.List{})
	require.NoError(t, err, "a single entry's query failure must not fail the whole list")
	require.Len(t, list.VmInfos, 1)
	require.Equal(t, resp.VmID, list.VmInfos[0].ID)
}

func TestManager_GetWorkerStatusReportsRunningCount(t *testing.T) {
	backend := mock.New()
	m, cancel := startManager(t, backend)
	defer cancel()

	spec := testSpec(t)
	_, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
	require.NoError(t, err)

	resp, err := m.Bus().Request(context.Background(), bus.GetWorkerStatus{})
	require.NoError(t, err)
	require.Equal(t, "worker-1", resp.WorkerInfo.ID)
	require.Equal(t, uint32(1), resp.WorkerInfo.RunningVms)
	require.True(t, resp.WorkerInfo.Healthy)
}

func TestManager_ShutdownCleansUpAllLiveVmsThenClosesBus(t *testing.T) {
	backend := mock.New()
	m := New(backend, Options{WorkerID: "worker-1", Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	spec := testSpec(t)
	_, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
	require.NoError(t, err)

	cancel()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("manager did not shut down in time")
	}

	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodKill))
	require.Equal(t, int64(1), backend.Calls.Count(mock.MethodCleanup))

	_, err = m.Bus().Request(context.Background(), bus.List{})
	require.ErrorIs(t, err, bus.ErrManagerDown)
}

// Matches spec.md §8 scenario 6: three concurrent create_vm callers
// each get a distinct identifier, and list_vms returns exactly those
// three entries once every send has been observed by the manager.
func TestManager_ConcurrentCreatesAllSucceedWithDistinctIDs(t *testing.T) {
	backend := mock.New()
	m, cancel := startManager(t, backend)
	defer cancel()

	const n = 3
	type result struct {
		id  types.VmID
		err error
	}
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			spec, err := types.NewVmSpec("toplevel", "/kernel", "/initrd", "/disk.img",
				fmt.Sprintf("console=ttyS0 idx=%d", i), 1, 512, nil)
			require.NoError(t, err)
			resp, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec})
			results <- result{id: resp.VmID, err: err}
		}(i)
	}

	seen := make(map[types.VmID]bool, n)
	for i := 0; i < n; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.False(t, seen[r.id], "vm ids must be distinct")
		seen[r.id] = true
	}

	list, err := m.Bus().Request(context.Background(), bus.List{})
	require.NoError(t, err)
	require.Len(t, list.VmInfos, n)
	require.Equal(t, int64(n), backend.Calls.Count(mock.MethodSpawn))
	require.Equal(t, int64(n), backend.Calls.Count(mock.MethodCreate))
	require.Equal(t, int64(n), backend.Calls.Count(mock.MethodBoot))
}

func TestManager_RequestCancellationDoesNotCorruptState(t *testing.T) {
	backend := mock.New()
	m, cancel := startManager(t, backend)
	defer cancel()

	cctx, ccancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer ccancel()
	spec := testSpec(t)
	_, err := m.Bus().Request(cctx, bus.Create{Spec: spec})
	require.Error(t, err)

	// the manager processes commands strictly sequentially, so a later,
	// uncancelled request must still succeed cleanly
	spec2 := testSpec(t)
	resp, err := m.Bus().Request(context.Background(), bus.Create{Spec: spec2})
	require.NoError(t, err)
	require.NotEqual(t, "", resp.VmID.String())
}
