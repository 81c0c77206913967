package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/bus"
	"github.com/cuemby/fleetd/pkg/manager"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/vmm/mock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	pushes chan types.WorkerInfo
}

func newRecordingSink() *recordingSink {
	return &recordingSink{pushes: make(chan types.WorkerInfo, 8)}
}

func (s *recordingSink) Push(ctx context.Context, worker types.WorkerInfo, vms []types.VmInfo) error {
	s.pushes <- worker
	return nil
}

func TestReporter_PushesWorkerStatusPeriodically(t *testing.T) {
	backend := mock.New()
	m := manager.New(backend, manager.Options{WorkerID: "worker-1", Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	sink := newRecordingSink()
	r := NewReporter(m.Bus(), sink, 10*time.Millisecond, zerolog.Nop())
	r.Start()
	defer r.Stop()

	select {
	case worker := <-sink.pushes:
		require.Equal(t, "worker-1", worker.ID)
	case <-time.After(time.Second):
		t.Fatal("reporter did not push within timeout")
	}
}

func TestReporter_SurfacesManagerDownWithoutPanicking(t *testing.T) {
	b := bus.New(1)
	b.Close()

	sink := newRecordingSink()
	r := NewReporter(b, sink, 10*time.Millisecond, zerolog.Nop())
	r.Start()
	defer r.Stop()

	select {
	case <-sink.pushes:
		t.Fatal("sink should never be called when the bus is down")
	case <-time.After(50 * time.Millisecond):
	}
}
