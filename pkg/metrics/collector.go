package metrics

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/pkg/bus"
	"github.com/cuemby/fleetd/pkg/types"
)

// Collector periodically queries the manager through the bus and
// publishes the result as VmsTotal, the same snapshot the state
// reporter pushes upstream.
type Collector struct {
	bus    *bus.Bus
	period time.Duration
	stopCh chan struct{}
}

// NewCollector builds a collector bound to b. period defaults to 15s.
func NewCollector(b *bus.Bus, period time.Duration) *Collector {
	if period <= 0 {
		period = 15 * time.Second
	}
	return &Collector{bus: b, period: period, stopCh: make(chan struct{})}
}

// Start begins collecting on its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.bus.Request(ctx, bus.List{})
	if err != nil {
		return
	}

	counts := make(map[types.VmState]int)
	for _, info := range resp.VmInfos {
		counts[info.State]++
	}
	for _, state := range []types.VmState{
		types.VmStateCreating, types.VmStateRunning, types.VmStatePaused,
		types.VmStateStopping, types.VmStateFailed,
	} {
		VmsTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
