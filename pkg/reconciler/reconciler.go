package reconciler

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/pkg/bus"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/docker/go-units"
	"github.com/rs/zerolog"
)

// Sink receives one observed-state push. The default sink logs; a
// real deployment would point this at the control plane's collector
// endpoint, mirroring the original system's PushObservedState
// contract.
type Sink interface {
	Push(ctx context.Context, worker types.WorkerInfo, vms []types.VmInfo) error
}

// LoggingSink is the MVP upstream collector: it logs the snapshot at
// info level rather than forwarding it anywhere.
type LoggingSink struct {
	Logger zerolog.Logger
}

func (s LoggingSink) Push(ctx context.Context, worker types.WorkerInfo, vms []types.VmInfo) error {
	s.Logger.Info().
		Str("worker_id", worker.ID).
		Uint32("running_vms", worker.RunningVms).
		Str("disk_usage", units.BytesSize(float64(worker.Metrics.DiskUsageBytes))).
		Int("vm_count", len(vms)).
		Msg("state report")
	return nil
}

// Reporter periodically queries the manager through the bus for its
// worker status and VM list, and pushes the result to a Sink. It is
// the worker's half of the push contract the control plane's
// collector is the other end of.
type Reporter struct {
	bus    *bus.Bus
	sink   Sink
	period time.Duration
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewReporter builds a reporter bound to b, pushing every period
// (default 10s) to sink.
func NewReporter(b *bus.Bus, sink Sink, period time.Duration, logger zerolog.Logger) *Reporter {
	if period <= 0 {
		period = 10 * time.Second
	}
	return &Reporter{bus: b, sink: sink, period: period, logger: logger, stopCh: make(chan struct{})}
}

// Start begins reporting on its own goroutine.
func (r *Reporter) Start() {
	ticker := time.NewTicker(r.period)
	go func() {
		r.report()
		for {
			select {
			case <-ticker.C:
				r.report()
			case <-r.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts reporting.
func (r *Reporter) Stop() {
	close(r.stopCh)
}

func (r *Reporter) report() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StateReportDuration)

	ctx, cancel := context.WithTimeout(context.Background(), r.period)
	defer cancel()

	statusResp, err := r.bus.Request(ctx, bus.GetWorkerStatus{})
	if err != nil {
		metrics.StateReportsTotal.WithLabelValues("error").Inc()
		r.logger.Warn().Err(err).Msg("state report: worker status query failed")
		return
	}

	listResp, err := r.bus.Request(ctx, bus.List{})
	if err != nil {
		metrics.StateReportsTotal.WithLabelValues("error").Inc()
		r.logger.Warn().Err(err).Msg("state report: vm list query failed")
		return
	}

	if err := r.sink.Push(ctx, statusResp.WorkerInfo, listResp.VmInfos); err != nil {
		metrics.StateReportsTotal.WithLabelValues("error").Inc()
		r.logger.Warn().Err(err).Msg("state report: sink push failed")
		return
	}

	metrics.StateReportsTotal.WithLabelValues("ok").Inc()
}
