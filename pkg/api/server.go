package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/fleetd/pkg/bus"
	"github.com/cuemby/fleetd/pkg/manager"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server is the RPC adapter: stateless, freely cloneable, holding
// only a handle to the command bus. Every method constructs the
// corresponding payload, sends it, and translates the reply into the
// wire response or an RPC error.
type Server struct {
	bus     *bus.Bus
	timeout time.Duration
	logger  zerolog.Logger
}

// NewServer builds an adapter bound to b. timeout bounds how long any
// single call waits on the bus before giving up (default 10s).
func NewServer(b *bus.Bus, timeout time.Duration, logger zerolog.Logger) *Server {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Server{bus: b, timeout: timeout, logger: logger}
}

func (s *Server) Read(ctx context.Context, _ *ReadRequest) (*ReadResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, "read")

	resp, err := s.request(ctx, bus.GetWorkerStatus{}, "read")
	if err != nil {
		return nil, err
	}
	return &ReadResponse{Worker: resp.WorkerInfo}, nil
}

func (s *Server) ListVms(ctx context.Context, _ *ListVmsRequest) (*ListVmsResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, "list_vms")

	resp, err := s.request(ctx, bus.List{}, "list_vms")
	if err != nil {
		return nil, err
	}
	return &ListVmsResponse{Vms: resp.VmInfos}, nil
}

func (s *Server) CreateVm(ctx context.Context, in *CreateVmRequest) (*CreateVmResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, "create_vm")

	spec, err := types.NewVmSpec(in.Spec.Toplevel, in.Spec.KernelPath, in.Spec.InitrdPath, in.Spec.DiskImagePath,
		in.Spec.Cmdline, in.Spec.Cpu, in.Spec.MemoryMb, in.Spec.NetworkAllowedDomains)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues("create_vm", "invalid_argument").Inc()
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, err := s.request(ctx, bus.Create{Spec: spec}, "create_vm")
	if err != nil {
		return nil, err
	}
	return &CreateVmResponse{Id: resp.VmID.String()}, nil
}

func (s *Server) DeleteVm(ctx context.Context, in *DeleteVmRequest) (*DeleteVmResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, "delete_vm")

	id, err := types.ParseVmID(in.Id)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues("delete_vm", "invalid_argument").Inc()
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if _, err := s.request(ctx, bus.Delete{ID: id}, "delete_vm"); err != nil {
		return nil, err
	}
	return &DeleteVmResponse{}, nil
}

// request sends payload through the bus, bounds the wait by s.timeout,
// and maps the three failure modes the wire contract recognizes: bus
// send/manager-down failure (terminal), manager-level error (surfaced
// message), or a deadline blown waiting for either.
func (s *Server) request(ctx context.Context, payload bus.Payload, method string) (bus.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.bus.Request(ctx, payload)
	if err == nil {
		metrics.APIRequestsTotal.WithLabelValues(method, "ok").Inc()
		return resp, nil
	}

	switch {
	case errors.Is(err, bus.ErrManagerDown):
		metrics.APIRequestsTotal.WithLabelValues(method, "unavailable").Inc()
		return bus.Response{}, status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, manager.ErrVmNotFound):
		metrics.APIRequestsTotal.WithLabelValues(method, "not_found").Inc()
		return bus.Response{}, status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		metrics.APIRequestsTotal.WithLabelValues(method, "deadline_exceeded").Inc()
		return bus.Response{}, status.Error(codes.DeadlineExceeded, "worker did not respond in time")
	default:
		metrics.APIRequestsTotal.WithLabelValues(method, "internal").Inc()
		return bus.Response{}, status.Error(codes.Internal, fmt.Sprintf("backend failure: %v", err))
	}
}
