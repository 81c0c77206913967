package api

import (
	"context"

	"github.com/cuemby/fleetd/pkg/types"
	"google.golang.org/grpc"
)

// serviceName is the fully-qualified gRPC service name used in every
// method's wire path ("/fleetd.Worker/create_vm" etc). There is no
// .proto file defining it; it exists only as this string constant and
// the ServiceDesc below.
const serviceName = "fleetd.Worker"

// ReadRequest carries no fields; read takes no arguments on the wire.
type ReadRequest struct{}

// ReadResponse reports the worker's own status.
type ReadResponse struct {
	Worker types.WorkerInfo `json:"worker"`
}

// ListVmsRequest carries no fields; list_vms takes no arguments.
type ListVmsRequest struct{}

// ListVmsResponse is the ordered list of every VM the worker holds.
type ListVmsResponse struct {
	Vms []types.VmInfo `json:"vms"`
}

// CreateVmRequest wraps the specification supplied by the build
// system.
type CreateVmRequest struct {
	Spec types.VmSpec `json:"spec"`
}

// CreateVmResponse returns the identifier the manager assigned.
type CreateVmResponse struct {
	Id string `json:"id"`
}

// DeleteVmRequest names the VM to tear down.
type DeleteVmRequest struct {
	Id string `json:"id"`
}

// DeleteVmResponse is an empty acknowledgment.
type DeleteVmResponse struct{}

// WorkerServer is the interface the hand-written ServiceDesc below
// dispatches to. It mirrors what protoc-gen-go-grpc would emit for
// the §6 Worker interface had a .proto file existed.
type WorkerServer interface {
	Read(context.Context, *ReadRequest) (*ReadResponse, error)
	ListVms(context.Context, *ListVmsRequest) (*ListVmsResponse, error)
	CreateVm(context.Context, *CreateVmRequest) (*CreateVmResponse, error)
	DeleteVm(context.Context, *DeleteVmRequest) (*DeleteVmResponse, error)
}

// WorkerClient is the client-side counterpart, again hand-written in
// place of a protoc-gen-go-grpc stub.
type WorkerClient interface {
	Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResponse, error)
	ListVms(ctx context.Context, in *ListVmsRequest, opts ...grpc.CallOption) (*ListVmsResponse, error)
	CreateVm(ctx context.Context, in *CreateVmRequest, opts ...grpc.CallOption) (*CreateVmResponse, error)
	DeleteVm(ctx context.Context, in *DeleteVmRequest, opts ...grpc.CallOption) (*DeleteVmResponse, error)
}

type workerClient struct {
	cc grpc.ClientConnInterface
}

// NewWorkerClient builds a WorkerClient bound to cc. Every call is
// pinned to the json content-subtype so it lands on jsonCodec
// regardless of the conn's default codec.
func NewWorkerClient(cc grpc.ClientConnInterface) WorkerClient {
	return &workerClient{cc: cc}
}

func (c *workerClient) Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResponse, error) {
	out := new(ReadResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/read", in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) ListVms(ctx context.Context, in *ListVmsRequest, opts ...grpc.CallOption) (*ListVmsResponse, error) {
	out := new(ListVmsResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/list_vms", in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) CreateVm(ctx context.Context, in *CreateVmRequest, opts ...grpc.CallOption) (*CreateVmResponse, error) {
	out := new(CreateVmResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/create_vm", in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) DeleteVm(ctx context.Context, in *DeleteVmRequest, opts ...grpc.CallOption) (*DeleteVmResponse, error) {
	out := new(DeleteVmResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/delete_vm", in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}

func readHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/read"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).Read(ctx, req.(*ReadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listVmsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListVmsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).ListVms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/list_vms"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).ListVms(ctx, req.(*ListVmsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func createVmHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateVmRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).CreateVm(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/create_vm"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).CreateVm(ctx, req.(*CreateVmRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteVmHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeleteVmRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).DeleteVm(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/delete_vm"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).DeleteVm(ctx, req.(*DeleteVmRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// workerServiceDesc stands in for what protoc-gen-go-grpc would emit
// from a Worker service message in a .proto file.
var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "read", Handler: readHandler},
		{MethodName: "list_vms", Handler: listVmsHandler},
		{MethodName: "create_vm", Handler: createVmHandler},
		{MethodName: "delete_vm", Handler: deleteVmHandler},
	},
	Metadata: "fleetd/worker.proto",
}

// RegisterWorkerServer wires srv into s under the worker service
// descriptor.
func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&workerServiceDesc, srv)
}
