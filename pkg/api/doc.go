/*
Package api implements the worker's RPC adapter: the gRPC surface
over create_vm, delete_vm, list_vms and read.

There is no .proto file. The service descriptor, request/response
envelopes and client stub are hand-written against grpc-go's public
ServiceDesc/ClientConn.Invoke surface, and messages travel as JSON
through a small codec registered under the "json" content-subtype
instead of the protobuf wire format. This keeps the real grpc.Server,
interceptor chain and connection management in play without a protoc
step.

Server is stateless and holds only a bus handle; every method builds
the matching bus.Payload, sends it, and maps bus.ErrManagerDown,
manager.ErrVmNotFound and context deadlines to the corresponding gRPC
status code. HealthServer exposes /health, /ready and /metrics over
plain HTTP alongside the gRPC listener. ReadOnlyInterceptor restricts
a Unix-socket listener to read/list_vms only, leaving create_vm and
delete_vm to the TCP listener.
*/
package api
