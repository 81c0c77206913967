package api

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadOnlyInterceptor builds a gRPC unary interceptor that only lets
// read-only operations through. Bound to the worker's Unix socket
// listener so a local CLI client can inspect state but never mutate
// it without going through the TCP listener.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"write operations not allowed on the Unix socket listener; use the TCP listener for create_vm/delete_vm",
			)
		}

		return handler(ctx, req)
	}
}

// isReadOnlyMethod reports whether method (the full "/service/name"
// path) is one of the worker's read-only operations.
func isReadOnlyMethod(method string) bool {
	parts := strings.Split(method, "/")
	if len(parts) < 2 {
		return false
	}
	methodName := parts[len(parts)-1]

	readOnlyMethods := []string{
		"read",
		"list_vms",
	}

	for _, allowed := range readOnlyMethods {
		if methodName == allowed {
			return true
		}
	}

	return false
}
