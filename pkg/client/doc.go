/*
Package client is a thin Go wrapper over the worker's hand-rolled gRPC
RPC adapter (pkg/api), giving the CLI and tests typed
Read/ListVms/CreateVm/DeleteVm methods instead of constructing request
envelopes directly.
*/
package client
