package vmm

import "errors"

// Sentinel errors a backend wraps with context via fmt.Errorf("...: %w", ...).
// The manager inspects these with errors.Is to decide rollback and
// error-taxonomy mapping without depending on any specific backend's
// concrete error type.
var (
	// ErrTransport covers RPC/control-socket I/O failures.
	ErrTransport = errors.New("vmm: transport error")
	// ErrProtocol covers an unexpected status or malformed payload
	// from the hypervisor's control API.
	ErrProtocol = errors.New("vmm: protocol error")
	// ErrSpawnTimeout is returned by Spawn when the control socket
	// never becomes ready within the configured deadline.
	ErrSpawnTimeout = errors.New("vmm: timed out waiting for control socket")
	// ErrUnsupported is returned by backends that do not implement an
	// optional capability (pause/resume).
	ErrUnsupported = errors.New("vmm: operation not supported by this backend")
)
