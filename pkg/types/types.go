// Package types defines the data model shared by every layer of the
// worker: VM specifications, identifiers, handles, and the status
// records exposed on the wire.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/miekg/dns"
)

// VmSpec is the immutable description of a microVM, as supplied by the
// build system. It is deserializable from a flat, camelCase JSON
// object and must be constructed through NewVmSpec so that invalid
// values never enter the system.
type VmSpec struct {
	Toplevel              string   `json:"toplevel"`
	KernelPath            string   `json:"kernelPath"`
	InitrdPath            string   `json:"initrdPath"`
	DiskImagePath         string   `json:"diskImagePath"`
	Cmdline               string   `json:"cmdline"`
	Cpu                   int      `json:"cpu"`
	MemoryMb              int      `json:"memoryMb"`
	NetworkAllowedDomains []string `json:"networkAllowedDomains"`
}

// NewVmSpec validates its arguments and returns a ready-to-use
// specification. All four store paths must be non-empty; cpu and
// memoryMb must be at least 1; every entry of domains must be a
// syntactically valid domain name made only of letters, digits,
// hyphens and dots.
func NewVmSpec(toplevel, kernelPath, initrdPath, diskImagePath, cmdline string, cpu, memoryMb int, domains []string) (*VmSpec, error) {
	for name, v := range map[string]string{
		"toplevel":      toplevel,
		"kernelPath":    kernelPath,
		"initrdPath":    initrdPath,
		"diskImagePath": diskImagePath,
	} {
		if v == "" {
			return nil, fmt.Errorf("%w: %s must not be empty", ErrInvalidSpec, name)
		}
	}
	if cpu < 1 {
		return nil, fmt.Errorf("%w: cpu must be >= 1, got %d", ErrInvalidSpec, cpu)
	}
	if memoryMb < 1 {
		return nil, fmt.Errorf("%w: memoryMb must be >= 1, got %d", ErrInvalidSpec, memoryMb)
	}
	for _, d := range domains {
		// dns.IsDomainName checks label structure and length but accepts
		// any octet inside a label, so the hostname alphabet is checked
		// separately.
		_, ok := dns.IsDomainName(d)
		for _, r := range d {
			if !(r == '.' || r == '-' || ('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')) {
				ok = false
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a valid domain name", ErrInvalidSpec, d)
		}
	}

	// copy the slice so the caller can't mutate it out from under us
	allowed := make([]string, len(domains))
	copy(allowed, domains)

	return &VmSpec{
		Toplevel:              toplevel,
		KernelPath:            kernelPath,
		InitrdPath:            initrdPath,
		DiskImagePath:         diskImagePath,
		Cmdline:               cmdline,
		Cpu:                   cpu,
		MemoryMb:              memoryMb,
		NetworkAllowedDomains: allowed,
	}, nil
}

// VmSpecFromJSON deserializes and validates a specification read from
// the content-addressed store.
func VmSpecFromJSON(data []byte) (*VmSpec, error) {
	var raw VmSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return NewVmSpec(raw.Toplevel, raw.KernelPath, raw.InitrdPath, raw.DiskImagePath, raw.Cmdline, raw.Cpu, raw.MemoryMb, raw.NetworkAllowedDomains)
}

// ErrInvalidSpec is returned by NewVmSpec/VmSpecFromJSON for any
// precondition failure (§7 "precondition failures").
var ErrInvalidSpec = fmt.Errorf("invalid vm specification")

// VmID is a time-sortable, unique 128-bit VM identifier. It is
// generated once per VM by the manager and never reused.
type VmID uuid.UUID

// NewVmID generates a fresh identifier. Identifiers are UUIDv7s, so
// lexicographic comparison of their string form respects creation
// order.
func NewVmID() (VmID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return VmID{}, fmt.Errorf("generate vm id: %w", err)
	}
	return VmID(id), nil
}

func (id VmID) String() string {
	return uuid.UUID(id).String()
}

// ParseVmID parses a wire-form identifier back into a VmID.
func ParseVmID(s string) (VmID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return VmID{}, fmt.Errorf("parse vm id %q: %w", s, err)
	}
	return VmID(u), nil
}

// MarshalJSON renders id as its string form. VmID is a defined type
// over uuid.UUID, so it does not inherit uuid.UUID's own marshaler;
// without this override encoding/json would fall back to the
// underlying [16]byte array, breaking the "printed as a string on the
// wire" contract (§3).
func (id VmID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses id's string form back into a VmID.
func (id *VmID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshal vm id: %w", err)
	}
	parsed, err := ParseVmID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// VmState tags the lifecycle stage of a VM handle.
type VmState string

const (
	// VmStateCreating is transient during a Create command; never
	// observed externally.
	VmStateCreating VmState = "creating"
	// VmStateRunning is the default post-boot state.
	VmStateRunning VmState = "running"
	// VmStatePaused is entered by an explicit pause.
	VmStatePaused VmState = "paused"
	// VmStateStopping is transient during a Delete command.
	VmStateStopping VmState = "stopping"
	// VmStateFailed is set once an external observation indicates the
	// hypervisor is no longer serving. Reason carries the diagnostic.
	VmStateFailed VmState = "failed"
)

// VmMetrics is the small resource-usage tuple reported for a VM. Zero
// values mean "unavailable", not "actually zero".
type VmMetrics struct {
	CpuUsage       float32 `json:"cpuUsage"`
	MemoryUsage    uint64  `json:"memoryUsage"`
	NetworkRxBytes uint64  `json:"networkRxBytes"`
	NetworkTxBytes uint64  `json:"networkTxBytes"`
}

// Resources is the worker's total/available compute capacity.
type Resources struct {
	Cpu         float32 `json:"cpu"`
	MemoryBytes uint64  `json:"memoryBytes"`
}

// VmInfo is the observation of one VM exposed on the wire.
type VmInfo struct {
	ID            VmID      `json:"id"`
	WorkerID      string    `json:"workerId"`
	State         VmState   `json:"status"`
	FailureReason string    `json:"-"`
	DesiredHash   string    `json:"desiredHash,omitempty"`
	ObservedHash  string    `json:"observedHash,omitempty"`
	Drifted       bool      `json:"drifted"`
	Metrics       VmMetrics `json:"metrics"`
}

// WorkerInfo is the worker-level status record.
type WorkerInfo struct {
	ID         string    `json:"id"`
	Healthy    bool      `json:"healthy"`
	Generation uint64    `json:"generation"`
	RunningVms uint32    `json:"runningVms"`
	Available  Resources `json:"availableResources"`
	Metrics    WorkerMetrics
}

// WorkerMetrics summarizes worker-wide resource usage, reported
// alongside WorkerInfo by the state reporter.
type WorkerMetrics struct {
	AvailableCpu         float32 `json:"availableCpu"`
	AvailableMemoryBytes uint64  `json:"availableMemoryBytes"`
	DiskUsageBytes       uint64  `json:"diskUsageBytes"`
	UptimeSeconds        uint64  `json:"uptimeSeconds"`
}
