package cloudhypervisor

import "github.com/cuemby/fleetd/pkg/types"

// CLHConfig matches the cloud-hypervisor v0.49+ REST API schema. It is
// the Config value BuildConfig returns; the manager carries it
// opaquely from BuildConfig to Create.
type CLHConfig struct {
	Payload PayloadConfig `json:"payload"`
	Cpus    CpusConfig    `json:"cpus"`
	Memory  MemoryConfig  `json:"memory"`
	Disks   []DiskConfig  `json:"disks"`
	Net     []NetConfig   `json:"net,omitempty"`
	Rng     RngConfig     `json:"rng"`
	Console ConsoleConfig `json:"console"`
	Vsock   *VsockConfig  `json:"vsock,omitempty"`
}

type PayloadConfig struct {
	Kernel    string `json:"kernel"`
	CmdLine   string `json:"cmdline"`
	Initramfs string `json:"initramfs,omitempty"`
}

type CpusConfig struct {
	BootVcpus int `json:"boot_vcpus"`
	MaxVcpus  int `json:"max_vcpus"`
}

type MemoryConfig struct {
	Size int64 `json:"size"`
}

type DiskConfig struct {
	Path string `json:"path"`
}

type RngConfig struct {
	Src string `json:"src"`
}

type ConsoleConfig struct {
	Mode string `json:"mode"`
}

// NetConfig names a host-side tap device to attach to the VM. BuildConfig
// never populates this: which tap device belongs to a VM is a
// host-network-setup decision (bridge, TAP, NAT, domain allowlisting),
// out of scope per §1, and the interface BuildConfig is handed
// (spec-only, no VM identifier) has no way to name one deterministically
// anyway. The field exists so a backend wired to a future network
// allocator has a place to put the tap name it chooses.
type NetConfig struct {
	Tap string `json:"tap,omitempty"`
	Mac string `json:"mac,omitempty"`
}

// VsockConfig configures the VM's vsock device. In-guest exec/log
// streaming over vsock is explicitly deferred (§1); BuildConfig leaves
// this nil until that feature exists to drive it.
type VsockConfig struct {
	Cid    uint64 `json:"cid"`
	Socket string `json:"socket"`
}

const mebibyte = 1024 * 1024

// buildConfig deterministically maps a VmSpec's explicit paths and
// sizing onto the cloud-hypervisor config record. No path inference:
// kernel, initrd, disk image, and cmdline are taken verbatim from
// spec. network_allowed_domains is intentionally not represented
// here — it governs host-side firewalling, not the VM's own config.
func buildConfig(spec *types.VmSpec) *CLHConfig {
	return &CLHConfig{
		Payload: PayloadConfig{
			Kernel:    spec.KernelPath,
			CmdLine:   spec.Cmdline,
			Initramfs: spec.InitrdPath,
		},
		Cpus: CpusConfig{
			BootVcpus: spec.Cpu,
			MaxVcpus:  spec.Cpu,
		},
		Memory: MemoryConfig{
			Size: int64(spec.MemoryMb) * mebibyte,
		},
		Disks: []DiskConfig{{Path: spec.DiskImagePath}},
		Rng:   RngConfig{Src: "/dev/urandom"},
		Console: ConsoleConfig{
			Mode: "Off",
		},
	}
}
