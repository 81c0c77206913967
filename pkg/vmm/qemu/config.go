package qemu

import (
	"fmt"

	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/vmm"
)

// Config is this backend's Config: the flat set of qemu-system
// command-line arguments derived verbatim from a VmSpec's explicit
// paths and sizing. No path inference.
type Config struct {
	KernelPath    string
	InitrdPath    string
	DiskImagePath string
	Cmdline       string
	Cpu           int
	MemoryMb      int
}

func buildConfig(spec *types.VmSpec) *Config {
	return &Config{
		KernelPath:    spec.KernelPath,
		InitrdPath:    spec.InitrdPath,
		DiskImagePath: spec.DiskImagePath,
		Cmdline:       spec.Cmdline,
		Cpu:           spec.Cpu,
		MemoryMb:      spec.MemoryMb,
	}
}

// args renders the config as qemu-system command-line arguments. Kept
// separate from Spawn's fixed -qmp/-nographic flags so a future
// Backend.Spawn could apply it to a subprocess it doesn't yet own at
// BuildConfig time, mirroring how the cloud-hypervisor backend keeps
// config construction independent of process spawning.
func (c *Config) args() []string {
	return []string{
		"-kernel", c.KernelPath,
		"-initrd", c.InitrdPath,
		"-drive", fmt.Sprintf("file=%s,format=raw", c.DiskImagePath),
		"-append", c.Cmdline,
		"-smp", fmt.Sprintf("%d", c.Cpu),
		"-m", fmt.Sprintf("%dM", c.MemoryMb),
	}
}

var _ vmm.Config = (*Config)(nil)
