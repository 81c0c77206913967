package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetd: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "fleetd runs one worker's VM manager, RPC adapter and state reporter",
	Long: `fleetd is the per-host daemon that accepts create_vm/delete_vm/
list_vms/read commands over gRPC and materializes them as running
cloud-hypervisor (or QEMU) microVM processes.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetd version %s\ncommit: %s\nbuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.AddCommand(serveCmd)
}
