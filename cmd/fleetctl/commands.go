package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/fleetd/pkg/client"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func dial() (*client.Client, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultDialTimeout)
	c, err := client.NewClient(workerAddr())
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return c, ctx, cancel, nil
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "print the worker's own status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := dial()
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		worker, err := c.Read(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("worker %s  healthy=%v  generation=%d  running_vms=%d  disk_usage=%s\n",
			worker.ID, worker.Healthy, worker.Generation, worker.RunningVms,
			units.BytesSize(float64(worker.Metrics.DiskUsageBytes)))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list every VM the worker holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := dial()
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		vms, err := c.ListVms(ctx)
		if err != nil {
			return err
		}

		if len(vms) == 0 {
			fmt.Println("no VMs")
			return nil
		}
		for _, vm := range vms {
			fmt.Printf("%s  %-10s  drifted=%v  rx=%s  tx=%s\n",
				vm.ID, vm.State, vm.Drifted,
				units.BytesSize(float64(vm.Metrics.NetworkRxBytes)),
				units.BytesSize(float64(vm.Metrics.NetworkTxBytes)))
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "create a VM from a specification file",
	Long:  "create reads a flat camelCase JSON VmSpec from --file and submits it as create_vm.",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read spec file: %w", err)
		}

		spec, err := types.VmSpecFromJSON(data)
		if err != nil {
			return fmt.Errorf("parse spec: %w", err)
		}

		c, ctx, cancel, err := dial()
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		id, err := c.CreateVm(ctx, spec)
		if err != nil {
			return err
		}

		fmt.Println(id.String())
		return nil
	},
}

func init() {
	createCmd.Flags().StringP("file", "f", "", "path to a VmSpec JSON file (required)")
	_ = createCmd.MarkFlagRequired("file")
}

var deleteCmd = &cobra.Command{
	Use:   "delete VM_ID",
	Short: "delete a VM by identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := types.ParseVmID(args[0])
		if err != nil {
			return fmt.Errorf("parse vm id: %w", err)
		}

		c, ctx, cancel, err := dial()
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		if err := c.DeleteVm(ctx, id); err != nil {
			return err
		}

		fmt.Printf("deleted %s\n", id)
		return nil
	},
}

