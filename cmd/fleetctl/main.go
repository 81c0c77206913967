package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var addr string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetctl: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetctl",
	Short:   "fleetctl talks to a worker's RPC adapter",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetctl version %s\ncommit: %s\nbuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:9090", "worker RPC address")
	_ = viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr"))
	viper.SetEnvPrefix("FLEETCTL")
	viper.AutomaticEnv()

	rootCmd.AddCommand(readCmd, listCmd, createCmd, deleteCmd)
}

func workerAddr() string {
	if v := viper.GetString("addr"); v != "" {
		return v
	}
	return addr
}
