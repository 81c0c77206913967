package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fleetd/pkg/api"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/manager"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/reconciler"
	"github.com/cuemby/fleetd/pkg/vmm"
	"github.com/cuemby/fleetd/pkg/vmm/cloudhypervisor"
	"github.com/cuemby/fleetd/pkg/vmm/mock"
	"github.com/cuemby/fleetd/pkg/vmm/qemu"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the worker daemon",
	RunE:  runServe,
}

func init() {
	defaults := defaultConfig()
	flags := serveCmd.Flags()

	flags.String("worker-id", defaults.WorkerID, "this worker's identifier, reported on read")
	flags.String("rpc-addr", defaults.RpcAddr, "TCP address the RPC adapter binds for create_vm/delete_vm/list_vms/read")
	flags.String("socket-path", defaults.SocketPath, "Unix socket path for the read-only RPC adapter")
	flags.String("metrics-addr", defaults.MetricsAddr, "HTTP address for /health, /ready and /metrics")
	flags.String("scratch-dir", defaults.ScratchDir, "per-worker scratch directory root for VM control sockets")
	flags.String("backend", defaults.Backend, "hypervisor backend: cloudhypervisor | qemu | mock")
	flags.String("binary-path", "", "override the hypervisor binary lookup on PATH")
	flags.Int("bus-capacity", defaults.BusCapacity, "command bus bounded channel capacity")
	flags.Duration("command-timeout", defaults.CommandTimeout, "per-command timeout applied by the RPC adapter")
	flags.Duration("socket-timeout", defaults.SocketTimeout, "max time to wait for a VM's control socket to appear")
	flags.Duration("report-period", defaults.ReportPeriod, "state reporter push interval")
	flags.Duration("metrics-period", defaults.MetricsPeriod, "metrics collector poll interval")
	flags.String("log-level", defaults.LogLevel, "debug | info | warn | error")
	flags.Bool("log-json", defaults.LogJSON, "emit JSON logs instead of console-formatted ones")

	for _, name := range []string{
		"worker-id", "rpc-addr", "socket-path", "metrics-addr", "scratch-dir", "backend",
		"binary-path", "bus-capacity", "command-timeout", "socket-timeout", "report-period",
		"metrics-period", "log-level", "log-json",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	viper.SetEnvPrefix("FLEETD")
	viper.AutomaticEnv()
}

func loadConfig() config {
	cfg := defaultConfig()
	cfg.WorkerID = viper.GetString("worker-id")
	cfg.RpcAddr = viper.GetString("rpc-addr")
	cfg.SocketPath = viper.GetString("socket-path")
	cfg.MetricsAddr = viper.GetString("metrics-addr")
	cfg.ScratchDir = viper.GetString("scratch-dir")
	cfg.Backend = viper.GetString("backend")
	cfg.BinaryPath = viper.GetString("binary-path")
	cfg.BusCapacity = viper.GetInt("bus-capacity")
	cfg.CommandTimeout = viper.GetDuration("command-timeout")
	cfg.SocketTimeout = viper.GetDuration("socket-timeout")
	cfg.ReportPeriod = viper.GetDuration("report-period")
	cfg.MetricsPeriod = viper.GetDuration("metrics-period")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.LogJSON = viper.GetBool("log-json")
	return cfg
}

func buildBackend(cfg config, logger zerolog.Logger) (vmm.VmmBackend, error) {
	switch cfg.Backend {
	case "mock":
		return mock.New(), nil
	case "cloudhypervisor", "":
		return cloudhypervisor.New(cloudhypervisor.Options{
			BinaryPath:         cfg.BinaryPath,
			ScratchDir:         cfg.ScratchDir,
			SocketReadyTimeout: cfg.SocketTimeout,
			Logger:             log.WithComponent(logger, "cloudhypervisor"),
		})
	case "qemu":
		return qemu.New(qemu.Options{
			BinaryPath:         cfg.BinaryPath,
			ScratchDir:         cfg.ScratchDir,
			SocketReadyTimeout: cfg.SocketTimeout,
			Logger:             log.WithComponent(logger, "qemu"),
		})
	default:
		return nil, fmt.Errorf("unknown backend %q (want cloudhypervisor, qemu or mock)", cfg.Backend)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()

	if err := log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logger := log.WithWorkerID(cfg.WorkerID)

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("build backend: %w", err)
	}

	mgr := manager.New(backend, manager.Options{
		WorkerID:       cfg.WorkerID,
		BusCapacity:    cfg.BusCapacity,
		CommandTimeout: cfg.CommandTimeout,
		Logger:         log.WithComponent(logger, "manager"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	managerDone := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(managerDone)
	}()

	rpcLis, err := net.Listen("tcp", cfg.RpcAddr)
	if err != nil {
		return fmt.Errorf("bind rpc listener: %w", err)
	}

	_ = os.MkdirAll(parentDir(cfg.SocketPath), 0o755)
	_ = os.Remove(cfg.SocketPath)
	sockLis, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("bind unix socket listener: %w", err)
	}

	adapter := api.NewServer(mgr.Bus(), cfg.CommandTimeout, logger)

	rpcServer := grpc.NewServer()
	api.RegisterWorkerServer(rpcServer, adapter)

	sockServer := grpc.NewServer(grpc.UnaryInterceptor(api.ReadOnlyInterceptor()))
	api.RegisterWorkerServer(sockServer, adapter)

	go func() {
		logger.Info().Str("addr", cfg.RpcAddr).Msg("rpc adapter listening")
		if err := rpcServer.Serve(rpcLis); err != nil {
			logger.Error().Err(err).Msg("rpc listener stopped")
		}
	}()
	go func() {
		logger.Info().Str("path", cfg.SocketPath).Msg("read-only rpc adapter listening")
		if err := sockServer.Serve(sockLis); err != nil {
			logger.Error().Err(err).Msg("unix listener stopped")
		}
	}()

	healthSrv := api.NewHealthServer(mgr.Bus())
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("health/metrics listening")
		if err := healthSrv.Start(cfg.MetricsAddr); err != nil {
			logger.Error().Err(err).Msg("health listener stopped")
		}
	}()

	collector := metrics.NewCollector(mgr.Bus(), cfg.MetricsPeriod)
	collector.Start()
	defer collector.Stop()

	reconcilerLogger := log.WithComponent(logger, "reconciler")
	reporter := reconciler.NewReporter(mgr.Bus(), reconciler.LoggingSink{Logger: reconcilerLogger}, cfg.ReportPeriod, reconcilerLogger)
	reporter.Start()
	defer reporter.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	rpcServer.GracefulStop()
	sockServer.GracefulStop()
	cancel()

	select {
	case <-managerDone:
	case <-time.After(cfg.CommandTimeout):
		logger.Warn().Msg("manager shutdown did not complete before timeout")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
