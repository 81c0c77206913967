package main

import "time"

// config is the daemon's full set of tunables, bound from cobra flags
// via viper with FLEETD_-prefixed environment overrides.
type config struct {
	WorkerID       string
	RpcAddr        string
	SocketPath     string
	MetricsAddr    string
	ScratchDir     string
	Backend        string
	BinaryPath     string
	BusCapacity    int
	CommandTimeout time.Duration
	SocketTimeout  time.Duration
	ReportPeriod   time.Duration
	MetricsPeriod  time.Duration
	LogLevel       string
	LogJSON        bool
}

func defaultConfig() config {
	return config{
		WorkerID:       "worker-1",
		RpcAddr:        "127.0.0.1:9090",
		SocketPath:     "/run/fleetd/worker.sock",
		MetricsAddr:    "127.0.0.1:9091",
		ScratchDir:     "/run/fleetd/vms",
		Backend:        "mock",
		BusCapacity:    32,
		CommandTimeout: 30 * time.Second,
		SocketTimeout:  5 * time.Second,
		ReportPeriod:   10 * time.Second,
		MetricsPeriod:  15 * time.Second,
		LogLevel:       "info",
		LogJSON:        false,
	}
}
