package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// VmsTotal is the number of VM handles currently held by the
	// manager, by lifecycle state.
	VmsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetd_vms_total",
			Help: "Total number of VMs held by the manager, by state",
		},
		[]string{"state"},
	)

	CreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_vm_create_duration_seconds",
			Help:    "Time to create and boot a VM, from spec to running",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeleteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_vm_delete_duration_seconds",
			Help:    "Time to shut down, delete, kill and clean up a VM",
			Buckets: prometheus.DefBuckets,
		},
	)

	BackendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_backend_calls_total",
			Help: "Total calls made to the VmmBackend/Vmm interfaces, by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_api_requests_total",
			Help: "Total number of RPC adapter requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_api_request_duration_seconds",
			Help:    "RPC adapter request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StateReportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_state_report_duration_seconds",
			Help:    "Time to gather and push one state report",
			Buckets: prometheus.DefBuckets,
		},
	)

	StateReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_state_reports_total",
			Help: "Total state reports pushed, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		VmsTotal,
		CreateDuration,
		DeleteDuration,
		BackendCallsTotal,
		APIRequestsTotal,
		APIRequestDuration,
		StateReportDuration,
		StateReportsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
