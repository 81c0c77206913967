/*
Package metrics exposes the worker's Prometheus metrics.

Metrics are registered at package init and updated from two places:
the manager records create/delete durations and backend call outcomes
directly; a background Collector polls the bus for a VM list snapshot
and republishes it as fleetd_vms_total by state. Health and readiness
are served separately, by pkg/api, which queries the bus directly
rather than through a parallel component registry.
*/
package metrics
