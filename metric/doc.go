// Package metric owns the Prometheus registry shared by every transcoding run
// in a process and the HTTP server that exposes it.
//
// Components create their collectors and register them under a service name:
//
//	reg := metric.NewMetricsRegistry()
//	m, err := pipeline.NewMetrics(reg)
//
// Registering the same service/metric pair twice is an invalid-class error so
// that two components never silently share a collector. Go runtime and process
// collectors are registered automatically.
//
// Server serves the registry on /metrics with OpenMetrics enabled, plus a
// /health endpoint that answers OK unless SetHealthHandler installs another.
package metric
