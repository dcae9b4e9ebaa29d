// Package metrics exposes hub counters and gauges on a private
// Prometheus registry, served at /metrics.
package metrics
