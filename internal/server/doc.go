// Package server exposes the process metrics over HTTP while an ingestion
// run is in progress.
//
// MetricsServer serves the Prometheus registry that the OpenTelemetry
// prometheus exporter writes to, on a dedicated address (for example :9090),
// plus a /healthz endpoint. It is only started when a metrics address is
// configured and the instrumentation provider is enabled.
package server
