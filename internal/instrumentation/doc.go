// Package instrumentation provides OpenTelemetry instrumentation for the
// inboxevents ingestion job.
//
// A run is short-lived, so the provider is flushed once before exit. With the
// prometheus exporter the registry is served by the metrics server for as
// long as the process runs.
//
// # Metrics
//
// Pipeline Metrics:
//   - ingest_messages_total: Counter of processed messages by outcome
//   - ingest_stage_duration_seconds: Histogram of per-message stage durations
//   - ingest_runs_total: Counter of runs by status
//   - ingest_last_run_messages: Gauge of the last run's counters by outcome
//
// Google API Metrics:
//   - google_api_operations_total: Counter of Gmail operations by operation and status
//   - google_api_operation_duration_seconds: Histogram of Gmail operation durations
//
// Extraction Metrics:
//   - llm_requests_total: Counter of extraction requests by status
//   - llm_request_duration_seconds: Histogram of extraction request durations
//   - extract_cache_lookups_total: Counter of cache lookups by result
//
// Store Metrics:
//   - store_operations_total: Counter of store calls by backend, operation and status
//   - store_operation_duration_seconds: Histogram of store call durations
//
// # Tracing
//
// Spans are created for every message (ingest.message) and, below it, for
// Gmail calls (google.gmail.<operation>), extraction (llm.extract) and store
// calls (store.<backend>.<operation>).
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: inboxevents)
//   - METRICS_DETAILED_LABELS: Add model and sender domain labels (default: false)
//   - AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_INCLUDE_PII: per-message audit log
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	m := provider.Metrics()
//	m.RecordStage(ctx, instrumentation.StageExtract, err, time.Since(start))
//	m.RecordMessage(ctx, instrumentation.OutcomeCreated, "museum.example")
package instrumentation
