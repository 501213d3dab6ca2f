package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrOutcome   = "outcome"
	attrStage     = "stage"
	attrBackend   = "backend"
	attrModel     = "model"
	attrResult    = "result"
	attrDomain    = "source_domain"
)

// Metrics provides methods for recording observability metrics.
// The zero value is a no-op recorder.
type Metrics struct {
	// Pipeline metrics
	messagesTotal  metric.Int64Counter
	stageDuration  metric.Float64Histogram
	runsTotal      metric.Int64Counter
	lastRunSummary metric.Int64Gauge

	// Google API metrics
	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	// Model metrics
	llmRequestsTotal   metric.Int64Counter
	llmRequestDuration metric.Float64Histogram
	extractCacheTotal  metric.Int64Counter

	// Store metrics
	storeOperationsTotal   metric.Int64Counter
	storeOperationDuration metric.Float64Histogram

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

var apiBuckets = metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0)

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.messagesTotal, err = meter.Int64Counter(
		"ingest_messages_total",
		metric.WithDescription("Total number of mail messages processed by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest_messages_total counter: %w", err)
	}

	m.stageDuration, err = meter.Float64Histogram(
		"ingest_stage_duration_seconds",
		metric.WithDescription("Duration of each per-message pipeline stage in seconds"),
		metric.WithUnit("s"),
		apiBuckets,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest_stage_duration_seconds histogram: %w", err)
	}

	m.runsTotal, err = meter.Int64Counter(
		"ingest_runs_total",
		metric.WithDescription("Total number of ingestion runs by status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest_runs_total counter: %w", err)
	}

	m.lastRunSummary, err = meter.Int64Gauge(
		"ingest_last_run_messages",
		metric.WithDescription("Counters of the most recent ingestion run by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest_last_run_messages gauge: %w", err)
	}

	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		apiBuckets,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	m.llmRequestsTotal, err = meter.Int64Counter(
		"llm_requests_total",
		metric.WithDescription("Total number of structured extraction requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm_requests_total counter: %w", err)
	}

	m.llmRequestDuration, err = meter.Float64Histogram(
		"llm_request_duration_seconds",
		metric.WithDescription("Structured extraction request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm_request_duration_seconds histogram: %w", err)
	}

	m.extractCacheTotal, err = meter.Int64Counter(
		"extract_cache_lookups_total",
		metric.WithDescription("Extraction cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create extract_cache_lookups_total counter: %w", err)
	}

	m.storeOperationsTotal, err = meter.Int64Counter(
		"store_operations_total",
		metric.WithDescription("Total number of event store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_operations_total counter: %w", err)
	}

	m.storeOperationDuration, err = meter.Float64Histogram(
		"store_operation_duration_seconds",
		metric.WithDescription("Event store operation duration in seconds"),
		metric.WithUnit("s"),
		apiBuckets,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_operation_duration_seconds histogram: %w", err)
	}

	return m, nil
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordMessage records the outcome of one processed message.
// sourceDomain is only attached when detailed labels are enabled.
func (m *Metrics) RecordMessage(ctx context.Context, outcome, sourceDomain string) {
	if m == nil || m.messagesTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOutcome, outcome),
	}
	if m.detailedLabels && sourceDomain != "" {
		attrs = append(attrs, attribute.String(attrDomain, sourceDomain))
	}

	m.messagesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStage records the duration of a pipeline stage for one message.
func (m *Metrics) RecordStage(ctx context.Context, stage string, err error, duration time.Duration) {
	if m == nil || m.stageDuration == nil {
		return // Instrumentation not initialized
	}

	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrStage, stage),
		attribute.String(attrStatus, statusOf(err)),
	))
}

// RecordRun records a finished run and its per-outcome counters.
func (m *Metrics) RecordRun(ctx context.Context, err error, counts map[string]int) {
	if m == nil || m.runsTotal == nil || m.lastRunSummary == nil {
		return // Instrumentation not initialized
	}

	m.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, statusOf(err))))
	for outcome, n := range counts {
		m.lastRunSummary.Record(ctx, int64(n), metric.WithAttributes(attribute.String(attrOutcome, outcome)))
	}
}

// RecordGoogleAPIOperation records a Google API operation with service, operation,
// status, and duration.
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLLMRequest records one extraction request attempt.
func (m *Metrics) RecordLLMRequest(ctx context.Context, model string, err error, duration time.Duration) {
	if m == nil || m.llmRequestsTotal == nil || m.llmRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, ServiceOpenAI),
		attribute.String(attrStatus, statusOf(err)),
	}
	if m.detailedLabels && model != "" {
		attrs = append(attrs, attribute.String(attrModel, model))
	}

	m.llmRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.llmRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordExtractCache records an extraction cache lookup ("hit" or "miss").
func (m *Metrics) RecordExtractCache(ctx context.Context, result string) {
	if m == nil || m.extractCacheTotal == nil {
		return // Instrumentation not initialized
	}

	m.extractCacheTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordStoreOperation records an event store call.
//
// Parameters:
//   - backend: store backend name (dynamodb, postgres, sqlite)
//   - operation: query, scan, put or create_table
func (m *Metrics) RecordStoreOperation(ctx context.Context, backend, operation string, err error, duration time.Duration) {
	if m == nil || m.storeOperationsTotal == nil || m.storeOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrBackend, backend),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, statusOf(err)),
	}

	m.storeOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.storeOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
