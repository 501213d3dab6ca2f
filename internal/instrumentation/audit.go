package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// MessageAudit captures what happened to one mail message during a run.
//
// # Privacy Considerations
//
// SourceEmail is the sender address reported by the model and is PII.
// LogAttrs only carries its domain; LogAuditAttrs carries the full address.
type MessageAudit struct {
	MessageID string

	// Outcome is one of created, updated, skipped or failed.
	Outcome string

	// Stage is the stage that failed, empty on success.
	Stage string

	EventID     string
	SourceName  string
	SourceEmail string

	// Deduplicated is true when an existing record was overwritten.
	Deduplicated bool

	StartTime time.Time
	Duration  time.Duration
	Error     string

	TraceID string
	SpanID  string
}

// NewMessageAudit creates a MessageAudit with timing started.
// Call one of the Complete methods when the message is done.
func NewMessageAudit(messageID string) *MessageAudit {
	return &MessageAudit{
		MessageID: messageID,
		StartTime: time.Now(),
	}
}

// SourceDomain returns the domain of the sender for lower-cardinality logging.
func (a *MessageAudit) SourceDomain() string {
	if a.SourceEmail == "" {
		return ""
	}
	return ExtractDomain(a.SourceEmail)
}

// WithEvent records the stored event's identity.
func (a *MessageAudit) WithEvent(eventID, sourceName, sourceEmail string) *MessageAudit {
	a.EventID = eventID
	a.SourceName = sourceName
	a.SourceEmail = sourceEmail
	return a
}

// WithSpanContext extracts trace context from the current span.
func (a *MessageAudit) WithSpanContext(ctx context.Context) *MessageAudit {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		a.TraceID = span.SpanContext().TraceID().String()
		a.SpanID = span.SpanContext().SpanID().String()
	}
	return a
}

// Complete sets the outcome and calculates the duration.
func (a *MessageAudit) Complete(outcome string) *MessageAudit {
	a.Duration = time.Since(a.StartTime)
	a.Outcome = outcome
	a.Deduplicated = outcome == OutcomeUpdated
	return a
}

// CompleteWithError marks the message as failed in stage.
func (a *MessageAudit) CompleteWithError(stage string, err error) *MessageAudit {
	a.Complete(OutcomeFailed)
	a.Stage = stage
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// Failed reports whether the message failed.
func (a *MessageAudit) Failed() bool {
	return a.Outcome == OutcomeFailed
}

func (a *MessageAudit) commonAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("message_id", a.MessageID),
		slog.String("outcome", a.Outcome),
		slog.Duration("duration", a.Duration),
	}

	if a.EventID != "" {
		attrs = append(attrs, slog.String("event_id", a.EventID))
	}
	if a.SourceName != "" {
		attrs = append(attrs, slog.String("source_name", a.SourceName))
	}
	if a.Deduplicated {
		attrs = append(attrs, slog.Bool("deduplicated", true))
	}
	if a.Stage != "" {
		attrs = append(attrs, slog.String("stage", a.Stage))
	}
	if a.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", a.TraceID))
	}
	return attrs
}

// LogAttrs returns slog attributes with the sender reduced to its domain.
func (a *MessageAudit) LogAttrs() []slog.Attr {
	attrs := a.commonAttrs()
	if d := a.SourceDomain(); d != "" {
		attrs = append(attrs, slog.String("source_domain", d))
	}
	if a.Error != "" {
		attrs = append(attrs, slog.String("error", a.Error))
	}
	return attrs
}

// LogAuditAttrs returns slog attributes including the full sender address.
func (a *MessageAudit) LogAuditAttrs() []slog.Attr {
	attrs := a.commonAttrs()
	if a.SourceEmail != "" {
		attrs = append(attrs, slog.String("source_email", a.SourceEmail))
	}
	if a.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", a.SpanID))
	}
	if a.Error != "" {
		attrs = append(attrs, slog.String("error", a.Error))
	}
	return attrs
}

// AuditLogger writes one structured record per processed message.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// PII is not included by default.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogMessage logs a message audit record. Failures are logged at warn level.
func (al *AuditLogger) LogMessage(a *MessageAudit) {
	if al == nil || !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = a.LogAuditAttrs()
	} else {
		attrs = a.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if a.Failed() {
		al.logger.Warn("message_failed", args...)
	} else {
		al.logger.Info("message_processed", args...)
	}
}
