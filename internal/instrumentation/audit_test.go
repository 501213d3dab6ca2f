package instrumentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

const (
	testMessageID = "18c2f0a9"
	testEventID   = "0b7e0c1e-6f7a-4c1c-9a40-3b1c55f0d2aa"
	testSender    = "events@museum.example"
)

func TestMessageAudit_Complete(t *testing.T) {
	a := NewMessageAudit(testMessageID)
	if a.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}

	a.WithEvent(testEventID, "City Museum", testSender).Complete(OutcomeUpdated)

	if a.Outcome != OutcomeUpdated {
		t.Errorf("Outcome = %q, want %q", a.Outcome, OutcomeUpdated)
	}
	if !a.Deduplicated {
		t.Error("updated outcome should be marked as deduplicated")
	}
	if a.Failed() {
		t.Error("Failed() should be false")
	}
	if a.SourceDomain() != "museum.example" {
		t.Errorf("SourceDomain() = %q", a.SourceDomain())
	}
}

func TestMessageAudit_CompleteWithError(t *testing.T) {
	a := NewMessageAudit(testMessageID).CompleteWithError(StageExtract, errors.New("no content"))

	if !a.Failed() {
		t.Error("Failed() should be true")
	}
	if a.Stage != StageExtract {
		t.Errorf("Stage = %q, want %q", a.Stage, StageExtract)
	}
	if a.Error != "no content" {
		t.Errorf("Error = %q", a.Error)
	}
	if a.SourceDomain() != "" {
		t.Errorf("SourceDomain() = %q, want empty", a.SourceDomain())
	}
}

func TestMessageAudit_WithSpanContext(t *testing.T) {
	recordSpans(t)

	ctx, span := StartMessageSpan(context.Background(), testMessageID)
	defer span.End()

	a := NewMessageAudit(testMessageID).WithSpanContext(ctx)
	if a.TraceID == "" || a.SpanID == "" {
		t.Errorf("expected trace and span ids, got %q %q", a.TraceID, a.SpanID)
	}

	empty := NewMessageAudit(testMessageID).WithSpanContext(context.Background())
	if empty.TraceID != "" {
		t.Errorf("expected no trace id, got %q", empty.TraceID)
	}
}

func TestMessageAudit_Attrs(t *testing.T) {
	a := NewMessageAudit(testMessageID).
		WithEvent(testEventID, "City Museum", testSender).
		Complete(OutcomeCreated)

	keys := func(attrs []slog.Attr) map[string]string {
		m := make(map[string]string, len(attrs))
		for _, attr := range attrs {
			m[attr.Key] = attr.Value.String()
		}
		return m
	}

	redacted := keys(a.LogAttrs())
	if _, ok := redacted["source_email"]; ok {
		t.Error("LogAttrs must not include the sender address")
	}
	if redacted["source_domain"] != "museum.example" {
		t.Errorf("source_domain = %q", redacted["source_domain"])
	}
	if _, ok := redacted["deduplicated"]; ok {
		t.Error("created outcome should not be marked deduplicated")
	}

	full := keys(a.LogAuditAttrs())
	if full["source_email"] != testSender {
		t.Errorf("source_email = %q", full["source_email"])
	}
	if full["event_id"] != testEventID {
		t.Errorf("event_id = %q", full["event_id"])
	}
}

func TestAuditLogger_LogMessage(t *testing.T) {
	tests := []struct {
		name       string
		config     AuditLoggingConfig
		audit      *MessageAudit
		wantMsg    string
		wantLevel  string
		wantSender bool
	}{
		{
			name:      "processed without pii",
			config:    AuditLoggingConfig{Enabled: true},
			audit:     NewMessageAudit(testMessageID).WithEvent(testEventID, "", testSender).Complete(OutcomeCreated),
			wantMsg:   "message_processed",
			wantLevel: "INFO",
		},
		{
			name:       "processed with pii",
			config:     AuditLoggingConfig{Enabled: true, IncludePII: true},
			audit:      NewMessageAudit(testMessageID).WithEvent(testEventID, "", testSender).Complete(OutcomeCreated),
			wantMsg:    "message_processed",
			wantLevel:  "INFO",
			wantSender: true,
		},
		{
			name:      "failed",
			config:    AuditLoggingConfig{Enabled: true},
			audit:     NewMessageAudit(testMessageID).CompleteWithError(StageUpsert, errors.New("throttled")),
			wantMsg:   "message_failed",
			wantLevel: "WARN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			NewAuditLoggerWithConfig(logger, tt.config).LogMessage(tt.audit)

			var record map[string]any
			if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
				t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
			}
			if record["msg"] != tt.wantMsg {
				t.Errorf("msg = %v, want %s", record["msg"], tt.wantMsg)
			}
			if record["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", record["level"], tt.wantLevel)
			}
			if record["message_id"] != testMessageID {
				t.Errorf("message_id = %v", record["message_id"])
			}
			_, hasSender := record["source_email"]
			if hasSender != tt.wantSender {
				t.Errorf("source_email present = %v, want %v", hasSender, tt.wantSender)
			}
		})
	}
}

func TestAuditLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: false}).
		LogMessage(NewMessageAudit(testMessageID).Complete(OutcomeCreated))

	var nilLogger *AuditLogger
	nilLogger.LogMessage(NewMessageAudit(testMessageID))

	if strings.TrimSpace(buf.String()) != "" {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestNewAuditLogger_DefaultsToSlogDefault(t *testing.T) {
	al := NewAuditLogger(nil)
	if al.logger == nil {
		t.Fatal("expected default logger")
	}
	if al.includePII {
		t.Error("PII should be excluded by default")
	}
}
