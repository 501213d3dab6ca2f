// Package pipeline runs one ingestion pass: list the mailbox once, then for
// each message fetch, extract, normalize and upsert, counting outcomes.
//
// Messages are processed sequentially. A failure in one message, including a
// panic, is counted and the run moves on; only a listing failure aborts it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/inboxevents/internal/dedup"
	"github.com/teemow/inboxevents/internal/event"
	"github.com/teemow/inboxevents/internal/gmail"
	"github.com/teemow/inboxevents/internal/instrumentation"
	"github.com/teemow/inboxevents/internal/logging"
)

// Mailbox lists and fetches mail messages.
type Mailbox interface {
	ListMessageIDs(ctx context.Context, query string) ([]string, error)
	FetchMessage(ctx context.Context, messageID string) (*gmail.Message, error)
}

// Extractor turns message text into a raw event payload.
type Extractor interface {
	Extract(ctx context.Context, apiKey, text, messageID string) (map[string]any, error)
}

// Upserter writes a normalized event.
type Upserter interface {
	Upsert(ctx context.Context, ev *event.Event) (dedup.Outcome, error)
}

// Options configures a Runner.
type Options struct {
	Mailbox   Mailbox
	Extractor Extractor
	Upserter  Upserter

	// APIKey is passed to the extractor on every call.
	APIKey string

	// MaxMessages limits how many listed messages are processed. 0 means all.
	MaxMessages int

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
}

// Request is one run's input.
type Request struct {
	Query string
}

// Summary holds the counters of a run. Deduplicated counts the updates and
// is never larger than Updated.
type Summary struct {
	Processed    int `json:"processed"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Deduplicated int `json:"deduplicated"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
}

func (s Summary) counts() map[string]int {
	return map[string]int{
		instrumentation.OutcomeCreated: s.Created,
		instrumentation.OutcomeUpdated: s.Updated,
		instrumentation.OutcomeFailed:  s.Failed,
		instrumentation.OutcomeSkipped: s.Skipped,
	}
}

// LogAttrs returns the counters as slog attributes.
func (s Summary) LogAttrs() []any {
	return []any{
		slog.Int("processed", s.Processed),
		slog.Int("created", s.Created),
		slog.Int("updated", s.Updated),
		slog.Int("deduplicated", s.Deduplicated),
		slog.Int("failed", s.Failed),
		slog.Int("skipped", s.Skipped),
	}
}

// Runner executes ingestion runs.
type Runner struct {
	opts    Options
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		opts:    opts,
		metrics: metrics,
		logger:  logging.WithOperation(logger, "ingest"),
	}
}

// stageError is a per-message failure in a named stage.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// errEmpty marks a message without usable text.
var errEmpty = errors.New("message has no text")

// Run lists the messages matching req.Query and processes them in order.
// A listing error is returned with a zero summary. Cancelling ctx stops the
// run between messages and returns the counters so far with ctx.Err().
func (r *Runner) Run(ctx context.Context, req Request) (Summary, error) {
	var sum Summary

	ids, err := r.opts.Mailbox.ListMessageIDs(ctx, req.Query)
	if err != nil {
		r.metrics.RecordRun(ctx, err, sum.counts())
		return sum, fmt.Errorf("list messages: %w", err)
	}
	if r.opts.MaxMessages > 0 && len(ids) > r.opts.MaxMessages {
		r.logger.Info("limiting run", slog.Int("listed", len(ids)), slog.Int("max_messages", r.opts.MaxMessages))
		ids = ids[:r.opts.MaxMessages]
	}
	r.logger.Info("messages listed", slog.String("query", req.Query), slog.Int("count", len(ids)))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run cancelled", logging.Err(err))
			r.metrics.RecordRun(ctx, err, sum.counts())
			return sum, err
		}

		sum.Processed++
		outcome := r.processMessage(ctx, id)
		switch outcome {
		case instrumentation.OutcomeCreated:
			sum.Created++
		case instrumentation.OutcomeUpdated:
			sum.Updated++
			sum.Deduplicated++
		case instrumentation.OutcomeSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	r.logger.Info("run finished", sum.LogAttrs()...)
	r.metrics.RecordRun(ctx, nil, sum.counts())
	return sum, nil
}

// processMessage handles one message and returns its outcome. It never panics.
func (r *Runner) processMessage(ctx context.Context, id string) (outcome string) {
	ctx, span := instrumentation.StartMessageSpan(ctx, id)
	defer span.End()

	audit := instrumentation.NewMessageAudit(id).WithSpanContext(ctx)
	logger := logging.WithMessage(r.logger, id)

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			logger.Error("message processing panicked", logging.Err(err))
			instrumentation.SetSpanError(span, err)
			audit.CompleteWithError("", err)
			outcome = instrumentation.OutcomeFailed
		}
		span.SetAttributes(attribute.String(instrumentation.SpanAttrOutcome, outcome))
		r.opts.Audit.LogMessage(audit)
		r.metrics.RecordMessage(ctx, outcome, audit.SourceDomain())
	}()

	ev, res, err := r.handle(ctx, id)
	var se *stageError
	switch {
	case errors.Is(err, errEmpty):
		logger.Debug("skipping message without text")
		audit.Complete(instrumentation.OutcomeSkipped)
		instrumentation.SetSpanSuccess(span)
		return instrumentation.OutcomeSkipped
	case errors.As(err, &se):
		logger.Warn("message failed", logging.Stage(se.stage), logging.Err(se.err))
		audit.CompleteWithError(se.stage, se.err)
		instrumentation.SetSpanError(span, err)
		return instrumentation.OutcomeFailed
	}

	outcome = instrumentation.OutcomeCreated
	if res == dedup.Updated {
		outcome = instrumentation.OutcomeUpdated
	}
	audit.WithEvent(ev.ID, event.StringValue(ev.SourceName), event.StringValue(ev.SourceEmail)).Complete(outcome)
	instrumentation.SetSpanSuccess(span)
	logger.Debug("message stored", logging.EventID(ev.ID), logging.Outcome(outcome))
	return outcome
}

func (r *Runner) handle(ctx context.Context, id string) (*event.Event, dedup.Outcome, error) {
	var msg *gmail.Message
	err := r.stage(ctx, instrumentation.StageFetch, func() (err error) {
		msg, err = r.opts.Mailbox.FetchMessage(ctx, id)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	if msg == nil || msg.Empty() {
		return nil, 0, errEmpty
	}

	var raw map[string]any
	err = r.stage(ctx, instrumentation.StageExtract, func() (err error) {
		raw, err = r.opts.Extractor.Extract(ctx, r.opts.APIKey, msg.ModelInput(), id)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	var ev *event.Event
	err = r.stage(ctx, instrumentation.StageNormalize, func() (err error) {
		ev, err = event.Normalize(raw)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	var res dedup.Outcome
	err = r.stage(ctx, instrumentation.StageUpsert, func() (err error) {
		res, err = r.opts.Upserter.Upsert(ctx, ev)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return ev, res, nil
}

func (r *Runner) stage(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.metrics.RecordStage(ctx, name, err, time.Since(start))
	if err != nil {
		return &stageError{stage: name, err: err}
	}
	return nil
}
