// Package dedup decides whether a normalized event already exists in the
// store and writes it as a create or a full-replace update.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/inboxevents/internal/event"
	"github.com/teemow/inboxevents/internal/logging"
)

// Policy controls what the scan phase does when a record with the same
// email_id exists but none has a matching source_name.
type Policy string

const (
	// PolicyLenient reuses the first scanned record with the same email_id.
	PolicyLenient Policy = "lenient"

	// PolicyStrict requires a source_name match and creates a new record otherwise.
	PolicyStrict Policy = "strict"
)

// Outcome is the result of an upsert.
type Outcome int

const (
	Created Outcome = iota + 1
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Store is the part of the event store the engine reads and writes.
type Store interface {
	QueryByStartTime(ctx context.Context, startTime string) ([]event.Record, error)
	ScanByEmailID(ctx context.Context, emailID string) ([]event.Record, error)
	Put(ctx context.Context, rec event.Record) error
}

// Options configures an Engine.
type Options struct {
	Store  Store
	Policy Policy
	Logger *slog.Logger

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Engine resolves identity-key collisions. It is not safe for concurrent
// upserts of the same identity key.
type Engine struct {
	store  Store
	policy Policy
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an Engine. An empty policy means PolicyLenient.
func New(opts Options) *Engine {
	e := &Engine{
		store:  opts.Store,
		policy: opts.Policy,
		logger: opts.Logger,
		now:    opts.Now,
		newID:  opts.NewID,
	}
	if e.policy == "" {
		e.policy = PolicyLenient
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

// Upsert writes ev, reusing the id and created_at of an existing record with
// the same identity key. On success ev.ID holds the stored id.
func (e *Engine) Upsert(ctx context.Context, ev *event.Event) (Outcome, error) {
	existing, err := e.find(ctx, ev)
	if err != nil {
		return 0, err
	}

	rec := ev.Record(e.now().UTC())
	outcome := Created
	if existing != nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		outcome = Updated
	} else {
		rec.ID = e.newID()
	}

	if err := e.store.Put(ctx, rec); err != nil {
		return 0, fmt.Errorf("write event %s: %w", rec.ID, err)
	}
	ev.ID = rec.ID
	return outcome, nil
}

func (e *Engine) find(ctx context.Context, ev *event.Event) (*event.Record, error) {
	key := ev.Key()

	if start := ev.FormattedStartTime(); start != "" {
		recs, err := e.store.QueryByStartTime(ctx, start)
		if err != nil {
			return nil, fmt.Errorf("query by start time: %w", err)
		}
		for i := range recs {
			if key.Matches(recs[i]) {
				return &recs[i], nil
			}
		}
	}

	recs, err := e.store.ScanByEmailID(ctx, ev.EmailID)
	if err != nil {
		return nil, fmt.Errorf("scan by email id: %w", err)
	}

	var first *event.Record
	for i := range recs {
		if recs[i].EmailID != ev.EmailID {
			continue
		}
		if event.SameSource(key.SourceName, recs[i].SourceName) {
			return &recs[i], nil
		}
		if first == nil {
			first = &recs[i]
		}
	}

	if first == nil || e.policy == PolicyStrict {
		return nil, nil
	}

	e.logger.WarnContext(ctx, "reusing record with a different source name",
		logging.MessageID(ev.EmailID),
		logging.EventID(first.ID),
		slog.String("source_name", event.StringValue(key.SourceName)),
		slog.String("stored_source_name", event.StringValue(first.SourceName)))
	return first, nil
}
