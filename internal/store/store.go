// Package store persists event records in a keyed table with secondary
// indexes on start_time, category and source_name.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/teemow/inboxevents/internal/event"
	"github.com/teemow/inboxevents/internal/instrumentation"
)

// Secondary index names. The DynamoDB backend creates them as global
// secondary indexes; the SQL backends create plain indexes on the columns.
const (
	IndexCategory   = "category-index"
	IndexSourceName = "source_name-index"
	IndexStartTime  = "start_time-index"
)

// Store is a keyed event table.
type Store interface {
	// QueryByStartTime returns the records whose start_time equals startTime,
	// using the start_time index.
	QueryByStartTime(ctx context.Context, startTime string) ([]event.Record, error)

	// ScanByEmailID returns every record with the given email_id, in storage order.
	ScanByEmailID(ctx context.Context, emailID string) ([]event.Record, error)

	// Put writes rec, replacing any record with the same id.
	Put(ctx context.Context, rec event.Record) error

	// EnsureSchema creates the table and its indexes when missing.
	EnsureSchema(ctx context.Context) error

	// Backend names the implementation for logs and metrics.
	Backend() string

	Close() error
}

// Error wraps a backend failure.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Op: op, Err: err}
}

// Instrument wraps s so every call records a span and store metrics.
func Instrument(s Store, m *instrumentation.Metrics) Store {
	if m == nil {
		m = &instrumentation.Metrics{}
	}
	return &instrumented{Store: s, metrics: m}
}

type instrumented struct {
	Store
	metrics *instrumentation.Metrics
}

func observe[T any](ctx context.Context, s *instrumented, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := instrumentation.StartStoreSpan(ctx, s.Backend(), op)
	defer span.End()

	start := time.Now()
	v, err := fn(ctx)
	s.metrics.RecordStoreOperation(ctx, s.Backend(), op, err, time.Since(start))
	instrumentation.SetSpanResult(span, err)
	return v, err
}

func (s *instrumented) QueryByStartTime(ctx context.Context, startTime string) ([]event.Record, error) {
	return observe(ctx, s, instrumentation.OperationQuery, func(ctx context.Context) ([]event.Record, error) {
		return s.Store.QueryByStartTime(ctx, startTime)
	})
}

func (s *instrumented) ScanByEmailID(ctx context.Context, emailID string) ([]event.Record, error) {
	return observe(ctx, s, instrumentation.OperationScan, func(ctx context.Context) ([]event.Record, error) {
		return s.Store.ScanByEmailID(ctx, emailID)
	})
}

func (s *instrumented) Put(ctx context.Context, rec event.Record) error {
	_, err := observe(ctx, s, instrumentation.OperationPut, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.Store.Put(ctx, rec)
	})
	return err
}

func (s *instrumented) EnsureSchema(ctx context.Context) error {
	_, err := observe(ctx, s, instrumentation.OperationCreateTable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.Store.EnsureSchema(ctx)
	})
	return err
}
