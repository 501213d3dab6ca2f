package dedup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/teemow/inboxevents/internal/event"
	"github.com/teemow/inboxevents/internal/store"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *store.SQLite {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:dedup_"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	s := store.NewSQLite(db, "events")
	require.NoError(t, s.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEngine(s Store, policy Policy, logger *slog.Logger) *Engine {
	n := 0
	return New(Options{
		Store:  s,
		Policy: policy,
		Logger: logger,
		Now:    func() time.Time { return fixedNow },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func newEvent(emailID string, source *string, start *time.Time) *event.Event {
	return &event.Event{
		EmailID:    emailID,
		Attributes: event.Attributes{Title: strPtr("Opening"), SourceName: source},
		StartTime:  start,
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	s := newStore(t)
	e := newEngine(s, PolicyLenient, nil)
	ctx := context.Background()
	start := timePtr(time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC))

	outcome, err := e.Upsert(ctx, newEvent("m1", strPtr("Museum"), start))
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	outcome, err = e.Upsert(ctx, newEvent("m1", strPtr("Museum"), start))
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)

	recs, err := s.ScanByEmailID(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "id-1", recs[0].ID)
}

func TestUpsert_IndexPathUpdatesMatchingRecord(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	second := time.Date(2024, 6, 8, 18, 0, 0, 0, time.UTC)

	for _, r := range []event.Record{
		{ID: "a", EmailID: "m1", SourceName: strPtr("Museum"), StartTime: strPtr(event.FormatTimestamp(first)), Tags: []string{}, CreatedAt: "2024-01-01T00:00:00+00:00", UpdatedAt: "2024-01-01T00:00:00+00:00"},
		{ID: "b", EmailID: "m1", SourceName: strPtr("Museum"), StartTime: strPtr(event.FormatTimestamp(second)), Tags: []string{}, CreatedAt: "2024-01-02T00:00:00+00:00", UpdatedAt: "2024-01-02T00:00:00+00:00"},
	} {
		require.NoError(t, s.Put(ctx, r))
	}

	ev := newEvent("m1", strPtr("Museum"), timePtr(second))
	ev.Title = strPtr("Changed")

	outcome, err := newEngine(s, PolicyLenient, nil).Upsert(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, "b", ev.ID)

	recs, err := s.ScanByEmailID(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byID := map[string]event.Record{}
	for _, r := range recs {
		byID[r.ID] = r
	}
	assert.Nil(t, byID["a"].Title, "other record must be untouched")
	assert.Equal(t, "Changed", *byID["b"].Title)
	assert.Equal(t, "2024-01-02T00:00:00+00:00", byID["b"].CreatedAt, "created_at is preserved")
	assert.Equal(t, event.FormatTimestamp(fixedNow), byID["b"].UpdatedAt)
}

func TestUpsert_ScanPathWithoutStartTime(t *testing.T) {
	s := newStore(t)
	e := newEngine(s, PolicyStrict, nil)
	ctx := context.Background()

	outcome, err := e.Upsert(ctx, newEvent("m1", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	outcome, err = e.Upsert(ctx, newEvent("m1", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
}

func TestUpsert_FallbackPolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      Policy
		wantOutcome Outcome
		wantRecords int
		wantWarning bool
	}{
		{name: "lenient reuses first email_id match", policy: PolicyLenient, wantOutcome: Updated, wantRecords: 1, wantWarning: true},
		{name: "strict creates a new record", policy: PolicyStrict, wantOutcome: Created, wantRecords: 2},
		{name: "empty policy is lenient", policy: "", wantOutcome: Updated, wantRecords: 1, wantWarning: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			require.NoError(t, s.Put(ctx, event.Record{
				ID: "old", EmailID: "m1", SourceName: strPtr("Gallery"), Tags: []string{},
				CreatedAt: "2024-01-01T00:00:00+00:00", UpdatedAt: "2024-01-01T00:00:00+00:00",
			}))

			outcome, err := newEngine(s, tt.policy, logger).Upsert(ctx, newEvent("m1", strPtr("Museum"), nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, outcome)

			recs, err := s.ScanByEmailID(ctx, "m1")
			require.NoError(t, err)
			assert.Len(t, recs, tt.wantRecords)
			assert.Equal(t, tt.wantWarning, strings.Contains(buf.String(), "stored_source_name=Gallery"))
		})
	}
}

func TestUpsert_CreatedAtFromEvent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ev := newEvent("m1", nil, nil)
	ev.CreatedAt = timePtr(time.Date(2023, 12, 24, 9, 0, 0, 0, time.UTC))

	_, err := newEngine(s, PolicyLenient, nil).Upsert(ctx, ev)
	require.NoError(t, err)

	recs, err := s.ScanByEmailID(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2023-12-24T09:00:00+00:00", recs[0].CreatedAt)
	assert.Equal(t, []string{}, recs[0].Tags)
}

type brokenStore struct {
	queryErr, scanErr, putErr error
}

func (b *brokenStore) QueryByStartTime(context.Context, string) ([]event.Record, error) {
	return nil, b.queryErr
}

func (b *brokenStore) ScanByEmailID(context.Context, string) ([]event.Record, error) {
	return nil, b.scanErr
}

func (b *brokenStore) Put(context.Context, event.Record) error {
	return b.putErr
}

func TestUpsert_StorageErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	start := timePtr(fixedNow)

	tests := []struct {
		name  string
		store *brokenStore
		want  string
	}{
		{name: "query", store: &brokenStore{queryErr: boom}, want: "query by start time"},
		{name: "scan", store: &brokenStore{scanErr: boom}, want: "scan by email id"},
		{name: "put", store: &brokenStore{putErr: boom}, want: "write event id-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newEngine(tt.store, PolicyLenient, nil).Upsert(context.Background(), newEvent("m1", nil, start))
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
