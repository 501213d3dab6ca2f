package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/teemow/inboxevents/internal/event"
)

// newSQLiteStore returns a migrated in-memory store private to the test.
func newSQLiteStore(t *testing.T) *SQLite {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	s := NewSQLite(db, "events")
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func record(id, emailID string, source *string, start *string) event.Record {
	return event.Record{
		ID:         id,
		EmailID:    emailID,
		Title:      strPtr("Title " + id),
		SourceName: source,
		StartTime:  start,
		Tags:       []string{"a", "b"},
		CreatedAt:  "2024-01-01T00:00:00+00:00",
		UpdatedAt:  "2024-01-01T00:00:00+00:00",
	}
}

func TestSQLite_PutAndQuery(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	start := strPtr("2024-05-01T18:00:00+00:00")
	require.NoError(t, s.Put(ctx, record("1", "m1", strPtr("Museum"), start)))
	require.NoError(t, s.Put(ctx, record("2", "m2", nil, start)))
	require.NoError(t, s.Put(ctx, record("3", "m3", nil, strPtr("2024-06-01T00:00:00+00:00"))))

	recs, err := s.QueryByStartTime(ctx, *start)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	ids := []string{recs[0].ID, recs[1].ID}
	assert.ElementsMatch(t, []string{"1", "2"}, ids)
	for _, r := range recs {
		assert.Equal(t, []string{"a", "b"}, r.Tags)
	}

	none, err := s.QueryByStartTime(ctx, "1999-01-01T00:00:00+00:00")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_PutReplaces(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	rec := record("1", "m1", strPtr("Museum"), nil)
	require.NoError(t, s.Put(ctx, rec))

	rec.Title = nil
	rec.Tags = nil
	rec.UpdatedAt = "2024-02-01T00:00:00+00:00"
	require.NoError(t, s.Put(ctx, rec))

	recs, err := s.ScanByEmailID(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Title)
	assert.Equal(t, []string{}, recs[0].Tags)
	assert.Equal(t, "2024-02-01T00:00:00+00:00", recs[0].UpdatedAt)
	assert.Equal(t, "Museum", *recs[0].SourceName)
}

func TestSQLite_ScanByEmailID_Paginates(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	n := scanPageSize + 7
	for i := 0; i < n; i++ {
		require.NoError(t, s.Put(ctx, record(fmt.Sprintf("id-%04d", i), "shared", nil, nil)))
	}
	require.NoError(t, s.Put(ctx, record("other", "different", nil, nil)))

	recs, err := s.ScanByEmailID(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, recs, n)

	for _, r := range recs {
		assert.Equal(t, "shared", r.EmailID)
	}
}

func TestSQLite_EnsureSchemaIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	assert.NoError(t, s.EnsureSchema(context.Background()))
	assert.Equal(t, BackendSQLite, s.Backend())
}

func TestOpenSQLite_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "events.db")

	s, err := OpenSQLite(path, "events")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.Put(context.Background(), record("1", "m1", nil, nil)))
	assert.FileExists(t, path)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "mongo", Table: "events"})
	assert.Error(t, err)
}
