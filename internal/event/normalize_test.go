package event

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_StartTime(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{name: "naive is UTC", input: "2024-05-01T10:00:00", want: "2024-05-01T10:00:00+00:00"},
		{name: "negative offset", input: "2024-05-01T10:00:00-04:00", want: "2024-05-01T14:00:00+00:00"},
		{name: "zulu", input: "2024-05-01T10:00:00Z", want: "2024-05-01T10:00:00+00:00"},
		{name: "compact offset", input: "2024-05-01T10:00:00+0530", want: "2024-05-01T04:30:00+00:00"},
		{name: "space separator", input: "2024-05-01 10:00", want: "2024-05-01T10:00:00+00:00"},
		{name: "date only", input: "2024-05-01", want: "2024-05-01T00:00:00+00:00"},
		{name: "fraction", input: "2024-05-01T10:00:00.250Z", want: "2024-05-01T10:00:00.250000+00:00"},
		{name: "comma fraction", input: "2024-05-01T10:00:00,5", want: "2024-05-01T10:00:00.500000+00:00"},
		{name: "basic format", input: "20240501T100000Z", want: "2024-05-01T10:00:00+00:00"},
		{name: "basic with offset", input: "20240501T1000+0200", want: "2024-05-01T08:00:00+00:00"},
		{name: "end of day", input: "2024-05-01T24:00:00", want: "2024-05-02T00:00:00+00:00"},
		{name: "zone name", input: "2024-05-01T10:00:00 UTC", want: "2024-05-01T10:00:00+00:00"},
		{name: "empty", input: "", want: ""},
		{name: "literal null", input: "null", want: ""},
		{name: "json null", input: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Normalize(map[string]any{"email_id": "m1", "start_time": tt.input})
			require.NoError(t, err)
			if got := ev.FormattedStartTime(); got != tt.want {
				t.Errorf("start_time = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalize_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		field string
	}{
		{name: "missing email_id", input: map[string]any{"title": "x"}, field: "email_id"},
		{name: "blank email_id", input: map[string]any{"email_id": "  "}, field: "email_id"},
		{name: "unknown field", input: map[string]any{"email_id": "m1", "venue": "x"}, field: "venue"},
		{name: "tags not a list", input: map[string]any{"email_id": "m1", "tags": "not a list"}, field: "tags"},
		{name: "malformed date", input: map[string]any{"email_id": "m1", "start_time": "next tuesday"}, field: "start_time"},
		{name: "impossible date", input: map[string]any{"email_id": "m1", "end_time": "2024-02-30T10:00:00"}, field: "end_time"},
		{name: "numeric date", input: map[string]any{"email_id": "m1", "created_at": 1714557600}, field: "created_at"},
		{name: "number for string", input: map[string]any{"email_id": "m1", "title": 42}, field: "title"},
		{name: "list for string", input: map[string]any{"email_id": "m1", "source_email": []any{"a"}}, field: "source_email"},
		{name: "hour out of range", input: map[string]any{"email_id": "m1", "start_time": "2024-05-01T25:00:00"}, field: "start_time"},
		{name: "nil payload", input: nil, field: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.input)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Normalize() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("ValidationError.Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestNormalize_Tags(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  []string
	}{
		{name: "mixed scalars", input: []any{"a", 1, true}, want: []string{"a", "1", "True"}},
		{name: "false and null", input: []any{false, nil}, want: []string{"False", "None"}},
		{name: "float", input: []any{1.5}, want: []string{"1.5"}},
		{name: "null", input: nil, want: nil},
		{name: "empty", input: []any{}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Normalize(map[string]any{"email_id": "m1", "tags": tt.input})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Tags)
		})
	}
}

func TestNormalize_BlankStripping(t *testing.T) {
	ev, err := Normalize(map[string]any{
		"email_id":    "m1",
		"title":       "   ",
		"description": "",
		"location":    "Town Hall",
		"source_name": "\t\n",
		"category":    nil,
	})
	require.NoError(t, err)

	assert.Nil(t, ev.Title)
	assert.Nil(t, ev.Description)
	assert.Nil(t, ev.SourceName)
	assert.Nil(t, ev.Category)
	require.NotNil(t, ev.Location)
	assert.Equal(t, "Town Hall", *ev.Location)

	rec := ev.Record(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	assert.Nil(t, rec.Title)
	assert.Nil(t, rec.SourceName)
}

func TestStripBlank_Nested(t *testing.T) {
	blank := " "
	kept := "x"
	v := struct {
		A *string
		B struct{ C *string }
		D *string
	}{A: &blank, D: &kept}
	v.B.C = &blank

	StripBlank(&v)

	assert.Nil(t, v.A)
	assert.Nil(t, v.B.C)
	assert.Equal(t, &kept, v.D)
}

func TestEventRecord(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("defaults", func(t *testing.T) {
		ev, err := Normalize(map[string]any{"email_id": "m1"})
		require.NoError(t, err)

		rec := ev.Record(now)
		assert.Equal(t, "m1", rec.EmailID)
		assert.Equal(t, []string{}, rec.Tags)
		assert.Equal(t, "2024-06-01T12:00:00+00:00", rec.CreatedAt)
		assert.Equal(t, "2024-06-01T12:00:00+00:00", rec.UpdatedAt)
		assert.Nil(t, rec.StartTime)
	})

	t.Run("keeps created_at", func(t *testing.T) {
		ev, err := Normalize(map[string]any{
			"email_id":   "m1",
			"created_at": "2024-01-01T08:00:00+02:00",
			"end_time":   "2024-05-01T18:00:00",
		})
		require.NoError(t, err)

		rec := ev.Record(now)
		assert.Equal(t, "2024-01-01T06:00:00+00:00", rec.CreatedAt)
		assert.Equal(t, "2024-06-01T12:00:00+00:00", rec.UpdatedAt)
		require.NotNil(t, rec.EndTime)
		assert.Equal(t, "2024-05-01T18:00:00+00:00", *rec.EndTime)
	})
}

func TestIdentityKey_Matches(t *testing.T) {
	acme := "Acme"
	other := "Other"

	tests := []struct {
		name   string
		key    IdentityKey
		record Record
		want   bool
	}{
		{"same source", IdentityKey{"m1", &acme}, Record{EmailID: "m1", SourceName: &acme}, true},
		{"both absent", IdentityKey{"m1", nil}, Record{EmailID: "m1"}, true},
		{"different source", IdentityKey{"m1", &acme}, Record{EmailID: "m1", SourceName: &other}, false},
		{"one absent", IdentityKey{"m1", nil}, Record{EmailID: "m1", SourceName: &acme}, false},
		{"different email", IdentityKey{"m2", &acme}, Record{EmailID: "m1", SourceName: &acme}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Matches(tt.record); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
