package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSchema(t *testing.T) {
	s := EventSchema()

	assert.Equal(t, "object", s["type"])
	assert.Equal(t, false, s["additionalProperties"])
	assert.Equal(t, []any{"email_id"}, s["required"])
	assert.NotContains(t, s, "$schema")
	assert.NotContains(t, s, "$id")

	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)

	want := []string{
		"email_id", "title", "description", "location", "normalized_location", "category",
		"start_time", "end_time", "source_name", "source_email", "source_domain",
		"organizer_name", "organizer_url", "source_url", "tags",
	}
	assert.Len(t, props, len(want))

	for _, name := range want {
		prop, ok := props[name].(map[string]any)
		require.True(t, ok, "missing property %s", name)

		if name == "email_id" {
			assert.Equal(t, "string", prop["type"])
			continue
		}

		anyOf, ok := prop["anyOf"].([]any)
		require.True(t, ok, "%s should be nullable", name)
		require.Len(t, anyOf, 2)
		assert.Equal(t, map[string]any{"type": "null"}, anyOf[1])
		assert.NotEmpty(t, prop["description"], "%s should keep its description", name)
	}

	tags := props["tags"].(map[string]any)["anyOf"].([]any)[0].(map[string]any)
	assert.Equal(t, "array", tags["type"])

	start := props["start_time"].(map[string]any)["anyOf"].([]any)[0].(map[string]any)
	assert.Equal(t, "date-time", start["format"])
}

func TestEventSchema_IsStable(t *testing.T) {
	a, err := SchemaJSON()
	require.NoError(t, err)
	b, err := SchemaJSON()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
