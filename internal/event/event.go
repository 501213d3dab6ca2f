// Package event defines the Event extracted from a mail message, the
// normalization rules applied to a raw model payload, and the flattened
// Record form that is written to the events table.
package event

import (
	"fmt"
	"time"
)

// Attributes holds the optional descriptive and provenance fields of an Event.
// A nil pointer means the field is absent; normalization never leaves an empty string behind.
type Attributes struct {
	Title              *string `json:"title"`
	Description        *string `json:"description"`
	Location           *string `json:"location"`
	NormalizedLocation *string `json:"normalized_location"`
	Category           *string `json:"category"`
	SourceName         *string `json:"source_name"`
	SourceEmail        *string `json:"source_email"`
	SourceDomain       *string `json:"source_domain"`
	OrganizerName      *string `json:"organizer_name"`
	OrganizerURL       *string `json:"organizer_url"`
	SourceURL          *string `json:"source_url"`
}

// Event is a normalized event extracted from one mail message.
type Event struct {
	// ID is the opaque store identifier. It is empty until the event has been
	// matched against or inserted into the store.
	ID string

	// EmailID is the provider message identifier the event was extracted from.
	EmailID string

	Attributes

	StartTime *time.Time
	EndTime   *time.Time
	CreatedAt *time.Time

	// Tags is nil when the payload carried no tags.
	Tags []string
}

// IdentityKey is the dedup key of an event.
type IdentityKey struct {
	EmailID    string
	SourceName *string
}

// Key returns the identity key of the event.
func (e *Event) Key() IdentityKey {
	return IdentityKey{EmailID: e.EmailID, SourceName: e.SourceName}
}

// Matches reports whether a stored record has the same identity key.
// Two absent source names are equal.
func (k IdentityKey) Matches(r Record) bool {
	return r.EmailID == k.EmailID && SameSource(k.SourceName, r.SourceName)
}

// SameSource compares two optional source names, treating nil as a value.
func SameSource(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ValidationError reports a payload that cannot be turned into an Event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid event payload: " + e.Reason
	}
	return fmt.Sprintf("invalid event payload: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StringValue dereferences an optional string, returning "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
