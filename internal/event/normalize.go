package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// payload mirrors the model output. Datetimes and tags are decoded loosely
// so they can be coerced; everything else must match its declared type.
type payload struct {
	EmailID   *string `json:"email_id"`
	StartTime any     `json:"start_time"`
	EndTime   any     `json:"end_time"`
	CreatedAt any     `json:"created_at"`
	Tags      any     `json:"tags"`
	Attributes
}

// Normalize validates a raw model payload and converts it into an Event.
// Any failure is returned as a *ValidationError.
func Normalize(raw map[string]any) (*Event, error) {
	if raw == nil {
		return nil, invalid("", "payload is empty")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, invalid("", "payload is not serializable: %v", err)
	}
	return NormalizeJSON(data)
}

// NormalizeJSON is Normalize for an encoded JSON object.
func NormalizeJSON(data []byte) (*Event, error) {
	p, err := decodePayload(data)
	if err != nil {
		return nil, err
	}

	ev := &Event{Attributes: p.Attributes}

	if p.EmailID == nil || strings.TrimSpace(*p.EmailID) == "" {
		return nil, invalid("email_id", "is required")
	}
	ev.EmailID = *p.EmailID

	if ev.Tags, err = coerceTags(p.Tags); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		name string
		in   any
		out  **time.Time
	}{
		{"start_time", p.StartTime, &ev.StartTime},
		{"end_time", p.EndTime, &ev.EndTime},
		{"created_at", p.CreatedAt, &ev.CreatedAt},
	} {
		if *f.out, err = coerceTime(f.name, f.in); err != nil {
			return nil, err
		}
	}

	StripBlank(ev)
	return ev, nil
}

func decodePayload(data []byte) (*payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var p payload
	if err := dec.Decode(&p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			// Field is a dotted path through embedded structs; report the JSON key.
			field := typeErr.Field
			if i := strings.LastIndexByte(field, '.'); i >= 0 {
				field = field[i+1:]
			}
			return nil, invalid(field, "expected %s, got %s", typeErr.Type, typeErr.Value)
		}
		if field, ok := unknownField(err); ok {
			return nil, invalid(field, "unknown field")
		}
		return nil, invalid("", "%v", err)
	}
	return &p, nil
}

func unknownField(err error) (string, bool) {
	const prefix = "json: unknown field "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(msg, prefix), `"`), true
}

// coerceTags stringifies every element of a list. null stays nil; any
// other shape is rejected.
func coerceTags(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, invalid("tags", "expected a list, got %T", v)
	}
	tags := make([]string, 0, len(list))
	for _, item := range list {
		tags = append(tags, tagString(item))
	}
	return tags, nil
}

func tagString(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func coerceTime(field string, v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") {
			return nil, nil
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return nil, invalid(field, "%v", err)
		}
		return &parsed, nil
	default:
		return nil, invalid(field, "expected an ISO-8601 string, got %T", v)
	}
}

var stringPtrType = reflect.TypeOf((*string)(nil))

// StripBlank replaces every optional string field of v that is empty or
// whitespace-only with nil. It descends into embedded and nested structs.
func StripBlank(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	stripBlank(rv.Elem())
}

func stripBlank(v reflect.Value) {
	if v.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !f.CanSet() {
			continue
		}
		switch {
		case f.Type() == stringPtrType:
			if !f.IsNil() && strings.TrimSpace(f.Elem().String()) == "" {
				f.Set(reflect.Zero(stringPtrType))
			}
		case f.Kind() == reflect.Struct:
			stripBlank(f)
		}
	}
}
