package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

const dateLayout = "2006-01-02"

// ParseTimestamp parses an ISO-8601 date or date-time in extended or basic
// format. Values without an offset are taken to be UTC. The result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	c, nextDay := canonicalTimestamp(strings.TrimSpace(s))
	t, err := iso8601.ParseString(c)
	if err != nil {
		return time.Time{}, fmt.Errorf("not an ISO-8601 timestamp: %q: %w", s, err)
	}
	// Feb 30 and friends must not roll over into the next month.
	if len(c) < len(dateLayout) || t.Format(dateLayout) != c[:len(dateLayout)] {
		return time.Time{}, fmt.Errorf("timestamp out of range: %q", s)
	}
	if nextDay {
		t = t.AddDate(0, 0, 1)
	}
	return t.UTC(), nil
}

// canonicalTimestamp rewrites the layout variants models produce into the
// extended YYYY-MM-DDThh:mm:ss[.f][zone] form. End-of-day 24:00:00 becomes
// midnight with nextDay set.
func canonicalTimestamp(s string) (c string, nextDay bool) {
	if head, ok := cutZoneName(s); ok {
		s = head + "Z"
	}

	date, clock := s, ""
	if i := strings.IndexAny(s, "Tt "); i >= 0 {
		date, clock = s[:i], strings.TrimSpace(s[i+1:])
	}
	if len(date) == 8 && allDigits(date) {
		date = date[:4] + "-" + date[4:6] + "-" + date[6:]
	}
	if clock == "" {
		return date + "T00:00:00", false
	}

	tod, zone := clock, ""
	if i := strings.IndexAny(clock, "Zz+-"); i >= 0 {
		tod, zone = strings.TrimSpace(clock[:i]), canonicalZone(clock[i:])
	}
	frac := ""
	if i := strings.IndexAny(tod, ".,"); i >= 0 {
		tod, frac = tod[:i], "."+tod[i+1:]
	}
	if allDigits(tod) {
		switch len(tod) {
		case 4:
			tod = tod[:2] + ":" + tod[2:]
		case 6:
			tod = tod[:2] + ":" + tod[2:4] + ":" + tod[4:]
		}
	}
	if len(tod) == len("15:04") {
		tod += ":00"
	}
	if tod == "24:00:00" && strings.Trim(frac, ".0") == "" {
		tod, frac, nextDay = "00:00:00", "", true
	}
	return date + "T" + tod + frac + zone, nextDay
}

func canonicalZone(zone string) string {
	if zone == "z" {
		return "Z"
	}
	if len(zone) < 3 || (zone[0] != '+' && zone[0] != '-') || !allDigits(zone[1:3]) {
		return zone
	}
	rest := strings.TrimPrefix(zone[3:], ":")
	if rest == "" {
		rest = "00"
	}
	return zone[:3] + ":" + rest
}

func cutZoneName(s string) (string, bool) {
	for _, name := range []string{"UTC", "GMT"} {
		if head, ok := strings.CutSuffix(s, name); ok && head != "" {
			return strings.TrimSpace(head), true
		}
	}
	return s, false
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatTimestamp renders t in UTC as ISO-8601 with an explicit +00:00 offset.
// Sub-second precision is kept to microseconds and omitted when zero.
func FormatTimestamp(t time.Time) string {
	t = t.UTC().Truncate(time.Microsecond)
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05+00:00")
	}
	return t.Format("2006-01-02T15:04:05.000000+00:00")
}
