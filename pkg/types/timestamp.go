package types

import (
	"strings"
	"time"
)

// wireTimestampLayout is the ISO-8601 millisecond-precision layout used on
// the wire and in storage: 2026-01-02T15:04:05.000Z.
const wireTimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp is a UTC instant serialized with millisecond precision. All
// oplog entries and task created_at/updated_at/deleted_at fields use it so
// that lexical and chronological order agree, which the replay algorithm
// depends on.
type Timestamp time.Time

// Now returns the current instant, rounded to millisecond precision in
// UTC. Every writer in the core calls this instead of time.Now() directly
// so that round-tripping through storage never changes a timestamp's value.
func Now() Timestamp {
	return Timestamp(time.Now().UTC().Round(time.Millisecond))
}

// Time returns the underlying time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.Time(t).UTC()
}

// Before reports whether t is strictly before u.
func (t Timestamp) Before(u Timestamp) bool {
	return t.Time().Before(u.Time())
}

// After reports whether t is strictly after u.
func (t Timestamp) After(u Timestamp) bool {
	return t.Time().After(u.Time())
}

// String formats t per wireTimestampLayout.
func (t Timestamp) String() string {
	return t.Time().Format(wireTimestampLayout)
}

// ParseTimestamp parses the wire/storage format. It also accepts a missing
// sub-second component and any RFC 3339 timestamp (other fractional
// precisions, numeric offsets), since oplog entries authored by other
// implementations of this protocol may round differently. A timestamp with
// no zone designator at all is rejected.
func ParseTimestamp(s string) (Timestamp, error) {
	if s == "" {
		return Timestamp{}, nil
	}
	layouts := []string{
		wireTimestampLayout,
		"2006-01-02T15:04:05Z",
		time.RFC3339Nano,
		time.RFC3339,
	}
	var lastErr error
	for _, layout := range layouts {
		if tm, err := time.Parse(layout, s); err == nil {
			return Timestamp(tm.UTC().Round(time.Millisecond)), nil
		} else {
			lastErr = err
		}
	}
	return Timestamp{}, lastErr
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsZero reports whether t is the zero timestamp.
func (t Timestamp) IsZero() bool {
	return t.Time().IsZero()
}
