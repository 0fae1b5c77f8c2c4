package eventlog

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// wireTimeLayout is the on-the-wire timestamp format: ISO-8601 UTC with
// millisecond precision. Every serialized timestamp in the system uses it.
const wireTimeLayout = "2006-01-02T15:04:05.000Z"

// Timestamp is a time.Time that serializes with millisecond precision in UTC.
//
// The wire format is fixed ("2025-01-02T15:04:05.123Z") so that producers in
// other languages, the spillover files, and the server all agree byte-for-byte.
// Parsing is lenient: any RFC 3339 timestamp is accepted on input.
type Timestamp time.Time

// Now returns the current instant as a Timestamp, truncated to milliseconds.
func Now() Timestamp {
	return Timestamp(time.Now().UTC().Truncate(time.Millisecond))
}

// NewTimestamp converts a time.Time, truncating to millisecond precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t.UTC().Truncate(time.Millisecond))
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// IsZero reports whether the timestamp is the zero instant.
func (t Timestamp) IsZero() bool {
	return time.Time(t).IsZero()
}

// Before reports whether t is before other.
func (t Timestamp) Before(other Timestamp) bool {
	return time.Time(t).Before(time.Time(other))
}

// After reports whether t is after other.
func (t Timestamp) After(other Timestamp) bool {
	return time.Time(t).After(time.Time(other))
}

// Equal reports instant equality regardless of location.
func (t Timestamp) Equal(other Timestamp) bool {
	return time.Time(t).Equal(time.Time(other))
}

// String implements fmt.Stringer using the wire layout.
func (t Timestamp) String() string {
	return time.Time(t).UTC().Format(wireTimeLayout)
}

// MarshalJSON serializes to the wire layout. The zero instant serializes to
// null so server-assigned fields can be omitted by producers.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}

	return []byte(`"` + time.Time(t).UTC().Format(wireTimeLayout) + `"`), nil
}

// UnmarshalJSON accepts any RFC 3339 timestamp, with or without fractional
// seconds, and normalizes it to UTC millisecond precision.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}

		return nil
	}

	parsed, err := time.Parse(`"`+time.RFC3339Nano+`"`, string(data))
	if err != nil {
		parsed, err = time.Parse(`"`+time.RFC3339+`"`, string(data))
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", data, err)
		}
	}

	*t = NewTimestamp(parsed)

	return nil
}

// Scan implements sql.Scanner.
func (t *Timestamp) Scan(value any) error {
	if value == nil {
		*t = Timestamp{}

		return nil
	}

	v, ok := value.(time.Time)
	if !ok {
		return fmt.Errorf("cannot scan type %T into Timestamp", value)
	}

	*t = NewTimestamp(v)

	return nil
}

// Value implements driver.Valuer. The zero instant maps to NULL.
func (t Timestamp) Value() (driver.Value, error) {
	if time.Time(t).IsZero() {
		return nil, nil //nolint:nilnil // NULL column value
	}

	return time.Time(t).UTC(), nil
}
