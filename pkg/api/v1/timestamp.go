package v1

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Timestamp is a progress-log timestamp as produced by the analysis backend.
// The backend emits either epoch milliseconds (JSON number) or ISO-like
// strings with fractional seconds of varying precision. String timestamps
// are normalized by truncating sub-millisecond precision and assuming UTC
// when no offset is present. Unparseable values are retained verbatim and
// reported as invalid rather than failing decode.
type Timestamp struct {
	t     time.Time
	valid bool
	raw   string
}

// NewTimestamp creates a valid Timestamp from a time.Time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC(), valid: true}
}

// InvalidTimestamp creates a Timestamp that failed to parse, retaining the
// raw wire value. Used by stores when rehydrating persisted entries.
func InvalidTimestamp(raw string) Timestamp {
	return Timestamp{raw: raw}
}

// Time returns the parsed time. Only meaningful when Valid is true.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// Valid reports whether the timestamp parsed successfully.
func (ts Timestamp) Valid() bool {
	return ts.valid
}

// Raw returns the original wire value for timestamps that failed to parse.
func (ts Timestamp) Raw() string {
	return ts.raw
}

// UnmarshalJSON decodes epoch milliseconds or ISO-like strings. It never
// returns an error for unparseable values: the raw input is kept and the
// timestamp is marked invalid, so a single bad entry cannot fail decoding
// of a whole log list.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*ts = Timestamp{raw: s}
		return nil
	}

	// Epoch milliseconds arrive as a bare JSON number.
	if s[0] != '"' {
		ms, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*ts = Timestamp{raw: s}
			return nil
		}
		*ts = Timestamp{t: time.UnixMilli(int64(ms)).UTC(), valid: true}
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		*ts = Timestamp{raw: s}
		return nil
	}

	t, ok := parseTimeString(str)
	if !ok {
		*ts = Timestamp{raw: str}
		return nil
	}
	*ts = Timestamp{t: t, valid: true}
	return nil
}

// MarshalJSON encodes valid timestamps as epoch milliseconds, matching the
// backend's canonical numeric form. Invalid timestamps round-trip their raw
// string value.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.valid {
		return []byte(strconv.FormatInt(ts.t.UnixMilli(), 10)), nil
	}
	if ts.raw == "" || ts.raw == "null" {
		return []byte("null"), nil
	}
	return json.Marshal(ts.raw)
}

// parseTimeString parses an ISO-like timestamp string. Fractional seconds
// beyond millisecond precision are truncated before parsing, and timestamps
// without an explicit offset are interpreted as UTC.
func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	// A string of digits is epoch milliseconds that arrived quoted.
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}

	s = truncateFraction(s)

	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999", // no offset: UTC assumed
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Truncate(time.Millisecond).UTC(), true
		}
	}
	return time.Time{}, false
}

// truncateFraction drops fractional-second digits beyond the third, keeping
// any trailing offset or Z suffix intact.
func truncateFraction(s string) string {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s
	}

	end := dot + 1
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	digits := s[dot+1 : end]
	if len(digits) <= 3 {
		return s
	}
	return s[:dot+1] + digits[:3] + s[end:]
}
