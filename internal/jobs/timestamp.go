package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// The backend serializes local date-times without a zone; both forms are accepted.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Timestamp is a backend timestamp tolerant of zone-less encodings.
type Timestamp struct {
	time.Time
}

// NewTimestamp returns a pointer suitable for optional record fields.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

// UnmarshalJSON parses RFC 3339 or zone-less values; an empty string yields the zero time.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("decode timestamp: unsupported format %q", raw)
}

// MarshalJSON encodes the time as RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	data, err := json.Marshal(t.Time.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("encode timestamp: %w", err)
	}
	return data, nil
}
