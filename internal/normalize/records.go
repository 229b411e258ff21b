package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SessionRecord is a session as it travels over the wire. Servers populate
// either ID or the legacy LegacyID, not reliably both.
type SessionRecord struct {
	ID        string    `json:"id,omitempty"`
	LegacyID  string    `json:"_id,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Name      string    `json:"name"`
	Archived  bool      `json:"archived"`
	ProjectID *string   `json:"projectId"`
	CreatedAt Timestamp `json:"createdAt"`
	UpdatedAt Timestamp `json:"updatedAt"`
}

type MessageRecord struct {
	ID        string    `json:"id,omitempty"`
	LegacyID  string    `json:"_id,omitempty"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	ImageData *string   `json:"imageData"`
	Timestamp Timestamp `json:"timestamp"`
	CreatedAt Timestamp `json:"createdAt"`
}

type ProjectRecord struct {
	ID          string    `json:"id,omitempty"`
	LegacyID    string    `json:"_id,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	CreatedAt   Timestamp `json:"createdAt"`
	UpdatedAt   Timestamp `json:"updatedAt"`
}

// Timestamp accepts RFC 3339 as well as the zone-less ISO datetimes the
// Python backend emits, which are UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
