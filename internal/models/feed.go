package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FeedQuery selects which entries a channel field request returns.
// Results limits the entry count; Days and Timezone select a trailing window.
type FeedQuery struct {
	Results  int
	Days     int
	Timezone string
}

// FeedResponse is the body of a ThingSpeak channel/field request.
type FeedResponse struct {
	Channel *ChannelInfo `json:"channel,omitempty"`
	Feeds   []Feed       `json:"feeds"`
}

// ChannelInfo is the channel header ThingSpeak sends along with the feeds.
type ChannelInfo struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	LastEntryID int64  `json:"last_entry_id"`
}

// Feed is one entry of a channel. Field values are kept as the raw JSON
// value (string or json.Number) so parsing sees the original text.
type Feed struct {
	CreatedAt string
	EntryID   int64
	Fields    map[string]any
}

// Field returns the raw value of field<n>, or nil when absent.
func (f Feed) Field(n int) any {
	return f.Fields[fieldKey(n)]
}

func (f *Feed) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	*f = Feed{Fields: make(map[string]any)}
	for key, value := range raw {
		switch {
		case key == "created_at":
			if s, ok := value.(string); ok {
				f.CreatedAt = s
			}
		case key == "entry_id":
			if n, ok := value.(json.Number); ok {
				f.EntryID, _ = n.Int64()
			}
		case strings.HasPrefix(key, "field"):
			f.Fields[key] = value
		}
	}
	return nil
}

func (f Feed) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Fields)+2)
	for key, value := range f.Fields {
		out[key] = value
	}
	out["created_at"] = f.CreatedAt
	if f.EntryID != 0 {
		out["entry_id"] = f.EntryID
	}
	return json.Marshal(out)
}

func fieldKey(n int) string {
	return "field" + strconv.Itoa(n)
}
