package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Dash is shown in place of a value that has never been observed.
const Dash = "–"

// SensorID identifies one dashboard tile: a pool (facility) and a tile key within it.
type SensorID struct {
	Pool string `json:"pool"`
	Tile string `json:"tile"`
}

func (id SensorID) String() string {
	return id.Pool + "/" + id.Tile
}

// Reading is a single numeric observation from a telemetry field.
// A zero ObservedAt means the observation time is unknown.
type Reading struct {
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// IsValid reports whether the value is a finite number
func (r Reading) IsValid() bool {
	return IsFinite(r.Value)
}

func (r Reading) String() string {
	at := "unknown"
	if !r.ObservedAt.IsZero() {
		at = r.ObservedAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("Value: %s, ObservedAt: %s", FormatValue(r.Value), at)
}

// IsFinite reports whether v is neither NaN nor ±Inf.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Source tells where a displayed value came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceCache    Source = "cache"
	SourceSnapshot Source = "snapshot"
	SourceNone     Source = "none"
)

// DisplayReading is the value a tile shows after resolution.
type DisplayReading struct {
	Sensor     SensorID
	Value      float64
	ObservedAt time.Time
	HasValue   bool
	Source     Source
}

// Text renders the value the way the dashboard prints it.
func (d DisplayReading) Text() string {
	if !d.HasValue {
		return Dash
	}
	return FormatValue(d.Value)
}

type displayReadingJSON struct {
	Pool       string   `json:"pool"`
	Tile       string   `json:"tile"`
	Value      *float64 `json:"value"`
	Text       string   `json:"text"`
	ObservedAt *string  `json:"observed_at"`
	Source     Source   `json:"source"`
}

// MarshalJSON writes a missing value or timestamp as null, never as zero.
func (d DisplayReading) MarshalJSON() ([]byte, error) {
	out := displayReadingJSON{
		Pool:   d.Sensor.Pool,
		Tile:   d.Sensor.Tile,
		Text:   d.Text(),
		Source: d.Source,
	}
	if d.HasValue {
		v := d.Value
		out.Value = &v
	}
	if !d.ObservedAt.IsZero() {
		s := FormatTimestamp(d.ObservedAt)
		out.ObservedAt = &s
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *DisplayReading) UnmarshalJSON(data []byte) error {
	var in displayReadingJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*d = DisplayReading{
		Sensor: SensorID{Pool: in.Pool, Tile: in.Tile},
		Source: in.Source,
	}
	if in.Value != nil {
		d.Value = *in.Value
		d.HasValue = true
	}
	if in.ObservedAt != nil {
		d.ObservedAt = ParseTimestamp(*in.ObservedAt)
	}
	return nil
}

// HistoryPoint is one calendar day of a history view. A nil Value means the
// day had no valid samples.
type HistoryPoint struct {
	Date  time.Time
	Value *float64
}

// Text renders the point's value, or a dash for an empty day.
func (p HistoryPoint) Text() string {
	if p.Value == nil {
		return Dash
	}
	return FormatValue(*p.Value)
}

// DateKey is the local calendar date as YYYY-MM-DD.
func (p HistoryPoint) DateKey() string {
	return p.Date.Format(time.DateOnly)
}

type historyPointJSON struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
	Text  string   `json:"text"`
}

func (p HistoryPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(historyPointJSON{
		Date:  p.DateKey(),
		Value: p.Value,
		Text:  p.Text(),
	})
}

// UnmarshalJSON reads the date as midnight UTC; the zone is not encoded.
func (p *HistoryPoint) UnmarshalJSON(data []byte) error {
	var in historyPointJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	date, err := time.Parse(time.DateOnly, in.Date)
	if err != nil {
		return fmt.Errorf("history point date: %w", err)
	}
	*p = HistoryPoint{Date: date, Value: in.Value}
	return nil
}

// FormatValue formats v in German notation with at most one fraction digit:
// 23.56 -> "23,6", 7.0 -> "7", 1234.5 -> "1.234,5".
func FormatValue(v float64) string {
	if !IsFinite(v) {
		return Dash
	}
	s := strconv.FormatFloat(v, 'f', 1, 64)
	s = strings.TrimSuffix(s, ".0")

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte(',')
		b.WriteString(frac)
	}

	out := b.String()
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}
