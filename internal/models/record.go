package models

import (
	"sort"
	"time"
)

// TimestampLayout is the ISO-8601 form used for persisted and snapshot
// timestamps (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is the persisted form of a last-known reading: {"v": 23.6, "at": "..."}.
// Snapshot documents use the same shape but may carry a null v.
type Record struct {
	V  *float64 `json:"v"`
	At *string  `json:"at"`
}

// NewRecord builds a record from a value and its observation time. A zero
// observedAt is stored as null.
func NewRecord(value float64, observedAt time.Time) Record {
	v := value
	rec := Record{V: &v}
	if !observedAt.IsZero() {
		at := FormatTimestamp(observedAt)
		rec.At = &at
	}
	return rec
}

// Reading converts the record into a Reading. ok is false when v is null or
// not finite. An unparseable at yields a zero ObservedAt.
func (r Record) Reading() (Reading, bool) {
	if r.V == nil || !IsFinite(*r.V) {
		return Reading{}, false
	}
	reading := Reading{Value: *r.V}
	if r.At != nil {
		reading.ObservedAt = ParseTimestamp(*r.At)
	}
	return reading, true
}

// Blob maps pool -> tile -> record. It is both the Reading Store's persisted
// document and the snapshot document.
type Blob map[string]map[string]Record

// Get returns the record for id.
func (b Blob) Get(id SensorID) (Record, bool) {
	tiles, ok := b[id.Pool]
	if !ok {
		return Record{}, false
	}
	rec, ok := tiles[id.Tile]
	return rec, ok
}

// Set stores rec under id, creating the pool entry if needed.
func (b Blob) Set(id SensorID, rec Record) {
	tiles, ok := b[id.Pool]
	if !ok {
		tiles = make(map[string]Record)
		b[id.Pool] = tiles
	}
	tiles[id.Tile] = rec
}

// Len returns the number of records across all pools.
func (b Blob) Len() int {
	n := 0
	for _, tiles := range b {
		n += len(tiles)
	}
	return n
}

// Sensors lists every id in the blob, sorted by pool then tile.
func (b Blob) Sensors() []SensorID {
	ids := make([]SensorID, 0, b.Len())
	for pool, tiles := range b {
		for tile := range tiles {
			ids = append(ids, SensorID{Pool: pool, Tile: tile})
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Pool != ids[j].Pool {
			return ids[i].Pool < ids[j].Pool
		}
		return ids[i].Tile < ids[j].Tile
	})
	return ids
}

// FormatTimestamp normalizes t to UTC in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the timestamp forms ThingSpeak and older snapshots
// use. It returns the zero time when s cannot be parsed.
func ParseTimestamp(s string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02 15:04:05 MST",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
