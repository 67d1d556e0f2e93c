package sensor

import (
	"time"

	"github.com/afroash/baeder-monitor/internal/models"
	"github.com/rs/zerolog"
)

// ReadingStore is the last-known-value cache the resolver reads and updates.
type ReadingStore interface {
	Get(id models.SensorID) (models.Reading, bool)
	Put(id models.SensorID, value float64, observedAt time.Time)
}

// ResolveRecorder receives one call per resolution.
type ResolveRecorder interface {
	Resolved(source string)
}

// FetchResult is the outcome of one latest-value fetch for a sensor.
// Err is set when the request or decoding failed; Valid is false when no
// usable value was found.
type FetchResult struct {
	Value      float64
	Valid      bool
	ObservedAt time.Time
	Err        error
}

// Resolver decides which value a tile shows given a fetch and the store.
type Resolver struct {
	store    ReadingStore
	recorder ResolveRecorder
	logger   zerolog.Logger
}

// NewResolver creates a resolver over store. recorder may be nil.
func NewResolver(store ReadingStore, recorder ResolveRecorder, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		recorder: recorder,
		logger:   logger,
	}
}

// Resolve returns the value to display for id. A valid fetched value wins and
// replaces the stored one; otherwise the stored value is shown unchanged, or
// nothing if the sensor has never produced a value.
func (r *Resolver) Resolve(id models.SensorID, res FetchResult) models.DisplayReading {
	out := models.DisplayReading{Sensor: id}

	switch {
	case res.Valid && models.IsFinite(res.Value):
		r.store.Put(id, res.Value, res.ObservedAt)
		out.Value = res.Value
		out.ObservedAt = res.ObservedAt
		out.HasValue = true
		out.Source = models.SourceLive
	default:
		if res.Err != nil {
			r.logger.Warn().Err(res.Err).Str("sensor", id.String()).Msg("fetch failed, using last known value")
		}
		if prev, ok := r.store.Get(id); ok {
			out.Value = prev.Value
			out.ObservedAt = prev.ObservedAt
			out.HasValue = true
			out.Source = models.SourceCache
		} else {
			out.Source = models.SourceNone
		}
	}

	if r.recorder != nil {
		r.recorder.Resolved(string(out.Source))
	}
	return out
}

// LatestFromFeeds scans feeds from the most recent entry backwards and returns
// the first one whose field parses as a valid number.
func LatestFromFeeds(feeds []models.Feed, field int) FetchResult {
	for i := len(feeds) - 1; i >= 0; i-- {
		v, ok := ParseValue(feeds[i].Field(field))
		if !ok {
			continue
		}
		return FetchResult{
			Value:      v,
			Valid:      true,
			ObservedAt: models.ParseTimestamp(feeds[i].CreatedAt),
		}
	}
	return FetchResult{}
}
