package server

import (
	"sync"
	"time"

	"github.com/afroash/baeder-monitor/internal/models"
)

// Board holds the display reading of every configured tile, as of the last
// published refresh cycle.
type Board struct {
	catalog []models.Binding
	index   map[models.SensorID]int

	mutex       sync.RWMutex
	current     []models.DisplayReading
	publishes   int64
	lastPublish time.Time
	listeners   []func([]models.DisplayReading)
}

// BoardStats contains statistics about the board
type BoardStats struct {
	Tiles       int       `json:"tiles"`
	WithValue   int       `json:"with_value"`
	Publishes   int64     `json:"publishes"`
	LastPublish time.Time `json:"last_publish,omitempty"`
}

// PoolStatus is a pool with the time of its most recent observation.
type PoolStatus struct {
	models.PoolInfo
	LastObservedAt *time.Time `json:"last_observed_at"`
}

// NewBoard creates a board whose tiles start out without value.
func NewBoard(catalog []models.Binding) *Board {
	b := &Board{
		catalog: catalog,
		index:   make(map[models.SensorID]int, len(catalog)),
		current: make([]models.DisplayReading, len(catalog)),
	}
	for i, binding := range catalog {
		b.index[binding.Sensor] = i
		b.current[i] = models.DisplayReading{Sensor: binding.Sensor, Source: models.SourceNone}
	}
	return b
}

// OnUpdate registers fn to be called with every published set of readings.
func (b *Board) OnUpdate(fn func([]models.DisplayReading)) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Publish stores readings of known tiles and notifies listeners.
// Readings for tiles that are not in the catalog are ignored.
func (b *Board) Publish(readings []models.DisplayReading) {
	b.mutex.Lock()
	for _, r := range readings {
		if i, ok := b.index[r.Sensor]; ok {
			b.current[i] = r
		}
	}
	b.publishes++
	b.lastPublish = time.Now()
	snapshot := b.copyCurrent()
	listeners := append([]func([]models.DisplayReading){}, b.listeners...)
	b.mutex.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Current returns all tiles in catalog order
func (b *Board) Current() []models.DisplayReading {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.copyCurrent()
}

func (b *Board) copyCurrent() []models.DisplayReading {
	out := make([]models.DisplayReading, len(b.current))
	copy(out, b.current)
	return out
}

// Get returns the reading of one tile; false if the tile is not configured.
func (b *Board) Get(id models.SensorID) (models.DisplayReading, bool) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	i, ok := b.index[id]
	if !ok {
		return models.DisplayReading{}, false
	}
	return b.current[i], true
}

// Binding returns the catalog entry of one tile.
func (b *Board) Binding(id models.SensorID) (models.Binding, bool) {
	i, ok := b.index[id]
	if !ok {
		return models.Binding{}, false
	}
	return b.catalog[i], true
}

// Pools groups the catalog by pool. LastObservedAt is the newest
// observation time among the pool's tiles, nil when none is known.
func (b *Board) Pools() []PoolStatus {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	pools := models.GroupByPool(b.catalog)
	out := make([]PoolStatus, len(pools))
	for i, p := range pools {
		out[i] = PoolStatus{PoolInfo: p}
		for _, tile := range p.Tiles {
			r := b.current[b.index[models.SensorID{Pool: p.Key, Tile: tile.Key}]]
			if !r.HasValue || r.ObservedAt.IsZero() {
				continue
			}
			if out[i].LastObservedAt == nil || r.ObservedAt.After(*out[i].LastObservedAt) {
				at := r.ObservedAt
				out[i].LastObservedAt = &at
			}
		}
	}
	return out
}

// Stats returns statistics about the board
func (b *Board) Stats() BoardStats {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	withValue := 0
	for _, r := range b.current {
		if r.HasValue {
			withValue++
		}
	}
	return BoardStats{
		Tiles:       len(b.current),
		WithValue:   withValue,
		Publishes:   b.publishes,
		LastPublish: b.lastPublish,
	}
}
