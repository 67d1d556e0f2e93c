// internal/sensor/poller_test.go
package sensor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/afroash/baeder-monitor/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	cycles [][]models.DisplayReading
}

func (p *recordingPublisher) Publish(readings []models.DisplayReading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cycles = append(p.cycles, readings)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cycles)
}

type recordingArchive struct {
	written map[models.SensorID]models.Reading
}

func (a *recordingArchive) Write(id models.SensorID, r models.Reading) bool {
	a.written[id] = r
	return true
}

func testBindings() []models.Binding {
	return []models.Binding{
		binding("filple", "swim", 3089969, 1),
		binding("filple", "kids", 3089969, 2),
		binding("natur", "uv", 3043993, 3),
	}
}

func TestPoller_RefreshOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(3089969, 1, feed("2024-06-01T10:00:00Z", 1, "23,6"))
	fetcher.failWith(3089969, 2, errUnavailable)
	fetcher.set(3043993, 3, feed("2024-06-01T10:00:00Z", 3, "n/a"))

	store := newFakeStore()
	kids := models.SensorID{Pool: "filple", Tile: "kids"}
	store.Put(kids, 25.1, time.Time{})

	pub := &recordingPublisher{}
	archive := &recordingArchive{written: make(map[models.SensorID]models.Reading)}
	p := NewPoller(testBindings(), fetcher, NewResolver(store, nil, zerolog.Nop()), pub, PollerConfig{Interval: time.Minute}, zerolog.Nop())
	p.SetArchive(archive)

	readings := p.RefreshOnce(context.Background())

	require.Len(t, readings, 3)
	assert.Equal(t, models.SourceLive, readings[0].Source)
	assert.Equal(t, 23.6, readings[0].Value)
	assert.Equal(t, models.SourceCache, readings[1].Source)
	assert.Equal(t, 25.1, readings[1].Value)
	assert.Equal(t, models.SourceNone, readings[2].Source)

	stats := p.LastCycle()
	assert.Equal(t, 1, stats.Live)
	assert.Equal(t, 1, stats.Cached)
	assert.Equal(t, 1, stats.Missing)
	assert.Equal(t, 1, stats.Failed)

	assert.Equal(t, 1, pub.count())
	assert.Len(t, archive.written, 1)

	for _, q := range fetcher.queries {
		assert.Equal(t, 120, q.Results)
	}
}

func TestPoller_FailureKeepsValueAcrossCycles(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(3089969, 1, feed("2024-06-01T10:00:00Z", 1, "22"))

	store := newFakeStore()
	bindings := testBindings()[:1]
	p := NewPoller(bindings, fetcher, NewResolver(store, nil, zerolog.Nop()), nil, PollerConfig{}, zerolog.Nop())

	p.RefreshOnce(context.Background())
	fetcher.failWith(3089969, 1, errUnavailable)
	readings := p.RefreshOnce(context.Background())

	assert.Equal(t, 22.0, readings[0].Value)
	assert.Equal(t, models.SourceCache, readings[0].Source)
}

func TestPoller_Start(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(3089969, 1, feed("2024-06-01T10:00:00Z", 1, "22"))

	pub := &recordingPublisher{}
	p := NewPoller(testBindings()[:1], fetcher, NewResolver(newFakeStore(), nil, zerolog.Nop()), pub,
		PollerConfig{Interval: 50 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 260*time.Millisecond)
	defer cancel()

	err := p.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// One immediate cycle plus roughly one per tick.
	if pub.count() < 3 {
		t.Errorf("Got %d cycles, expected at least 3", pub.count())
	}
}
