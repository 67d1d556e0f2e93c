package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/afroash/baeder-monitor/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[models.SensorID]models.Reading
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[models.SensorID]models.Reading)}
}

func (s *fakeStore) Get(id models.SensorID) (models.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[id]
	return r, ok
}

func (s *fakeStore) Put(id models.SensorID, value float64, observedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = models.Reading{Value: value, ObservedAt: observedAt}
	s.puts++
}

type fieldKey struct {
	channel int
	field   int
}

// fakeFetcher serves canned feeds per channel/field and records the queries.
type fakeFetcher struct {
	mu      sync.Mutex
	feeds   map[fieldKey][]models.Feed
	fail    map[fieldKey]error
	queries []models.FeedQuery
	calls   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		feeds: make(map[fieldKey][]models.Feed),
		fail:  make(map[fieldKey]error),
	}
}

func (f *fakeFetcher) set(ch, field int, feeds ...models.Feed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[fieldKey{ch, field}] = feeds
	delete(f.fail, fieldKey{ch, field})
}

func (f *fakeFetcher) failWith(ch, field int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[fieldKey{ch, field}] = err
}

func (f *fakeFetcher) FetchField(ctx context.Context, ch models.Channel, field int, q models.FeedQuery) (*models.FeedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.queries = append(f.queries, q)
	if err, ok := f.fail[fieldKey{ch.ID, field}]; ok {
		return nil, err
	}
	return &models.FeedResponse{Feeds: f.feeds[fieldKey{ch.ID, field}]}, nil
}

var errUnavailable = errors.New("service unavailable")

func feed(createdAt string, field int, raw any) models.Feed {
	return models.Feed{
		CreatedAt: createdAt,
		Fields:    map[string]any{"field" + string(rune('0'+field)): raw},
	}
}

func binding(pool, tile string, channel, field int) models.Binding {
	return models.Binding{
		Sensor:  models.SensorID{Pool: pool, Tile: tile},
		Channel: models.Channel{ID: channel},
		Field:   field,
	}
}

func jsonUnmarshal(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
