package storage

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/baeder-monitor/internal/models"
)

// DefaultNamespace tags the current blob schema. A new tag starts from an
// empty store instead of reading data in an older shape.
const DefaultNamespace = "baeder:last-values:v2"

// Backend persists one opaque blob per namespace. Load returns nil data
// when the namespace has never been written.
type Backend interface {
	Load(namespace string) ([]byte, error)
	Save(namespace string, data []byte) error
}

// ReadingStore keeps the last valid reading of every sensor as a single
// namespaced JSON blob. Persistence failures are logged and never returned.
type ReadingStore struct {
	backend   Backend
	namespace string
	logger    zerolog.Logger

	mu sync.Mutex
}

// NewReadingStore creates a store over backend. An empty namespace selects
// DefaultNamespace.
func NewReadingStore(backend Backend, namespace string, logger zerolog.Logger) *ReadingStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &ReadingStore{
		backend:   backend,
		namespace: namespace,
		logger:    logger.With().Str("namespace", namespace).Logger(),
	}
}

// Get returns the last valid reading of id.
func (s *ReadingStore) Get(id models.SensorID) (models.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.load().Get(id)
	if !ok {
		return models.Reading{}, false
	}
	return rec.Reading()
}

// Put overwrites the reading of id. The blob is re-read right before the
// write so entries of other sensors are never lost. Non-finite values are
// ignored.
func (s *ReadingStore) Put(id models.SensorID, value float64, observedAt time.Time) {
	if !models.IsFinite(value) {
		s.logger.Warn().Str("sensor", id.String()).Msg("refusing to store non-finite value")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := s.load()
	blob.Set(id, models.NewRecord(value, observedAt))
	s.save(blob)
}

// LoadAll returns every valid entry of the store.
func (s *ReadingStore) LoadAll() models.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// SaveAll replaces the whole store with the valid entries of blob.
func (s *ReadingStore) SaveAll(blob models.Blob) {
	clean := models.Blob{}
	for _, id := range blob.Sensors() {
		rec, _ := blob.Get(id)
		if r, ok := rec.Reading(); ok {
			clean.Set(id, models.NewRecord(r.Value, r.ObservedAt))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.save(clean)
}

// Len returns the number of stored readings.
func (s *ReadingStore) Len() int {
	return s.LoadAll().Len()
}

func (s *ReadingStore) load() models.Blob {
	data, err := s.backend.Load(s.namespace)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reading store unavailable, treating as empty")
		return models.Blob{}
	}
	if len(data) == 0 {
		return models.Blob{}
	}

	var raw models.Blob
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn().Err(err).Msg("reading store corrupt, treating as empty")
		return models.Blob{}
	}

	blob := models.Blob{}
	for pool, tiles := range raw {
		for tile, rec := range tiles {
			if _, ok := rec.Reading(); ok {
				blob.Set(models.SensorID{Pool: pool, Tile: tile}, rec)
			}
		}
	}
	return blob
}

func (s *ReadingStore) save(blob models.Blob) {
	data, err := json.Marshal(blob)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode reading store")
		return
	}
	if err := s.backend.Save(s.namespace, data); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist reading store")
	}
}

// MemoryBackend keeps blobs in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (m *MemoryBackend) Load(namespace string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[namespace]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Save(namespace string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[namespace] = append([]byte(nil), data...)
	return nil
}
