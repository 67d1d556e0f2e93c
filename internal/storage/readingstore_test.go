package storage

import (
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/baeder-monitor/internal/models"
)

type brokenBackend struct{}

func (brokenBackend) Load(string) ([]byte, error) { return nil, errors.New("quota exceeded") }
func (brokenBackend) Save(string, []byte) error   { return errors.New("quota exceeded") }

func TestReadingStore_PutGet(t *testing.T) {
	store := NewReadingStore(NewMemoryBackend(), "", testLogger())
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	_, ok := store.Get(swim)
	assert.False(t, ok)

	store.Put(swim, 23.6, at)
	r, ok := store.Get(swim)
	require.True(t, ok)
	assert.Equal(t, 23.6, r.Value)
	assert.True(t, r.ObservedAt.Equal(at))
	assert.Equal(t, time.UTC, r.ObservedAt.Location())

	store.Put(swim, 24.0, time.Time{})
	r, _ = store.Get(swim)
	assert.Equal(t, 24.0, r.Value)
	assert.True(t, r.ObservedAt.IsZero())
}

func TestReadingStore_NonFiniteIgnored(t *testing.T) {
	store := NewReadingStore(NewMemoryBackend(), "", testLogger())
	store.Put(swim, 20, time.Time{})
	store.Put(swim, math.NaN(), time.Now())
	store.Put(kids, math.Inf(1), time.Now())

	r, _ := store.Get(swim)
	assert.Equal(t, 20.0, r.Value)
	_, ok := store.Get(kids)
	assert.False(t, ok)
}

func TestReadingStore_PersistedShape(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewReadingStore(backend, "", testLogger())
	store.Put(swim, 23.6, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	store.Put(uv, 4, time.Time{})

	data, err := backend.Load(DefaultNamespace)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"filple": {"swim": {"v": 23.6, "at": "2024-06-01T10:00:00.000Z"}},
		"natur": {"uv": {"v": 4, "at": null}}
	}`, string(data))
}

func TestReadingStore_PutKeepsOtherSensors(t *testing.T) {
	backend := NewMemoryBackend()
	a := NewReadingStore(backend, "", testLogger())
	b := NewReadingStore(backend, "", testLogger())

	a.Put(swim, 1, time.Time{})
	b.Put(kids, 2, time.Time{})
	a.Put(uv, 3, time.Time{})

	assert.Equal(t, 3, a.Len())
	_, ok := a.Get(kids)
	assert.True(t, ok, "a write through one handle must not drop entries written through another")
}

func TestReadingStore_ConcurrentPuts(t *testing.T) {
	store := NewReadingStore(NewMemoryBackend(), "", testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Put(models.SensorID{Pool: "p", Tile: string(rune('a' + i))}, float64(i), time.Time{})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, store.Len())
}

func TestReadingStore_NamespaceIsolation(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Save("baeder:last-values:v1", []byte(`{"filple":{"swim":23.6}}`)))

	store := NewReadingStore(backend, "", testLogger())
	assert.Equal(t, 0, store.Len())

	store.Put(swim, 1, time.Time{})
	other := NewReadingStore(backend, "baeder:last-values:v3", testLogger())
	assert.Equal(t, 0, other.Len())
}

func TestReadingStore_CorruptBlobIsEmpty(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Save(DefaultNamespace, []byte(`{not json`)))

	store := NewReadingStore(backend, "", testLogger())
	assert.Equal(t, 0, store.Len())

	store.Put(swim, 5, time.Time{})
	r, ok := store.Get(swim)
	require.True(t, ok)
	assert.Equal(t, 5.0, r.Value)
}

func TestReadingStore_InvalidEntriesDropped(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Save(DefaultNamespace, []byte(`{
		"filple": {"swim": {"v": null, "at": null}, "kids": {"v": 25.1, "at": "bogus"}}
	}`)))

	store := NewReadingStore(backend, "", testLogger())
	blob := store.LoadAll()
	assert.Equal(t, 1, blob.Len())
	r, ok := store.Get(kids)
	require.True(t, ok)
	assert.True(t, r.ObservedAt.IsZero())
}

func TestReadingStore_BackendFailureNeverPanics(t *testing.T) {
	store := NewReadingStore(brokenBackend{}, "", testLogger())

	store.Put(swim, 1, time.Now())
	_, ok := store.Get(swim)
	assert.False(t, ok)
	assert.Equal(t, 0, store.LoadAll().Len())
	store.SaveAll(models.Blob{})
}

func TestReadingStore_SaveAllLoadAllRoundTrip(t *testing.T) {
	store := NewReadingStore(NewMemoryBackend(), "", testLogger())
	store.Put(swim, 23.6, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	store.Put(kids, 25.1, time.Time{})
	store.Put(uv, 4, time.Date(2024, 6, 1, 11, 30, 15, 0, time.UTC))

	before := store.LoadAll()
	store.SaveAll(before)
	after := store.LoadAll()

	assert.Equal(t, before, after)
}

func TestReadingStore_SaveAllDropsInvalid(t *testing.T) {
	store := NewReadingStore(NewMemoryBackend(), "", testLogger())
	nan := math.NaN()
	blob := models.Blob{}
	blob.Set(swim, models.Record{V: &nan})
	blob.Set(kids, models.Record{})
	blob.Set(uv, models.NewRecord(4, time.Time{}))

	store.SaveAll(blob)
	assert.Equal(t, 1, store.Len())
}

func TestReadingStore_SQLiteBackendSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "store.db")

	db, err := NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	NewReadingStore(db, "", testLogger()).Put(swim, 23.6, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, db.Close())

	db, err = NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	defer db.Close()

	r, ok := NewReadingStore(db, "", testLogger()).Get(swim)
	require.True(t, ok)
	assert.Equal(t, 23.6, r.Value)
}
