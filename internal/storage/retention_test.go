package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/afroash/baeder-monitor/internal/models"
)

func setupRetention(t *testing.T, cfg RetentionConfig) (*SQLiteStore, *RetentionCleaner) {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, NewRetentionCleaner(store, cfg, testLogger())
}

type pruneCounts struct {
	mu sync.Mutex
	n  map[string]int64
}

func (p *pruneCounts) ArchivePruned(reason string, n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n == nil {
		p.n = make(map[string]int64)
	}
	p.n[reason] += n
}

// brokenPruner fails every expiry and keeps one orphan it cannot delete
type brokenPruner struct{}

func (brokenPruner) DeleteOlderThan(int) (int64, error) {
	return 0, errors.New("database is locked")
}

func (brokenPruner) GetSensorIDs() ([]models.SensorID, error) {
	return []models.SensorID{swim, {Pool: "old", Tile: "slide"}}, nil
}

func (brokenPruner) DeleteSensor(models.SensorID) (int64, error) {
	return 0, errors.New("disk I/O error")
}

func TestRetention_SweepRemovesExpired(t *testing.T) {
	store, cleaner := setupRetention(t, RetentionConfig{RetentionDays: 31, Period: time.Hour})

	now := time.Now().UTC().Truncate(time.Second)
	store.InsertBatch(createTestSamples(swim, 10, now.AddDate(0, 0, -35)))
	store.InsertBatch(createTestSamples(swim, 10, now.Add(-3*time.Hour)))

	res := cleaner.Sweep()

	if res.Expired != 10 || res.Orphaned != 0 || res.Err != "" {
		t.Errorf("Sweep() = %+v, want 10 expired and no error", res)
	}
	stats, _ := store.GetStorageStats()
	if stats.TotalSamples != 10 {
		t.Errorf("TotalSamples = %d, want 10", stats.TotalSamples)
	}
}

func TestRetention_SweepRemovesUnconfiguredSensors(t *testing.T) {
	store, cleaner := setupRetention(t, RetentionConfig{
		RetentionDays: 31,
		Period:        time.Hour,
		Keep:          []models.SensorID{swim, kids},
	})
	rec := &pruneCounts{}
	cleaner.SetRecorder(rec)

	recent := time.Now().UTC().Add(-time.Hour)
	store.InsertBatch(createTestSamples(swim, 3, recent))
	store.InsertBatch(createTestSamples(kids, 3, recent))
	store.InsertBatch(createTestSamples(uv, 4, recent))

	res := cleaner.Sweep()
	if res.Orphaned != 4 {
		t.Errorf("Orphaned = %d, want 4", res.Orphaned)
	}

	ids, err := store.GetSensorIDs()
	if err != nil {
		t.Fatalf("GetSensorIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("remaining sensors = %v, want swim and kids", ids)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.n[PruneOrphaned] != 4 {
		t.Errorf("recorded orphaned = %d, want 4", rec.n[PruneOrphaned])
	}
	if _, ok := rec.n[PruneExpired]; ok {
		t.Error("nothing expired, nothing should be recorded")
	}
}

func TestRetention_EmptyKeepListKeepsEverySensor(t *testing.T) {
	store, cleaner := setupRetention(t, RetentionConfig{RetentionDays: 31, Period: time.Hour})
	store.InsertBatch(createTestSamples(uv, 2, time.Now().UTC().Add(-time.Hour)))

	if res := cleaner.Sweep(); res.Orphaned != 0 {
		t.Errorf("Orphaned = %d, want 0", res.Orphaned)
	}
}

func TestRetention_RetentionPeriods(t *testing.T) {
	testCases := []struct {
		name          string
		retentionDays int
		ageDays       int
		shouldDelete  bool
	}{
		{"31 day retention, 35 day old sample", 31, 35, true},
		{"31 day retention, 25 day old sample", 31, 25, false},
		{"7 day retention, 10 day old sample", 7, 10, true},
		{"1 day retention, 2 day old sample", 1, 2, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, cleaner := setupRetention(t, RetentionConfig{RetentionDays: tc.retentionDays, Period: time.Hour})
			store.InsertBatch(createTestSamples(swim, 1, time.Now().UTC().AddDate(0, 0, -tc.ageDays)))

			cleaner.Sweep()

			stats, _ := store.GetStorageStats()
			if tc.shouldDelete && stats.TotalSamples != 0 {
				t.Errorf("Expected sample to be deleted, but TotalSamples = %d", stats.TotalSamples)
			}
			if !tc.shouldDelete && stats.TotalSamples != 1 {
				t.Errorf("Expected sample to be kept, but TotalSamples = %d", stats.TotalSamples)
			}
		})
	}
}

func TestRetention_FailuresDoNotStopTheSweep(t *testing.T) {
	cleaner := NewRetentionCleaner(brokenPruner{}, RetentionConfig{RetentionDays: 7, Keep: []models.SensorID{swim}}, testLogger())

	res := cleaner.Sweep()
	if res.Err == "" {
		t.Fatal("Sweep should report the failures")
	}

	stats := cleaner.Stats()
	if stats.Sweeps != 1 || stats.Failures != 1 {
		t.Errorf("Sweeps/Failures = %d/%d, want 1/1", stats.Sweeps, stats.Failures)
	}
	if stats.Last == nil || stats.Last.Err != res.Err {
		t.Errorf("Last = %+v, want the failed sweep", stats.Last)
	}
}

func TestRetention_RunSweepsUntilCancelled(t *testing.T) {
	store, cleaner := setupRetention(t, RetentionConfig{RetentionDays: 1, Period: 50 * time.Millisecond})
	store.InsertBatch(createTestSamples(uv, 5, time.Now().UTC().AddDate(0, 0, -2)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cleaner.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	stats := cleaner.Stats()
	if stats.Sweeps < 2 {
		t.Errorf("Sweeps = %d, expected >= 2", stats.Sweeps)
	}
	if stats.Expired != 5 {
		t.Errorf("Expired = %d, want 5", stats.Expired)
	}
	if stats.RetentionDays != 1 {
		t.Errorf("RetentionDays = %d, want 1", stats.RetentionDays)
	}
}
