package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/baeder-monitor/internal/models"
)

// Reasons a sweep removes samples
const (
	PruneExpired  = "expired"
	PruneOrphaned = "orphaned"
)

// Pruner removes archived samples
type Pruner interface {
	DeleteOlderThan(days int) (int64, error)
	GetSensorIDs() ([]models.SensorID, error)
	DeleteSensor(id models.SensorID) (int64, error)
}

// PruneRecorder receives how many samples a sweep removed per reason
type PruneRecorder interface {
	ArchivePruned(reason string, n int64)
}

// RetentionConfig controls what a sweep removes and how often sweeps run
type RetentionConfig struct {
	RetentionDays int
	Period        time.Duration

	// Keep lists the configured tiles. Samples of any other sensor, left
	// behind when a tile is removed from the config, are deleted. An empty
	// list keeps every sensor.
	Keep []models.SensorID
}

// SweepResult describes one sweep
type SweepResult struct {
	At       time.Time `json:"at"`
	Expired  int64     `json:"expired"`
	Orphaned int64     `json:"orphaned"`
	Err      string    `json:"error,omitempty"`
}

// RetentionStats accumulates sweep results
type RetentionStats struct {
	RetentionDays int          `json:"retention_days"`
	Sweeps        int64        `json:"sweeps"`
	Failures      int64        `json:"failures"`
	Expired       int64        `json:"expired"`
	Orphaned      int64        `json:"orphaned"`
	Last          *SweepResult `json:"last,omitempty"`
}

// RetentionCleaner keeps the sample archive within the history window
type RetentionCleaner struct {
	store    Pruner
	cfg      RetentionConfig
	keep     map[models.SensorID]bool
	recorder PruneRecorder
	logger   zerolog.Logger

	sweepMu sync.Mutex

	mu    sync.RWMutex
	stats RetentionStats
}

// NewRetentionCleaner creates a cleaner. Nothing runs until Run or Sweep.
func NewRetentionCleaner(store Pruner, cfg RetentionConfig, logger zerolog.Logger) *RetentionCleaner {
	if cfg.Period <= 0 {
		logger.Warn().Dur("period", cfg.Period).Msg("Non-positive retention period, sweeping every 6h")
		cfg.Period = 6 * time.Hour
	}

	keep := make(map[models.SensorID]bool, len(cfg.Keep))
	for _, id := range cfg.Keep {
		keep[id] = true
	}

	return &RetentionCleaner{
		store:  store,
		cfg:    cfg,
		keep:   keep,
		logger: logger,
		stats:  RetentionStats{RetentionDays: cfg.RetentionDays},
	}
}

// SetRecorder sets where removed sample counts are reported.
func (c *RetentionCleaner) SetRecorder(r PruneRecorder) {
	c.recorder = r
}

// Run sweeps once immediately and then every period until ctx is done.
func (c *RetentionCleaner) Run(ctx context.Context) error {
	c.logger.Info().
		Int("retention_days", c.cfg.RetentionDays).
		Dur("period", c.cfg.Period).
		Int("keep", len(c.keep)).
		Msg("Retention cleaner started")

	c.Sweep()

	ticker := time.NewTicker(c.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Retention cleaner stopped")
			return ctx.Err()
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep removes expired samples, then samples of unconfigured sensors.
// A failure in one step does not skip the other.
func (c *RetentionCleaner) Sweep() SweepResult {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	res := SweepResult{At: time.Now()}

	expired, expErr := c.store.DeleteOlderThan(c.cfg.RetentionDays)
	res.Expired = expired
	c.record(PruneExpired, expired)

	orphaned, orphErr := c.pruneOrphans()
	res.Orphaned = orphaned
	c.record(PruneOrphaned, orphaned)

	err := errors.Join(expErr, orphErr)
	if err != nil {
		res.Err = err.Error()
		c.logger.Error().Err(err).Msg("Retention sweep failed")
	} else if expired+orphaned > 0 {
		c.logger.Info().Int64("expired", expired).Int64("orphaned", orphaned).Msg("Retention sweep removed samples")
	} else {
		c.logger.Debug().Msg("Retention sweep found nothing to remove")
	}

	c.mu.Lock()
	c.stats.Sweeps++
	c.stats.Expired += expired
	c.stats.Orphaned += orphaned
	if err != nil {
		c.stats.Failures++
	}
	last := res
	c.stats.Last = &last
	c.mu.Unlock()

	return res
}

func (c *RetentionCleaner) pruneOrphans() (int64, error) {
	if len(c.keep) == 0 {
		return 0, nil
	}

	ids, err := c.store.GetSensorIDs()
	if err != nil {
		return 0, err
	}

	var removed int64
	var errs []error
	for _, id := range ids {
		if c.keep[id] {
			continue
		}
		n, err := c.store.DeleteSensor(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", id, err))
			continue
		}
		removed += n
	}
	return removed, errors.Join(errs...)
}

func (c *RetentionCleaner) record(reason string, n int64) {
	if c.recorder != nil && n > 0 {
		c.recorder.ArchivePruned(reason, n)
	}
}

func (c *RetentionCleaner) Stats() RetentionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	if c.stats.Last != nil {
		last := *c.stats.Last
		stats.Last = &last
	}
	return stats
}
