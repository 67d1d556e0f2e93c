package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/afroash/baeder-monitor/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// FeedFetcher requests the entries of one channel field.
type FeedFetcher interface {
	FetchField(ctx context.Context, ch models.Channel, field int, q models.FeedQuery) (*models.FeedResponse, error)
}

// Publisher receives the display readings of every refresh cycle.
type Publisher interface {
	Publish(readings []models.DisplayReading)
}

// Archiver keeps live readings for the history fallback.
type Archiver interface {
	Write(id models.SensorID, reading models.Reading) bool
}

// CycleRecorder receives the duration of every refresh cycle.
type CycleRecorder interface {
	RefreshCycle(d time.Duration)
}

// PollerConfig controls the refresh loop.
type PollerConfig struct {
	Interval       time.Duration
	LatestResults  int
	MaxConcurrency int
}

// CycleStats summarizes one refresh cycle.
type CycleStats struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Live      int           `json:"live"`
	Cached    int           `json:"cached"`
	Missing   int           `json:"missing"`
	Failed    int           `json:"failed"`
}

// Poller orchestrates periodic refresh of every configured tile.
type Poller struct {
	bindings  []models.Binding
	fetcher   FeedFetcher
	resolver  *Resolver
	publisher Publisher
	archive   Archiver
	recorder  CycleRecorder
	cfg       PollerConfig
	logger    zerolog.Logger

	mu   sync.RWMutex
	last CycleStats
}

// NewPoller creates a poller. publisher may be nil.
func NewPoller(bindings []models.Binding, fetcher FeedFetcher, resolver *Resolver, publisher Publisher, cfg PollerConfig, logger zerolog.Logger) *Poller {
	if cfg.LatestResults <= 0 {
		cfg.LatestResults = 120
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = len(bindings)
	}
	return &Poller{
		bindings:  bindings,
		fetcher:   fetcher,
		resolver:  resolver,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// SetArchive makes the poller archive every live reading.
func (p *Poller) SetArchive(a Archiver) {
	p.archive = a
}

// SetRecorder sets where cycle durations are reported.
func (p *Poller) SetRecorder(r CycleRecorder) {
	p.recorder = r
}

// Start refreshes immediately, then once per interval until ctx is cancelled.
// Cycles run in this goroutine, so they never overlap.
func (p *Poller) Start(ctx context.Context) error {
	p.RefreshOnce(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce fetches every tile concurrently, then resolves them in
// configuration order and publishes the result.
func (p *Poller) RefreshOnce(ctx context.Context) []models.DisplayReading {
	start := time.Now()
	results := make([]FetchResult, len(p.bindings))

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrency)
	for i, b := range p.bindings {
		i, b := i, b
		g.Go(func() error {
			results[i] = p.fetchLatest(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	stats := CycleStats{StartedAt: start}
	readings := make([]models.DisplayReading, len(p.bindings))
	for i, b := range p.bindings {
		if results[i].Err != nil {
			stats.Failed++
		}
		d := p.resolver.Resolve(b.Sensor, results[i])
		readings[i] = d

		switch d.Source {
		case models.SourceLive:
			stats.Live++
			if p.archive != nil && !d.ObservedAt.IsZero() {
				p.archive.Write(b.Sensor, models.Reading{Value: d.Value, ObservedAt: d.ObservedAt})
			}
		case models.SourceCache:
			stats.Cached++
		default:
			stats.Missing++
		}
	}
	stats.Duration = time.Since(start)

	p.mu.Lock()
	p.last = stats
	p.mu.Unlock()

	if p.recorder != nil {
		p.recorder.RefreshCycle(stats.Duration)
	}
	if p.publisher != nil {
		p.publisher.Publish(readings)
	}

	p.logger.Info().
		Int("live", stats.Live).
		Int("cached", stats.Cached).
		Int("missing", stats.Missing).
		Int("failed", stats.Failed).
		Dur("took", stats.Duration).
		Msg("refresh cycle complete")

	return readings
}

func (p *Poller) fetchLatest(ctx context.Context, b models.Binding) FetchResult {
	resp, err := p.fetcher.FetchField(ctx, b.Channel, b.Field, models.FeedQuery{Results: p.cfg.LatestResults})
	if err != nil {
		return FetchResult{Err: err}
	}
	if resp == nil {
		return FetchResult{}
	}
	res := LatestFromFeeds(resp.Feeds, b.Field)
	if !res.Valid {
		p.logger.Debug().Str("sensor", b.Sensor.String()).Int("entries", len(resp.Feeds)).Msg("no valid value in feed")
	}
	return res
}

// LastCycle returns the statistics of the most recent refresh cycle.
func (p *Poller) LastCycle() CycleStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}
