package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/afroash/baeder-monitor/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// Origin tells which series a history was computed from.
type Origin string

const (
	OriginTelemetry Origin = "telemetry"
	OriginArchive   Origin = "archive"
	OriginNone      Origin = "none"
)

// maxHistoryResults is the largest entry count ThingSpeak returns per request.
const maxHistoryResults = 8000

// SampleArchive returns locally archived samples of a sensor.
type SampleArchive interface {
	SamplesSince(id models.SensorID, since time.Time) ([]models.Reading, error)
}

// LookupRecorder receives the origin of every history lookup.
type LookupRecorder interface {
	HistoryLookup(origin string)
}

// HistoryRequest asks for the daily view of one tile.
type HistoryRequest struct {
	Binding  models.Binding
	Days     int
	Mode     Mode
	Location *time.Location
}

// HistoryResult is the daily view plus where its data came from.
type HistoryResult struct {
	Sensor models.SensorID       `json:"sensor"`
	Mode   Mode                  `json:"mode"`
	Days   int                   `json:"days"`
	Zone   string                `json:"timezone"`
	Origin Origin                `json:"origin"`
	Points []models.HistoryPoint `json:"points"`
}

// HistoryService fetches raw series and aggregates them per local day.
type HistoryService struct {
	fetcher  FeedFetcher
	archive  SampleArchive
	series   *cache.Cache
	recorder LookupRecorder
	logger   zerolog.Logger
	now      func() time.Time
}

// NewHistoryService creates the service. Raw series are cached for ttl;
// ttl <= 0 disables caching.
func NewHistoryService(fetcher FeedFetcher, ttl time.Duration, logger zerolog.Logger) *HistoryService {
	s := &HistoryService{
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
	if ttl > 0 {
		s.series = cache.New(ttl, 2*ttl)
	}
	return s
}

// SetArchive enables the archived-sample fallback.
func (s *HistoryService) SetArchive(a SampleArchive) {
	s.archive = a
}

// SetRecorder sets where lookup origins are reported.
func (s *HistoryService) SetRecorder(r LookupRecorder) {
	s.recorder = r
}

// Daily returns exactly req.Days points, newest first. When the telemetry
// request fails the archive is used; when that fails too every point is nil.
func (s *HistoryService) Daily(ctx context.Context, req HistoryRequest) HistoryResult {
	loc := req.Location
	if loc == nil {
		loc = time.Local
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeAvg
	}
	now := s.now()

	series, origin := s.load(ctx, req.Binding, req.Days, loc, now)
	if s.recorder != nil {
		s.recorder.HistoryLookup(string(origin))
	}

	return HistoryResult{
		Sensor: req.Binding.Sensor,
		Mode:   mode,
		Days:   req.Days,
		Zone:   loc.String(),
		Origin: origin,
		Points: Aggregate(series, req.Days, mode, loc, now),
	}
}

func (s *HistoryService) load(ctx context.Context, b models.Binding, days int, loc *time.Location, now time.Time) ([]models.Reading, Origin) {
	if days <= 0 {
		return nil, OriginNone
	}

	key := fmt.Sprintf("%d/%d/%d/%s", b.Channel.ID, b.Field, days, loc.String())
	if s.series != nil {
		if cached, ok := s.series.Get(key); ok {
			return cached.([]models.Reading), OriginTelemetry
		}
	}

	resp, err := s.fetcher.FetchField(ctx, b.Channel, b.Field, models.FeedQuery{
		Results:  maxHistoryResults,
		Days:     days,
		Timezone: loc.String(),
	})
	if err == nil && resp != nil {
		series := SeriesFromFeeds(resp.Feeds, b.Field)
		if s.series != nil {
			s.series.SetDefault(key, series)
		}
		return series, OriginTelemetry
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("sensor", b.Sensor.String()).Msg("history fetch failed")
	}

	if s.archive == nil {
		return nil, OriginNone
	}
	y, m, d := now.In(loc).Date()
	since := time.Date(y, m, d-(days-1), 0, 0, 0, 0, loc)
	series, aerr := s.archive.SamplesSince(b.Sensor, since)
	if aerr != nil {
		s.logger.Warn().Err(aerr).Str("sensor", b.Sensor.String()).Msg("archive lookup failed")
		return nil, OriginNone
	}
	return series, OriginArchive
}
