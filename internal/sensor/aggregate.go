package sensor

import (
	"fmt"
	"strings"
	"time"

	"github.com/afroash/baeder-monitor/internal/models"
)

// Mode selects the per-day statistic of a history view.
type Mode string

const (
	ModeAvg Mode = "avg"
	ModeMax Mode = "max"
)

// ParseMode accepts "avg" (default when empty) or "max".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "avg", "average", "mean":
		return ModeAvg, nil
	case "max", "maximum":
		return ModeMax, nil
	}
	return "", fmt.Errorf("unknown aggregation mode %q", s)
}

type dayKey struct {
	year  int
	month time.Month
	day   int
}

// DailyBucket accumulates the samples of one local calendar day.
type DailyBucket struct {
	Sum   float64
	Count int
	Max   float64
}

func (b *DailyBucket) add(v float64) {
	if b.Count == 0 || v > b.Max {
		b.Max = v
	}
	b.Sum += v
	b.Count++
}

func (b DailyBucket) value(mode Mode) float64 {
	if mode == ModeMax {
		return b.Max
	}
	return b.Sum / float64(b.Count)
}

// Aggregate reduces series to one point per local calendar day for the
// windowDays days ending with the day of now, newest first. Days without a
// valid sample get a nil value. loc defines the calendar; nil means time.Local.
func Aggregate(series []models.Reading, windowDays int, mode Mode, loc *time.Location, now time.Time) []models.HistoryPoint {
	if windowDays <= 0 {
		return []models.HistoryPoint{}
	}
	if loc == nil {
		loc = time.Local
	}

	buckets := make(map[dayKey]*DailyBucket)
	for _, r := range series {
		if !r.IsValid() || r.ObservedAt.IsZero() {
			continue
		}
		y, m, d := r.ObservedAt.In(loc).Date()
		k := dayKey{y, m, d}
		b, ok := buckets[k]
		if !ok {
			b = &DailyBucket{}
			buckets[k] = b
		}
		b.add(r.Value)
	}

	y, m, d := now.In(loc).Date()
	points := make([]models.HistoryPoint, windowDays)
	for i := 0; i < windowDays; i++ {
		day := time.Date(y, m, d-i, 0, 0, 0, 0, loc)
		points[i].Date = day

		dy, dm, dd := day.Date()
		if b, ok := buckets[dayKey{dy, dm, dd}]; ok {
			v := b.value(mode)
			points[i].Value = &v
		}
	}
	return points
}

// SeriesFromFeeds parses the field of every feed entry into a reading,
// dropping entries without a valid value or timestamp.
func SeriesFromFeeds(feeds []models.Feed, field int) []models.Reading {
	series := make([]models.Reading, 0, len(feeds))
	for _, f := range feeds {
		v, ok := ParseValue(f.Field(field))
		if !ok {
			continue
		}
		at := models.ParseTimestamp(f.CreatedAt)
		if at.IsZero() {
			continue
		}
		series = append(series, models.Reading{Value: v, ObservedAt: at})
	}
	return series
}
