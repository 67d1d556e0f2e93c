package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/afroash/baeder-monitor/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const maxSnapshotBytes = 1 << 20

// Bootstrap seeds store from a snapshot document and returns the applied
// readings for immediate display, ordered by sensor. Entries without a
// finite value are skipped and never overwrite what the store holds.
func Bootstrap(snapshot models.Blob, store ReadingStore) []models.DisplayReading {
	applied := make([]models.DisplayReading, 0, snapshot.Len())
	for _, id := range snapshot.Sensors() {
		rec, _ := snapshot.Get(id)
		r, ok := rec.Reading()
		if !ok {
			continue
		}
		store.Put(id, r.Value, r.ObservedAt)
		applied = append(applied, models.DisplayReading{
			Sensor:     id,
			Value:      r.Value,
			ObservedAt: r.ObservedAt,
			HasValue:   true,
			Source:     models.SourceSnapshot,
		})
	}
	return applied
}

// LoadSnapshot reads a snapshot document from a file path or an http(s) URL.
// Every failure is logged and yields an empty document.
func LoadSnapshot(ctx context.Context, source string, hc *http.Client, logger zerolog.Logger) models.Blob {
	if source == "" {
		return models.Blob{}
	}

	data, err := readSnapshot(ctx, source, hc)
	if err != nil {
		logger.Warn().Err(err).Str("source", source).Msg("snapshot unavailable")
		return models.Blob{}
	}

	var blob models.Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		logger.Warn().Err(err).Str("source", source).Msg("snapshot malformed")
		return models.Blob{}
	}
	if blob == nil {
		blob = models.Blob{}
	}

	logger.Info().Str("source", source).Int("entries", blob.Len()).Msg("snapshot loaded")
	return blob
}

func readSnapshot(ctx context.Context, source string, hc *http.Client) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		data, err := os.ReadFile(strings.TrimPrefix(source, "file://"))
		if err != nil {
			return nil, fmt.Errorf("read snapshot file: %w", err)
		}
		return data, nil
	}

	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch snapshot: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	return data, nil
}

// BuildSnapshot fetches the most recent entry of every bound field and
// returns the snapshot document. A tile whose latest entry has no valid
// value is written with a null v. Any failed request fails the whole build
// so an existing snapshot is never replaced by a partial one.
func BuildSnapshot(ctx context.Context, bindings []models.Binding, fetcher FeedFetcher) (models.Blob, error) {
	records := make([]models.Record, len(bindings))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range bindings {
		i, b := i, b
		g.Go(func() error {
			resp, err := fetcher.FetchField(gctx, b.Channel, b.Field, models.FeedQuery{Results: 1})
			if err != nil {
				return fmt.Errorf("fetch %s: %w", b.Sensor, err)
			}
			if resp == nil {
				resp = &models.FeedResponse{}
			}
			res := LatestFromFeeds(resp.Feeds, b.Field)
			if !res.Valid {
				rec := models.Record{}
				if n := len(resp.Feeds); n > 0 {
					if at := models.ParseTimestamp(resp.Feeds[n-1].CreatedAt); !at.IsZero() {
						s := models.FormatTimestamp(at)
						rec.At = &s
					}
				}
				records[i] = rec
				return nil
			}
			records[i] = models.NewRecord(res.Value, res.ObservedAt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	blob := models.Blob{}
	for i, b := range bindings {
		blob.Set(b.Sensor, records[i])
	}
	return blob, nil
}
