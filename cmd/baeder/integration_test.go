//go:build integration
// +build integration

package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/baeder-monitor/internal/client"
	"github.com/afroash/baeder-monitor/internal/config"
	"github.com/afroash/baeder-monitor/internal/models"
)

// TestFullSystem runs the dashboard against a fake ThingSpeak and follows it
// over HTTP and the websocket feed.
// Run with: go test -tags=integration -v ./cmd/baeder/
func TestFullSystem(t *testing.T) {
	_, ts := newFakeThingSpeak(t)
	cfg, err := config.LoadAppConfig(writeTestConfig(t, ts.URL))
	require.NoError(t, err)

	// snapshot seeds the uv tile, which ThingSpeak never reports validly
	snapshot := filepath.Join(t.TempDir(), "latest.json")
	blob := models.Blob{}
	blob.Set(models.SensorID{Pool: "filple", Tile: "uv"}, models.NewRecord(4, time.Now().Add(-time.Hour)))
	require.NoError(t, writeSnapshot(snapshot, blob, nil))
	cfg.Snapshot.Source = snapshot

	enabled := true
	cfg.Archive.Enabled = &enabled
	cfg.Archive.FlushPeriod = 100 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, ln, logger) }()

	var readings models.ReadingsMessage
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/readings")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if json.NewDecoder(resp.Body).Decode(&readings) != nil {
			return false
		}
		return len(readings.Readings) == 2 && readings.Readings[0].Source == models.SourceLive
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, 23.46, readings.Readings[0].Value)
	assert.Equal(t, models.SourceCache, readings.Readings[1].Source, "snapshot value kept in the store")
	assert.Equal(t, 4.0, readings.Readings[1].Value)

	resp, err := http.Get(base + "/api/history/filple/swim?days=2&mode=max&tz=UTC")
	require.NoError(t, err)
	var history map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	resp.Body.Close()
	assert.Equal(t, "telemetry", history["origin"])

	got := make(chan models.ReadingsMessage, 1)
	sub := client.NewSubscriber(client.SubscriberConfig{URL: "ws://" + ln.Addr().String() + "/ws"}, client.Handlers{
		Readings: func(m models.ReadingsMessage) {
			select {
			case got <- m:
			default:
			}
		},
	}, logger)
	subCtx, stopSub := context.WithCancel(ctx)
	go sub.Run(subCtx)

	select {
	case m := <-got:
		assert.Equal(t, 2, m.Count)
	case <-time.After(5 * time.Second):
		t.Fatal("no readings over the websocket")
	}
	stopSub()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}

	t.Logf("System test passed: %d tiles served", len(readings.Readings))
}
