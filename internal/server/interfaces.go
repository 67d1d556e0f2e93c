package server

import (
	"context"

	"github.com/afroash/baeder-monitor/internal/sensor"
)

// HistoryProvider computes the daily view of a tile
// sensor.HistoryService implements this interface
type HistoryProvider interface {
	Daily(ctx context.Context, req sensor.HistoryRequest) sensor.HistoryResult
}

// ClientGauge receives the number of connected websocket clients
type ClientGauge interface {
	SetClients(n int)
}

// StatsFunc reports one section of /api/stats
type StatsFunc func() (any, error)
