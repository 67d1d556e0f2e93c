package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/afroash/baeder-monitor/internal/config"
	"github.com/afroash/baeder-monitor/internal/models"
	"github.com/afroash/baeder-monitor/internal/sensor"
)

// APIHandler handles HTTP API requests for the dashboard
type APIHandler struct {
	board    *Board
	history  HistoryProvider
	limits   config.HistorySettings
	location *time.Location
	version  string
	logger   zerolog.Logger

	statsMutex sync.RWMutex
	stats      map[string]StatsFunc
}

// NewAPIHandler creates a new API handler. loc is the default timezone for
// history requests without a tz parameter.
func NewAPIHandler(board *Board, history HistoryProvider, limits config.HistorySettings, loc *time.Location, version string, logger zerolog.Logger) *APIHandler {
	if loc == nil {
		loc = time.Local
	}
	return &APIHandler{
		board:    board,
		history:  history,
		limits:   limits,
		location: loc,
		version:  version,
		logger:   logger,
		stats:    make(map[string]StatsFunc),
	}
}

// AddStats registers a named section of the stats endpoint.
func (api *APIHandler) AddStats(name string, fn StatsFunc) {
	api.statsMutex.Lock()
	defer api.statsMutex.Unlock()
	api.stats[name] = fn
}

type poolView struct {
	PoolStatus
	LastObservedAgo string `json:"last_observed_ago,omitempty"`
}

// HandlePools returns the tile catalog grouped by pool
func (api *APIHandler) HandlePools(w http.ResponseWriter, r *http.Request) {
	pools := api.board.Pools()
	out := make([]poolView, len(pools))
	for i, p := range pools {
		out[i] = poolView{PoolStatus: p}
		if p.LastObservedAt != nil {
			out[i].LastObservedAgo = humanize.Time(*p.LastObservedAt)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleReadings returns the display reading of every tile
func (api *APIHandler) HandleReadings(w http.ResponseWriter, r *http.Request) {
	readings := api.board.Current()
	writeJSON(w, http.StatusOK, models.NewReadingsMessage(readings))
}

// HandleReading returns the display reading of one tile
func (api *APIHandler) HandleReading(w http.ResponseWriter, r *http.Request) {
	id := sensorFromPath(r)
	reading, ok := api.board.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_sensor", "no tile "+id.String())
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// HandleHistory returns the daily average or maximum of one tile
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := sensorFromPath(r)
	binding, ok := api.board.Binding(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_sensor", "no tile "+id.String())
		return
	}

	q := r.URL.Query()

	days := 0
	if s := q.Get("days"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_days", "days must be an integer")
			return
		}
		days = parsed
	}
	days = api.limits.ClampDays(days)

	mode, err := sensor.ParseMode(q.Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_mode", err.Error())
		return
	}

	loc := api.location
	if tz := q.Get("tz"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_timezone", "unknown timezone "+strconv.Quote(tz))
			return
		}
	}

	result := api.history.Daily(r.Context(), sensor.HistoryRequest{
		Binding:  binding,
		Days:     days,
		Mode:     mode,
		Location: loc,
	})

	api.logger.Debug().
		Str("sensor", id.String()).
		Int("days", days).
		Str("mode", string(mode)).
		Str("origin", string(result.Origin)).
		Msg("History served")

	writeJSON(w, http.StatusOK, result)
}

// HandleStats returns board statistics plus every registered section
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	api.statsMutex.RLock()
	names := make([]string, 0, len(api.stats))
	for name := range api.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]StatsFunc, len(names))
	for i, name := range names {
		fns[i] = api.stats[name]
	}
	api.statsMutex.RUnlock()

	out := map[string]any{"board": api.board.Stats()}
	for i, name := range names {
		v, err := fns[i]()
		if err != nil {
			api.logger.Warn().Err(err).Str("section", name).Msg("Stats section failed")
			out[name] = map[string]string{"error": err.Error()}
			continue
		}
		out[name] = v
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleHealth reports liveness and version
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": api.version})
}

func sensorFromPath(r *http.Request) models.SensorID {
	vars := mux.Vars(r)
	return models.SensorID{Pool: vars["pool"], Tile: vars["tile"]}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorMessage{Code: code, Message: message})
}
